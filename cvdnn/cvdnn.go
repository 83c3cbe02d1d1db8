// Package cvdnn runs Torch models through the OpenCV DNN module.
package cvdnn

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/postprocess"
	"gocv.io/x/gocv"
)

// ErrLoad is returned when OpenCV can not read the model file
var ErrLoad = errors.New("opencv dnn could not load torch model")

// Model is an OpenCV DNN network loaded with the Torch importer
type Model struct {
	net      gocv.Net
	outNames []string
	width    int
	height   int
}

// NewModel loads the Torch model file, inputs are expected at width x height
func NewModel(modelFile string, width, height int) (*Model, error) {

	info, err := os.Stat(modelFile)

	if err != nil {
		return nil, errors.Wrapf(err, "model file does not exist at %s", modelFile)
	}

	if info.IsDir() {
		return nil, errors.Errorf("model file %s is a directory", modelFile)
	}

	net := gocv.ReadNetFromTorch(modelFile)

	if net.Empty() {
		net.Close()
		return nil, loadError(modelFile)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "error setting dnn backend")
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "error setting dnn target")
	}

	return &Model{
		net:      net,
		outNames: outputNames(net.GetLayerNames(), net.GetUnconnectedOutLayers()),
		width:    width,
		height:   height,
	}, nil
}

// outputNames maps the 1 based unconnected output layer ids to layer names
func outputNames(names []string, ids []int) []string {

	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id >= 1 && id <= len(names) {
			out = append(out, names[id-1])
		}
	}

	return out
}

// Run forwards the RGB image through the network and returns every output
// layer as a float32 tensor
func (m *Model) Run(img gocv.Mat) ([]postprocess.Tensor, error) {

	if img.Cols() != m.width || img.Rows() != m.height {
		return nil, errors.Errorf("input image is %dx%d, model expects %dx%d",
			img.Cols(), img.Rows(), m.width, m.height)
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(m.width, m.height),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.net.SetInput(blob, "")

	var outs []gocv.Mat

	if len(m.outNames) > 0 {
		outs = m.net.ForwardLayers(m.outNames)
	} else {
		outs = []gocv.Mat{m.net.Forward("")}
	}

	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	tensors := make([]postprocess.Tensor, len(outs))

	for i, out := range outs {

		data, err := out.DataPtrFloat32()

		if err != nil {
			return nil, errors.Wrapf(err, "error reading output %d", i)
		}

		buf := make([]float32, len(data))
		copy(buf, data)

		tensors[i] = postprocess.NewTensor(buf, out.Size()...)
	}

	return tensors, nil
}

// Close releases the network
func (m *Model) Close() error {
	return m.net.Close()
}

// loadError explains a failed load, the importer only reads Torch7
// serialised networks so TorchScript exports never load
func loadError(modelFile string) error {

	switch strings.ToLower(filepath.Ext(modelFile)) {
	case ".pt", ".torchscript":
		return errors.Wrapf(ErrLoad, "%s is a TorchScript export, only Torch7 (.t7, .net) models "+
			"are supported, export the model to ONNX instead", modelFile)
	}

	return errors.Wrapf(ErrLoad, "%s is not a Torch7 model", modelFile)
}
