// Package onnx runs exported YOLO graphs with onnxruntime.
package onnx

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/postprocess"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// Options configure an onnxruntime Model
type Options struct {
	// LibraryPath is the onnxruntime shared library to load, when empty the
	// onnxruntime_go default search is used
	LibraryPath string
	// Width and Height fill dynamic spatial input dimensions
	Width  int
	Height int
	// IntraOpThreads is the number of threads used inside graph nodes, 0
	// leaves the onnxruntime default
	IntraOpThreads int
}

var (
	// envMu guards the process wide onnxruntime environment shared by every
	// Model
	envMu sync.Mutex
	// envRefs counts open Models, the environment is destroyed when it
	// returns to zero
	envRefs int
)

// acquireEnvironment initializes the onnxruntime environment on first use
func acquireEnvironment(libPath string) error {

	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}

		err := ort.InitializeEnvironment()

		if err != nil {
			return errors.Wrap(err, "error initializing onnxruntime environment")
		}
	}

	envRefs++

	return nil
}

// releaseEnvironment destroys the onnxruntime environment after the last
// Model is closed
func releaseEnvironment() error {

	envMu.Lock()
	defer envMu.Unlock()

	envRefs--

	if envRefs > 0 {
		return nil
	}

	envRefs = 0

	return ort.DestroyEnvironment()
}

// Model is an onnxruntime session for a single image input graph
type Model struct {
	session *ort.DynamicAdvancedSession
	input   ort.InputOutputInfo
	outputs []ort.InputOutputInfo
	// inputShape is the NCHW input shape with dynamic dimensions resolved
	inputShape ort.Shape
	close      sync.Once
}

// NewModel loads the ONNX graph at modelFile
func NewModel(modelFile string, opts Options) (*Model, error) {

	err := acquireEnvironment(opts.LibraryPath)

	if err != nil {
		return nil, err
	}

	m, err := newModel(modelFile, opts)

	if err != nil {
		releaseEnvironment()
		return nil, err
	}

	return m, nil
}

func newModel(modelFile string, opts Options) (*Model, error) {

	inputs, outputs, err := ort.GetInputOutputInfo(modelFile)

	if err != nil {
		return nil, errors.Wrapf(err, "error reading model info from %s", modelFile)
	}

	if len(inputs) != 1 {
		return nil, errors.Errorf("model has %d inputs, expected a single image input",
			len(inputs))
	}

	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}

	input := inputs[0]

	if !supportedType(input.DataType) {
		return nil, errors.Errorf("input %s has unsupported data type %v",
			input.Name, input.DataType)
	}

	for _, out := range outputs {
		if !supportedType(out.DataType) {
			return nil, errors.Errorf("output %s has unsupported data type %v",
				out.Name, out.DataType)
		}
	}

	shape, err := resolveInputShape(input.Dimensions, opts.Width, opts.Height)

	if err != nil {
		return nil, err
	}

	sessionOptions, err := ort.NewSessionOptions()

	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}

	defer sessionOptions.Destroy()

	if opts.IntraOpThreads > 0 {
		err = sessionOptions.SetIntraOpNumThreads(opts.IntraOpThreads)

		if err != nil {
			return nil, errors.Wrap(err, "error setting intra op threads")
		}
	}

	outNames := make([]string, len(outputs))

	for i, out := range outputs {
		outNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelFile,
		[]string{input.Name}, outNames, sessionOptions)

	if err != nil {
		return nil, errors.Wrapf(err, "error creating session for %s", modelFile)
	}

	return &Model{
		session:    session,
		input:      input,
		outputs:    outputs,
		inputShape: shape,
	}, nil
}

// InputSize returns the width and height of the model input
func (m *Model) InputSize() (width, height int) {
	return int(m.inputShape[3]), int(m.inputShape[2])
}

// Run normalizes the RGB image into an NCHW tensor, runs the session and
// returns the outputs as float32 tensors
func (m *Model) Run(img gocv.Mat) ([]postprocess.Tensor, error) {

	width, height := m.InputSize()

	pixels, err := imageToNCHW(img, width, height)

	if err != nil {
		return nil, err
	}

	input, err := newInputValue(m.inputShape, m.input.DataType, pixels)

	if err != nil {
		return nil, err
	}

	defer input.Destroy()

	outputs, err := m.newOutputValues()

	if err != nil {
		return nil, err
	}

	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	err = m.session.Run([]ort.Value{input}, outputs)

	if err != nil {
		return nil, errors.Wrap(err, "error running session")
	}

	tensors := make([]postprocess.Tensor, len(outputs))

	for i, out := range outputs {
		tensors[i], err = valueToTensor(out)

		if err != nil {
			return nil, errors.Wrapf(err, "output %s", m.outputs[i].Name)
		}
	}

	return tensors, nil
}

// newOutputValues allocates fp16 outputs up front as onnxruntime_go can only
// allocate float32 outputs itself, static float32 outputs are allocated too
func (m *Model) newOutputValues() ([]ort.Value, error) {

	outputs := make([]ort.Value, len(m.outputs))

	for i, info := range m.outputs {

		if !isStatic(info.Dimensions) {
			if info.DataType == ort.TensorElementDataTypeFloat16 {
				return nil, errors.Errorf("output %s has dynamic shape %v with fp16 data",
					info.Name, info.Dimensions)
			}
			// allocated by the session
			continue
		}

		var (
			val ort.Value
			err error
		)

		if info.DataType == ort.TensorElementDataTypeFloat16 {
			val, err = ort.NewCustomDataTensor(info.Dimensions,
				make([]byte, 2*info.Dimensions.FlattenedSize()),
				ort.TensorElementDataTypeFloat16)
		} else {
			val, err = ort.NewEmptyTensor[float32](info.Dimensions)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "error allocating output %s", info.Name)
		}

		outputs[i] = val
	}

	return outputs, nil
}

// Close destroys the session, releasing the environment with the last Model
func (m *Model) Close() error {

	var err error

	m.close.Do(func() {
		err = m.session.Destroy()

		if envErr := releaseEnvironment(); err == nil {
			err = envErr
		}
	})

	return err
}

// imageToNCHW scales the RGB image pixels to [0,1] and reorders them from
// HWC to CHW
func imageToNCHW(img gocv.Mat, width, height int) ([]float32, error) {

	if img.Cols() != width || img.Rows() != height || img.Channels() != 3 {
		return nil, errors.Errorf("input image is %dx%dx%d, model expects %dx%dx3",
			img.Cols(), img.Rows(), img.Channels(), width, height)
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(width, height),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()

	if err != nil {
		return nil, errors.Wrap(err, "error getting blob data")
	}

	pixels := make([]float32, len(data))
	copy(pixels, data)

	return pixels, nil
}
