// Package backend chooses the inference runtime for a model file by its
// extension and opens models for the detector pool.
package backend

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/cvdnn"
	"github.com/swdee/yolo-detect/detector"
	"github.com/swdee/yolo-detect/onnx"
	"github.com/swdee/yolo-detect/rknn"
)

// Kind identifies an inference runtime
type Kind int

const (
	// RKNN runs compiled models on the Rockchip NPU
	RKNN Kind = iota + 1
	// ONNX runs exported graphs with onnxruntime
	ONNX
	// CVDNN runs training framework models with the OpenCV DNN module
	CVDNN
)

// ErrUnsupportedModel is returned for model files with an unknown extension
var ErrUnsupportedModel = errors.New("unsupported model file extension")

// extensions maps lower case model file extensions to their runtime
var extensions = map[string]Kind{
	".rknn":        RKNN,
	".onnx":        ONNX,
	".pt":          CVDNN,
	".torchscript": CVDNN,
	".t7":          CVDNN,
	".net":         CVDNN,
}

func (k Kind) String() string {
	switch k {
	case RKNN:
		return "rknn"
	case ONNX:
		return "onnx"
	case CVDNN:
		return "opencv-dnn"
	default:
		return "unknown"
	}
}

// Select returns the runtime for the model file
func Select(modelFile string) (Kind, error) {

	ext := strings.ToLower(filepath.Ext(modelFile))

	kind, ok := extensions[ext]

	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedModel, "%q in %s", ext, modelFile)
	}

	return kind, nil
}

// NewFactory returns a detector.ModelFactory opening the configured model
// with the runtime its extension selects.  Workers on the NPU are pinned to
// the platform cores round robin.
func NewFactory(cfg detector.Config) (detector.ModelFactory, Kind, error) {

	kind, err := Select(cfg.ModelPath)

	if err != nil {
		return nil, 0, err
	}

	switch kind {
	case RKNN:
		return rknnFactory(cfg)

	case ONNX:
		factory := func(int) (detector.Model, error) {
			return onnx.NewModel(cfg.ModelPath, onnx.Options{
				LibraryPath:    cfg.ONNXLibrary,
				Width:          cfg.Width,
				Height:         cfg.Height,
				IntraOpThreads: cfg.Threads,
			})
		}
		return factory, kind, nil

	default:
		factory := func(int) (detector.Model, error) {
			return cvdnn.NewModel(cfg.ModelPath, cfg.Width, cfg.Height)
		}
		return factory, kind, nil
	}
}

// rknnFactory resolves the NPU core assignment up front so a bad platform or
// core setting fails before any model loads
func rknnFactory(cfg detector.Config) (detector.ModelFactory, Kind, error) {

	var cores []rknn.CoreMask

	if cfg.NPUCore != "" {
		core, err := rknn.ParseCoreMask(cfg.NPUCore)

		if err != nil {
			return nil, 0, err
		}

		cores = []rknn.CoreMask{core}

	} else {
		var err error
		cores, err = rknn.PlatformCores(cfg.Platform)

		if err != nil {
			return nil, 0, err
		}
	}

	if cfg.CPUAffinity != "" {
		ct, err := rknn.ParseCoreType(cfg.CPUAffinity)

		if err != nil {
			return nil, 0, err
		}

		err = rknn.SetCPUAffinityByPlatform(cfg.Platform, ct)

		if err != nil {
			return nil, 0, errors.Wrap(err, "error setting cpu affinity")
		}
	}

	factory := func(worker int) (detector.Model, error) {
		return rknn.NewRuntime(cfg.ModelPath, rknn.WorkerCore(cores, worker),
			cfg.Quantized)
	}

	return factory, RKNN, nil
}
