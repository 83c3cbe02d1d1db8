package detector

import (
	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/postprocess"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the settings of a detection run.  It is populated once at
// startup and not modified after the Runner is created.
type Config struct {
	// ModelPath is the model file, its extension selects the backend
	ModelPath string
	// LabelsFile is an optional file of class names, one per line.  When
	// empty the built in COCO classes are used
	LabelsFile string

	// ObjThreshold is the minimum confidence a candidate needs to be kept
	ObjThreshold float32
	// NMSThreshold is the IoU above which a lower scoring box of the same
	// class is suppressed
	NMSThreshold float32
	// Width and Height are the model input size in pixels
	Width  int
	Height int
	// Encoding is the output tensor layout, EncodingAuto detects it from the
	// tensor shapes
	Encoding postprocess.Encoding
	// DFLBins is the number of distribution bins per box side in grid
	// outputs
	DFLBins int
	// ScoreActivation is applied to raw class scores before filtering
	ScoreActivation postprocess.Activation
	// MaxDetections caps the detections kept per image, 0 is unlimited
	MaxDetections int

	// Workers is the number of images processed concurrently, each worker
	// owns one model instance.  Output order always follows input order
	Workers int

	// Platform is the Rockchip platform used to assign NPU cores to workers
	Platform string
	// NPUCore pins every worker to one NPU core selection, overriding the
	// platform round robin when set
	NPUCore string
	// Quantized fetches native int8/fp16 NPU outputs and dequantizes them
	// in Go instead of in the RKNN runtime
	Quantized bool
	// CPUAffinity pins the process to the platform's fast, slow or all CPU
	// cores when set
	CPUAffinity string

	// ONNXLibrary is the path of the onnxruntime shared library
	ONNXLibrary string
	// Threads is the number of intra op threads used by onnxruntime, 0 is
	// the runtime default
	Threads int

	// ImgSave writes an annotated copy of each image to ResultDir
	ImgSave bool
	// ImgOverwrite replaces each source image with its annotated copy
	ImgOverwrite bool
	// ImgShow displays each annotated image and waits for a key press
	ImgShow bool
	// ResultDir is where annotated copies are saved, created on demand
	ResultDir string
}

// DefaultConfig returns the settings of a COCO trained 640x640 YOLO model
// run sequentially on an RK3588
func DefaultConfig() Config {

	p := postprocess.COCOParams()

	return Config{
		ObjThreshold:    p.ObjThreshold,
		NMSThreshold:    p.NMSThreshold,
		Width:           p.Width,
		Height:          p.Height,
		Encoding:        postprocess.EncodingAuto,
		DFLBins:         p.DFLBins,
		ScoreActivation: postprocess.ActivationNone,
		Workers:         1,
		Platform:        "rk3588",
		ResultDir:       "./result",
	}
}

// Params returns the post processing parameters for a model trained on the
// given number of classes.  Grid branches default to strides 8, 16 and 32 of
// the input size.
func (c Config) Params(classes int) postprocess.Params {

	return postprocess.Params{
		ObjThreshold:    c.ObjThreshold,
		NMSThreshold:    c.NMSThreshold,
		ObjectClassNum:  classes,
		DFLBins:         c.DFLBins,
		Width:           c.Width,
		Height:          c.Height,
		Encoding:        c.Encoding,
		ScoreActivation: c.ScoreActivation,
		MaxObjectNumber: c.MaxDetections,
	}
}

// Validate checks the settings are usable before any model is loaded
func (c Config) Validate() error {

	if c.ModelPath == "" {
		return errors.Wrap(ErrInvalidConfig, "model path is required")
	}

	if c.Workers < 1 {
		return errors.Wrapf(ErrInvalidConfig, "workers must be at least 1, got %d", c.Workers)
	}

	if c.ImgSave && c.ResultDir == "" {
		return errors.Wrap(ErrInvalidConfig, "result directory is required to save images")
	}

	if c.Threads < 0 {
		return errors.Wrapf(ErrInvalidConfig, "threads must not be negative, got %d", c.Threads)
	}

	// class count is only known once labels load, any positive value checks
	// the remaining parameters
	if err := c.Params(1).Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}
