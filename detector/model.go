package detector

import (
	"github.com/swdee/yolo-detect/postprocess"
	"gocv.io/x/gocv"
)

// Model is an inference backend.  Run receives an RGB image at the model
// input size and returns the raw output tensors.
type Model interface {
	Run(img gocv.Mat) ([]postprocess.Tensor, error)
	Close() error
}

// ModelFactory opens the model for the given worker index
type ModelFactory func(worker int) (Model, error)
