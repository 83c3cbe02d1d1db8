package postprocess

import (
	"strings"

	"github.com/pkg/errors"
)

// Encoding defines how the raw output tensor of a model encodes its boxes
type Encoding int

const (
	// EncodingAuto picks the encoding from the shape of the outputs
	EncodingAuto Encoding = 0
	// EncodingGridDFL is the anchor free grid output where each cell holds
	// distribution focal loss bins for the 4 box sides followed by class scores
	EncodingGridDFL Encoding = 1
	// EncodingFlat is the flattened per anchor output holding center form
	// boxes in pixel space followed by class scores
	EncodingFlat Encoding = 2
)

// String returns the name of the encoding
func (e Encoding) String() string {
	switch e {
	case EncodingAuto:
		return "auto"
	case EncodingGridDFL:
		return "grid-dfl"
	case EncodingFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// ParseEncoding converts an encoding name to an Encoding
func ParseEncoding(s string) (Encoding, error) {

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "grid-dfl", "grid", "dfl":
		return EncodingGridDFL, nil
	case "flat", "flattened":
		return EncodingFlat, nil
	default:
		return EncodingAuto, errors.Errorf("unknown encoding %q, use auto|grid-dfl|flat", s)
	}
}

// Activation is applied to raw class scores before they are filtered
type Activation int

const (
	// ActivationNone uses class scores as output by the model
	ActivationNone Activation = 0
	// ActivationSigmoid applies the logistic function to each class score
	ActivationSigmoid Activation = 1
)

// String returns the name of the activation
func (a Activation) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "unknown"
	}
}

// ParseActivation converts an activation name to an Activation
func ParseActivation(s string) (Activation, error) {

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ActivationNone, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	default:
		return ActivationNone, errors.Errorf("unknown score activation %q, use none|sigmoid", s)
	}
}

// Branch is the grid size of one output scale of a grid encoded model
type Branch struct {
	GridH int
	GridW int
}

// Cells returns the number of grid cells in the branch
func (b Branch) Cells() int {
	return b.GridH * b.GridW
}

// Params defines the struct containing the parameters to use for post
// processing operations
type Params struct {
	// ObjThreshold is the minimum confidence (objectness multiplied by best
	// class score) required for a box to be kept
	ObjThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes of the same class for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// DFLBins is the number of distribution focal loss bins per box side used
	// by grid encoded models
	DFLBins int
	// Width and Height are the model input size in pixels
	Width  int
	Height int
	// Branches are the grid sizes used to split a single flattened grid
	// encoded output into its output scales
	Branches []Branch
	// Encoding of the model output
	Encoding Encoding
	// ScoreActivation is applied to class scores before filtering
	ScoreActivation Activation
	// MaxObjectNumber is the maximum number of detections returned per image,
	// zero means no limit
	MaxObjectNumber int
}

// DefaultBranches returns the stride 8, 16 and 32 grids for the given input
// size
func DefaultBranches(width, height int) []Branch {

	strides := []int{8, 16, 32}
	branches := make([]Branch, 0, len(strides))

	for _, s := range strides {
		branches = append(branches, Branch{GridH: height / s, GridW: width / s})
	}

	return branches
}

// COCOParams returns an instance of Params configured with default values
// for a YOLOv8 style Model trained on the COCO dataset featuring:
// - Object Classes: 80
// - Object Threshold: 0.25
// - NMS Threshold: 0.45
// - Input Size: 640x640
// - DFL Bins: 16
func COCOParams() Params {
	return Params{
		ObjThreshold:   0.25,
		NMSThreshold:   0.45,
		ObjectClassNum: 80,
		DFLBins:        16,
		Width:          640,
		Height:         640,
		Branches:       DefaultBranches(640, 640),
		Encoding:       EncodingAuto,
	}
}

// Validate checks the parameters are usable for post processing
func (p Params) Validate() error {

	if p.ObjThreshold < 0 || p.ObjThreshold > 1 {
		return errors.Errorf("object threshold %v must be within [0,1]", p.ObjThreshold)
	}

	if p.NMSThreshold < 0 || p.NMSThreshold > 1 {
		return errors.Errorf("nms threshold %v must be within [0,1]", p.NMSThreshold)
	}

	if p.ObjectClassNum <= 0 {
		return errors.Errorf("object class number %d must be positive", p.ObjectClassNum)
	}

	if p.Width <= 0 || p.Height <= 0 {
		return errors.Errorf("input size %dx%d must be positive", p.Width, p.Height)
	}

	if p.Encoding != EncodingFlat && p.DFLBins <= 0 {
		return errors.Errorf("dfl bins %d must be positive", p.DFLBins)
	}

	if p.MaxObjectNumber < 0 {
		return errors.Errorf("max object number %d must not be negative", p.MaxObjectNumber)
	}

	for i, b := range p.Branches {
		if b.GridH <= 0 || b.GridW <= 0 {
			return errors.Errorf("branch %d grid %dx%d must be positive", i, b.GridH, b.GridW)
		}
	}

	return nil
}

// totalCells returns the number of anchors across all configured branches
func (p Params) totalCells() int {

	n := 0

	for _, b := range p.Branches {
		n += b.Cells()
	}

	return n
}
