package postprocess

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when the dimensions of a raw output tensor do
// not match the configured anchor layout of the model
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense float32 output tensor produced by a model backend
type Tensor struct {
	// Shape are the tensor dimensions, eg: [1, 84, 8400]
	Shape []int
	// Data is the row-major backing buffer of the tensor
	Data []float32
}

// NewTensor returns a Tensor with the given shape backed by data
func NewTensor(data []float32, shape ...int) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// Elements returns the number of elements described by the tensor shape
func (t Tensor) Elements() int {

	if len(t.Shape) == 0 {
		return 0
	}

	n := 1

	for _, d := range t.Shape {
		n *= d
	}

	return n
}

// check verifies the backing buffer is the size the shape describes
func (t Tensor) check(idx int) error {

	if t.Elements() != len(t.Data) {
		return errors.Wrapf(ErrShapeMismatch, "output %d has shape %v (%d elements) but buffer holds %d values",
			idx, t.Shape, t.Elements(), len(t.Data))
	}

	return nil
}

// String returns the tensor shape in readable form
func (t Tensor) String() string {
	return fmt.Sprintf("tensor%v", t.Shape)
}

// Box is a bounding box in input image pixel space given by its top left
// (X1,Y1) and bottom right (X2,Y2) corners
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

// Width of the box, negative widths are treated as zero
func (b Box) Width() float32 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height of the box, negative heights are treated as zero
func (b Box) Height() float32 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area of the box
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// CandidateArrays are the decoded per anchor outputs of a model. All slices
// are aligned to the same anchor index.
type CandidateArrays struct {
	// Boxes are the decoded box corners
	Boxes []Box
	// ClassScores holds the per class score vector of each box
	ClassScores [][]float32
	// Objectness is the class independent confidence of each box, it is 1.0
	// for exports without an objectness channel
	Objectness []float32
}

// Len returns the number of anchors decoded
func (c CandidateArrays) Len() int {
	return len(c.Boxes)
}

// add appends a single anchor to the arrays
func (c *CandidateArrays) add(box Box, scores []float32, obj float32) {
	c.Boxes = append(c.Boxes, box)
	c.ClassScores = append(c.ClassScores, scores)
	c.Objectness = append(c.Objectness, obj)
}

// Candidate is a single box that survived confidence filtering
type Candidate struct {
	Box Box
	// Class is the index into the class catalog of the best scoring class
	Class int
	// Score is objectness multiplied by the best class score
	Score float32
}

// DetectionSet is the final list of detections for an image. Detections are
// grouped by class in the order classes were first seen and ordered by
// descending score within each class.
type DetectionSet []Candidate

// Empty reports whether the set holds no detections
func (d DetectionSet) Empty() bool {
	return len(d) == 0
}
