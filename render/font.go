package render

import (
	"image/color"

	"gocv.io/x/gocv"
)

// Alignment of a label relative to its detection box
type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines how detection labels are drawn with GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// LeftPad, RightPad and TopPad size the filled label background around
	// the text
	LeftPad  int
	RightPad int
	TopPad   int
	// BottomPad is the gap between the text baseline and the top edge of
	// the box, the label baseline sits at top-BottomPad
	BottomPad int
	// Alignment of the label along the top edge of the box
	Alignment Alignment
}

// DefaultFont returns the label font, white text drawn 6 pixels above the
// left end of the box top edge
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   2,
		RightPad:  2,
		TopPad:    3,
		BottomPad: 6,
		Alignment: Left,
	}
}
