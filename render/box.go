package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/swdee/yolo-detect/postprocess/result"
	"gocv.io/x/gocv"
)

// minLabelY is the lowest baseline a label is drawn at so text above a box
// touching the top edge stays on the canvas
const minLabelY = 10

// Detections renders the bounding boxes and labels of the detection records
// on the image
func Detections(img *gocv.Mat, records []result.Record, font Font,
	lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(records))

	for _, rec := range records {

		useClr := ClassColor(rec.Class)

		// draw rectangle around detected object
		rect := image.Rect(rec.Left(), rec.Top(), rec.Right(), rec.Bottom())
		gocv.Rectangle(img, rect, useClr, lineThickness)

		text := LabelText(rec)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

		boxLabels = append(boxLabels, placeLabel(rec, text, textSize, useClr,
			font, lineThickness))
	}

	// draw the labels last so they sit on top of every rectangle
	for _, box := range boxLabels {
		gocv.Rectangle(img, box.rect, box.clr, -1)

		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}

// LabelText returns the text drawn above a detection box
func LabelText(rec result.Record) string {
	return fmt.Sprintf("%s %.2f", rec.Object, rec.Probability)
}

// ClassColor returns the palette colour used for the class index
func ClassColor(class int) color.RGBA {

	if class < 0 {
		class = -class
	}

	return classColors[class%len(classColors)]
}

// boxLabel holds the precalculated drawing details of a label
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// placeLabel calculates where the label text and its background box go for
// the record
func placeLabel(rec result.Record, text string, textSize image.Point,
	clr color.RGBA, font Font, lineThickness int) boxLabel {

	var left int

	switch font.Alignment {
	case Center:
		left = (rec.Left()+rec.Right())/2 - textSize.X/2

	case Right:
		left = rec.Right() - textSize.X - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		left = rec.Left()
	}

	baseline := rec.Top() - font.BottomPad

	if baseline < minLabelY {
		baseline = minLabelY
	}

	return boxLabel{
		rect: image.Rect(left-font.LeftPad, baseline-textSize.Y-font.TopPad,
			left+textSize.X+font.RightPad, baseline+font.BottomPad),
		clr:     clr,
		text:    text,
		textPos: image.Pt(left, baseline),
	}
}
