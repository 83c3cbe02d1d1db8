// Package result converts a DetectionSet into the JSON records written for
// each processed image.
package result

import (
	"encoding/json"
	"io"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/labels"
	"github.com/swdee/yolo-detect/postprocess"
)

// Record is a single detection clipped to the image bounds
type Record struct {
	// Object is the class name from the label catalog
	Object string `json:"object"`
	// Box is the left, top, right and bottom pixel coordinates
	Box [4]int `json:"box"`
	// Probability is the detection confidence
	Probability float32 `json:"probability"`
	// Class is the class index, used for picking draw colours
	Class int `json:"-"`
}

// Left returns the left edge of the box
func (r Record) Left() int { return r.Box[0] }

// Top returns the top edge of the box
func (r Record) Top() int { return r.Box[1] }

// Right returns the right edge of the box
func (r Record) Right() int { return r.Box[2] }

// Bottom returns the bottom edge of the box
func (r Record) Bottom() int { return r.Box[3] }

// ImageResult is the JSON object emitted per image
type ImageResult struct {
	Image      string   `json:"image"`
	Detections []Record `json:"detections"`
}

// Format clips each detection to [0,width]x[0,height], truncates the
// coordinates to integers and drops boxes that become empty.  The returned
// slice is never nil.
func Format(set postprocess.DetectionSet, catalog labels.Catalog,
	width, height int) []Record {

	recs := make([]Record, 0, len(set))

	w := float32(width)
	h := float32(height)

	for _, det := range set {

		left := int(clip(det.Box.X1, w))
		top := int(clip(det.Box.Y1, h))
		right := int(clip(det.Box.X2, w))
		bottom := int(clip(det.Box.Y2, h))

		if right <= left || bottom <= top {
			continue
		}

		recs = append(recs, Record{
			Object:      catalog.Name(det.Class),
			Box:         [4]int{left, top, right, bottom},
			Probability: det.Score,
			Class:       det.Class,
		})
	}

	return recs
}

// Describe builds the ImageResult for the image at path
func Describe(path string, set postprocess.DetectionSet,
	catalog labels.Catalog, width, height int) ImageResult {

	return ImageResult{
		Image:      path,
		Detections: Format(set, catalog, width, height),
	}
}

// Write encodes the result as a single JSON line
func (r ImageResult) Write(w io.Writer) error {

	if r.Detections == nil {
		r.Detections = []Record{}
	}

	err := json.NewEncoder(w).Encode(r)

	if err != nil {
		return errors.Wrapf(err, "error writing result for %s", r.Image)
	}

	return nil
}

// clip limits v to the range [0,max]
func clip(v, max float32) float32 {
	return math32.Min(math32.Max(v, 0), max)
}
