// Package labels provides the ordered class name catalog a Model was trained
// with.
package labels

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Catalog is the fixed ordered list of class names, addressed by class index
type Catalog []string

// coco are the 80 class names of the COCO dataset in training index order
var coco = Catalog{
	"person", "bicycle", "car", "motorbike", "aeroplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "sofa",
	"pottedplant", "bed", "diningtable", "toilet", "tvmonitor", "laptop", "mouse", "remote", "keyboard",
	"cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}

// COCO returns a copy of the built in COCO class catalog
func COCO() Catalog {
	c := make(Catalog, len(coco))
	copy(c, coco)
	return c
}

// Name returns the class name at index id, or the decimal id when the index
// is outside the catalog
func (c Catalog) Name(id int) string {

	if id < 0 || id >= len(c) {
		return strconv.Itoa(id)
	}

	return c[id]
}

// Len returns the number of classes in the catalog
func (c Catalog) Len() int {
	return len(c)
}

// Load reads the labels used to train the Model from the given text file.
// It should contain one label per line, blank lines are skipped.
func Load(file string) (Catalog, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, errors.Wrapf(err, "error opening labels file %s", file)
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels Catalog

	// read and trim each line
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		labels = append(labels, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading labels file %s", file)
	}

	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s holds no labels", file)
	}

	return labels, nil
}
