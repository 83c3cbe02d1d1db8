package postprocess

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

// gridParams returns parameters for a small single scale grid model
func gridParams(classes, bins int) Params {
	return Params{
		ObjThreshold:   0.25,
		NMSThreshold:   0.45,
		ObjectClassNum: classes,
		DFLBins:        bins,
		Width:          64,
		Height:         64,
		Branches:       []Branch{{GridH: 2, GridW: 2}},
		Encoding:       EncodingGridDFL,
	}
}

// setCell sets a channel value of a [1 C H W] tensor at the given cell
func setCell(t Tensor, ch, row, col int, val float32) {
	h, w := t.Shape[2], t.Shape[3]
	t.Data[ch*h*w+row*w+col] = val
}

// boxesEqual compares boxes allowing for float rounding
func boxesEqual(a, b Box, epsilon float32) bool {
	diff := func(x, y float32) bool {
		d := x - y
		return d > epsilon || d < -epsilon
	}
	return !diff(a.X1, b.X1) && !diff(a.Y1, b.Y1) && !diff(a.X2, b.X2) && !diff(a.Y2, b.Y2)
}

func TestDecodeGridDFLBinRoundTrip(t *testing.T) {

	const (
		classes = 2
		bins    = 16
	)

	tests := []struct {
		name     string
		bin      int
		row, col int
		expected Box
	}{
		// distance 0 on every side collapses the box onto the cell center
		{"first bin", 0, 1, 0, Box{X1: 16, Y1: 48, X2: 16, Y2: 48}},
		// distance of 15 grid units on every side, stride 32
		{"last bin", bins - 1, 1, 0, Box{X1: -464, Y1: -432, X2: 496, Y2: 528}},
		{"last bin other cell", bins - 1, 0, 1, Box{X1: -432, Y1: -464, X2: 528, Y2: 496}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {

			channels := 4*bins + classes
			out := NewTensor(make([]float32, channels*2*2), 1, channels, 2, 2)

			for side := 0; side < 4; side++ {
				setCell(out, side*bins+tc.bin, tc.row, tc.col, 100)
			}

			arrays, err := NewDecoder(gridParams(classes, bins)).Decode([]Tensor{out})

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if arrays.Len() != 4 {
				t.Fatalf("expected 4 anchors, got %d", arrays.Len())
			}

			got := arrays.Boxes[tc.row*2+tc.col]

			if !boxesEqual(got, tc.expected, 1e-3) {
				t.Errorf("expected box %+v, got %+v", tc.expected, got)
			}

			if arrays.Objectness[tc.row*2+tc.col] != 1 {
				t.Errorf("expected implicit objectness 1.0, got %f", arrays.Objectness[0])
			}
		})
	}
}

func TestDecodeGridFlattenedBranches(t *testing.T) {

	const (
		classes = 3
		bins    = 16
	)

	p := gridParams(classes, bins)
	p.Branches = []Branch{{GridH: 4, GridW: 4}, {GridH: 2, GridW: 2}}

	channels := 4*bins + classes
	n := 16 + 4
	out := NewTensor(make([]float32, channels*n), 1, channels, n)

	// class 2 score of the first cell of the second branch
	out.Data[(4*bins+2)*n+16] = 0.7

	arrays, err := NewDecoder(p).Decode([]Tensor{out})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arrays.Len() != n {
		t.Fatalf("expected %d anchors, got %d", n, arrays.Len())
	}

	// uniform logits give the same distance on each side so the box is
	// centered on the cell center
	centers := []struct {
		anchor int
		x, y   float32
	}{
		{0, 8, 8},    // stride 16, cell (0,0)
		{5, 24, 24},  // stride 16, cell (1,1)
		{16, 16, 16}, // stride 32, cell (0,0)
		{19, 48, 48}, // stride 32, cell (1,1)
	}

	for _, c := range centers {
		b := arrays.Boxes[c.anchor]
		cx, cy := (b.X1+b.X2)/2, (b.Y1+b.Y2)/2

		if cx != c.x || cy != c.y {
			t.Errorf("anchor %d expected center (%f,%f), got (%f,%f)", c.anchor, c.x, c.y, cx, cy)
		}
	}

	if got := arrays.ClassScores[16][2]; got != 0.7 {
		t.Errorf("expected class score 0.7 at anchor 16, got %f", got)
	}
}

func TestDecodeGridSplitOutputsScoreSum(t *testing.T) {

	const (
		classes = 2
		bins    = 4
	)

	box := NewTensor(make([]float32, 4*bins*4), 1, 4*bins, 2, 2)
	cls := NewTensor(make([]float32, classes*4), 1, classes, 2, 2)
	sum := NewTensor(make([]float32, 4), 1, 1, 2, 2)

	setCell(cls, 1, 0, 1, 0.8)
	setCell(sum, 0, 0, 1, 0.8)

	p := gridParams(classes, bins)

	arrays, err := NewDecoder(p).Decode([]Tensor{box, cls, sum})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arrays.Len() != 1 {
		t.Fatalf("expected cells below the score sum threshold to be skipped, got %d anchors", arrays.Len())
	}

	if arrays.ClassScores[0][1] != 0.8 {
		t.Errorf("expected class 1 score 0.8, got %f", arrays.ClassScores[0][1])
	}

	// without the score sum tensor every cell is decoded
	arrays, err = NewDecoder(p).Decode([]Tensor{box, cls})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arrays.Len() != 4 {
		t.Errorf("expected 4 anchors, got %d", arrays.Len())
	}
}

func TestDecodeFlat(t *testing.T) {

	const classes = 3

	p := COCOParams()
	p.ObjectClassNum = classes
	p.Encoding = EncodingFlat

	// anchor values: cx, cy, w, h, class scores
	anchors := [][]float32{
		{100, 50, 20, 10, 0.1, 0.2, 0.3},
		{10, 10, 4, 8, 0.9, 0, 0},
	}

	expected := []Box{
		{X1: 90, Y1: 45, X2: 110, Y2: 55},
		{X1: 8, Y1: 6, X2: 12, Y2: 14},
	}

	width := 4 + classes
	n := len(anchors)

	channelMajor := make([]float32, width*n)
	anchorMajor := make([]float32, width*n)

	for a, vals := range anchors {
		for ch, v := range vals {
			channelMajor[ch*n+a] = v
			anchorMajor[a*width+ch] = v
		}
	}

	tests := []struct {
		name string
		out  Tensor
	}{
		{"channel major", NewTensor(channelMajor, 1, width, n)},
		{"anchor major", NewTensor(anchorMajor, 1, n, width)},
		{"anchor major 2d", NewTensor(anchorMajor, n, width)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {

			arrays, err := NewDecoder(p).Decode([]Tensor{tc.out})

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if arrays.Len() != n {
				t.Fatalf("expected %d anchors, got %d", n, arrays.Len())
			}

			for i, exp := range expected {
				if !boxesEqual(arrays.Boxes[i], exp, 1e-5) {
					t.Errorf("anchor %d expected box %+v, got %+v", i, exp, arrays.Boxes[i])
				}
				if arrays.Objectness[i] != 1 {
					t.Errorf("anchor %d expected objectness 1, got %f", i, arrays.Objectness[i])
				}
			}

			if !reflect.DeepEqual(arrays.ClassScores[0], []float32{0.1, 0.2, 0.3}) {
				t.Errorf("unexpected class scores %v", arrays.ClassScores[0])
			}
		})
	}
}

func TestDecodeFlatObjectness(t *testing.T) {

	p := COCOParams()
	p.ObjectClassNum = 2

	// [1, N, 5+K] with objectness in the fifth channel
	out := NewTensor([]float32{
		20, 20, 10, 10, 0.5, 0.4, 0.8,
	}, 1, 1, 7)

	arrays, err := NewDecoder(p).Decode([]Tensor{out})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arrays.Objectness[0] != 0.5 {
		t.Errorf("expected objectness 0.5, got %f", arrays.Objectness[0])
	}

	if !reflect.DeepEqual(arrays.ClassScores[0], []float32{0.4, 0.8}) {
		t.Errorf("unexpected class scores %v", arrays.ClassScores[0])
	}
}

func TestDecodeFlatNegativeSize(t *testing.T) {

	p := COCOParams()
	p.ObjectClassNum = 1
	p.Encoding = EncodingFlat

	out := NewTensor([]float32{50, 50, -10, -20, 0.9}, 1, 1, 5)

	arrays, err := NewDecoder(p).Decode([]Tensor{out})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b := arrays.Boxes[0]

	if b.X1 > b.X2 || b.Y1 > b.Y2 {
		t.Errorf("expected ordered corners, got %+v", b)
	}
}

func TestDecodeShapeMismatch(t *testing.T) {

	const (
		classes = 2
		bins    = 4
	)

	channels := 4*bins + classes
	p := gridParams(classes, bins)

	flat := COCOParams()
	flat.ObjectClassNum = classes
	flat.Encoding = EncodingFlat

	tests := []struct {
		name    string
		params  Params
		outputs []Tensor
	}{
		{"no outputs", p, nil},
		{"buffer size", p, []Tensor{NewTensor(make([]float32, 10), 1, channels, 2, 2)}},
		{"anchor count", p, []Tensor{NewTensor(make([]float32, channels*5), 1, channels, 5)}},
		{"flattened channels", p, []Tensor{NewTensor(make([]float32, (channels+1)*4), 1, channels + 1, 4)}},
		{"grid channels", p, []Tensor{NewTensor(make([]float32, 7*4), 1, 7, 2, 2)}},
		{"grid batch", p, []Tensor{NewTensor(make([]float32, 2*channels*4), 2, channels, 2, 2)}},
		{"grid does not tile input", p, []Tensor{NewTensor(make([]float32, channels*9), 1, channels, 3, 3)}},
		{"empty grid", p, []Tensor{NewTensor(nil, 1, channels, 0, 0)}},
		{"grid not configured", COCOParams(), []Tensor{NewTensor(make([]float32, 144*100), 1, 144, 10, 10)}},
		{"scale count", p, []Tensor{
			NewTensor(make([]float32, channels*4), 1, channels, 2, 2),
			NewTensor(make([]float32, channels*4), 1, channels, 2, 2),
		}},
		{"split class channels", p, []Tensor{
			NewTensor(make([]float32, 4*bins*4), 1, 4*bins, 2, 2),
			NewTensor(make([]float32, 3*4), 1, 3, 2, 2),
		}},
		{"split grid sizes", p, []Tensor{
			NewTensor(make([]float32, 4*bins*4), 1, 4*bins, 2, 2),
			NewTensor(make([]float32, classes*16), 1, classes, 4, 4),
		}},
		{"mixed ranks", p, []Tensor{
			NewTensor(make([]float32, 4*bins*4), 1, 4*bins, 2, 2),
			NewTensor(make([]float32, classes*4), 1, classes, 4),
		}},
		{"flat two outputs", flat, []Tensor{
			NewTensor(make([]float32, 6), 1, 1, 6),
			NewTensor(make([]float32, 6), 1, 1, 6),
		}},
		{"flat attributes", flat, []Tensor{NewTensor(make([]float32, 8*3), 1, 3, 8)}},
		{"flat rank", flat, []Tensor{NewTensor(make([]float32, 6), 6)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {

			_, err := NewDecoder(tc.params).Decode(tc.outputs)

			if !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("expected shape mismatch error, got %v", err)
			}
		})
	}
}

func TestDecodeDeterministic(t *testing.T) {

	rng := rand.New(rand.NewSource(42))

	const (
		classes = 5
		bins    = 16
	)

	p := gridParams(classes, bins)
	p.Branches = []Branch{{GridH: 8, GridW: 8}, {GridH: 4, GridW: 4}, {GridH: 2, GridW: 2}}

	channels := 4*bins + classes
	n := 64 + 16 + 4
	out := NewTensor(make([]float32, channels*n), 1, channels, n)

	for i := range out.Data {
		out.Data[i] = rng.Float32()*10 - 5
	}

	dec := NewDecoder(p)

	first, err := dec.Decode([]Tensor{out})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		next, err := dec.Decode([]Tensor{out})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !reflect.DeepEqual(first, next) {
			t.Fatalf("decode run %d differs from the first run", i)
		}
	}
}

func TestDetectEncoding(t *testing.T) {

	p := COCOParams()
	dec := NewDecoder(p)

	tests := []struct {
		name     string
		outputs  []Tensor
		expected Encoding
	}{
		{"yolov8 onnx", []Tensor{{Shape: []int{1, 84, 8400}}}, EncodingFlat},
		{"yolov5 onnx", []Tensor{{Shape: []int{1, 25200, 85}}}, EncodingFlat},
		{"flattened dfl", []Tensor{{Shape: []int{1, 144, 8400}}}, EncodingGridDFL},
		{"per scale", []Tensor{{Shape: []int{1, 144, 80, 80}}}, EncodingGridDFL},
		{"rknn split", []Tensor{{Shape: []int{1, 64, 80, 80}}, {Shape: []int{1, 80, 80, 80}}}, EncodingGridDFL},
		{"two dimensional", []Tensor{{Shape: []int{8400, 84}}}, EncodingFlat},
	}

	for _, tc := range tests {
		if got := dec.detectEncoding(tc.outputs); got != tc.expected {
			t.Errorf("%s: expected encoding %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestDecodeSigmoidActivation(t *testing.T) {

	p := COCOParams()
	p.ObjectClassNum = 1
	p.ScoreActivation = ActivationSigmoid

	out := NewTensor([]float32{10, 10, 2, 2, 0}, 1, 1, 5)

	arrays, err := NewDecoder(p).Decode([]Tensor{out})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if arrays.ClassScores[0][0] != 0.5 {
		t.Errorf("expected sigmoid(0) = 0.5, got %f", arrays.ClassScores[0][0])
	}
}

func TestParseEncoding(t *testing.T) {

	tests := []struct {
		in       string
		expected Encoding
		wantErr  bool
	}{
		{"", EncodingAuto, false},
		{"auto", EncodingAuto, false},
		{"Grid-DFL", EncodingGridDFL, false},
		{"flat", EncodingFlat, false},
		{"ssd", EncodingAuto, true},
	}

	for _, tc := range tests {
		got, err := ParseEncoding(tc.in)

		if (err != nil) != tc.wantErr {
			t.Errorf("%q: unexpected error state %v", tc.in, err)
		}

		if got != tc.expected {
			t.Errorf("%q: expected %s, got %s", tc.in, tc.expected, got)
		}
	}
}
