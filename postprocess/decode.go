package postprocess

import (
	"github.com/pkg/errors"
)

// Decoder converts the raw output tensors of a model into candidate arrays
// in input image pixel space. A Decoder holds no per image state and may be
// shared between goroutines.
type Decoder struct {
	params Params
	binIdx []float64
}

// NewDecoder returns a Decoder for the given parameters
func NewDecoder(p Params) *Decoder {

	if len(p.Branches) == 0 {
		p.Branches = DefaultBranches(p.Width, p.Height)
	}

	return &Decoder{
		params: p,
		binIdx: binIndices(p.DFLBins),
	}
}

// Params returns the parameters the Decoder was created with
func (d *Decoder) Params() Params {
	return d.params
}

// plane gives channel and cell access to a region of a tensor buffer laid
// out as [channels, cells]
type plane struct {
	data []float32
	// stride is the distance between two channels
	stride int
	// offset is the position of the first cell within a channel
	offset int
	// chOffset is the first channel of the plane
	chOffset int
}

// at returns the value of channel ch at the given cell
func (p plane) at(ch, cell int) float32 {
	return p.data[(p.chOffset+ch)*p.stride+p.offset+cell]
}

// branchInput holds the planes making up one output scale of a grid
// encoded model
type branchInput struct {
	box plane
	cls plane
	// sum is the optional per cell class score sum used for quick rejection
	sum   *plane
	gridH int
	gridW int
}

// Decode takes the raw outputs of one image and decodes them according to
// the configured Encoding
func (d *Decoder) Decode(outputs []Tensor) (CandidateArrays, error) {

	if len(outputs) == 0 {
		return CandidateArrays{}, errors.Wrap(ErrShapeMismatch, "model returned no outputs")
	}

	for i, t := range outputs {
		if err := t.check(i); err != nil {
			return CandidateArrays{}, err
		}
	}

	enc := d.params.Encoding

	if enc == EncodingAuto {
		enc = d.detectEncoding(outputs)
	}

	switch enc {
	case EncodingFlat:
		return d.decodeFlat(outputs)
	case EncodingGridDFL:
		return d.decodeGrid(outputs)
	default:
		return CandidateArrays{}, errors.Errorf("unsupported encoding %d", enc)
	}
}

// detectEncoding works out the encoding of the outputs from their shapes
func (d *Decoder) detectEncoding(outputs []Tensor) Encoding {

	if len(outputs) > 1 {
		return EncodingGridDFL
	}

	shape := outputs[0].Shape
	k := d.params.ObjectClassNum

	switch len(shape) {
	case 4:
		return EncodingGridDFL
	case 3:
		for _, dim := range shape[1:] {
			if dim == 4+k || dim == 5+k {
				return EncodingFlat
			}
		}
		return EncodingGridDFL
	default:
		return EncodingFlat
	}
}

// decodeGrid decodes grid + DFL encoded outputs
func (d *Decoder) decodeGrid(outputs []Tensor) (CandidateArrays, error) {

	branches, err := d.gridBranches(outputs)

	if err != nil {
		return CandidateArrays{}, err
	}

	var arrays CandidateArrays
	buf := make([]float64, 4*d.params.DFLBins)

	for i, br := range branches {

		if br.gridH <= 0 || br.gridW <= 0 {
			return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch,
				"branch %d has an empty grid %dx%d", i, br.gridH, br.gridW)
		}

		if d.params.Width%br.gridW != 0 || d.params.Height%br.gridH != 0 {
			return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch,
				"branch %d grid %dx%d does not tile input %dx%d",
				i, br.gridH, br.gridW, d.params.Height, d.params.Width)
		}

		strideX := float32(d.params.Width / br.gridW)
		strideY := float32(d.params.Height / br.gridH)

		d.processBranch(br, strideX, strideY, buf, &arrays)
	}

	return arrays, nil
}

// gridBranches splits the outputs into their per scale planes
func (d *Decoder) gridBranches(outputs []Tensor) ([]branchInput, error) {

	k := d.params.ObjectClassNum
	boxCh := 4 * d.params.DFLBins
	channels := boxCh + k

	// single output with all scales flattened into one anchor dimension
	if len(outputs) == 1 && len(outputs[0].Shape) == 3 {

		t := outputs[0]

		if t.Shape[0] != 1 || t.Shape[1] != channels {
			return nil, errors.Wrapf(ErrShapeMismatch, "output has shape %v, expected [1 %d N]",
				t.Shape, channels)
		}

		n := t.Shape[2]

		if n != d.params.totalCells() {
			return nil, errors.Wrapf(ErrShapeMismatch,
				"%d anchors do not divide into branch grids %v (%d cells)",
				n, d.params.Branches, d.params.totalCells())
		}

		branches := make([]branchInput, 0, len(d.params.Branches))
		start := 0

		for _, b := range d.params.Branches {
			branches = append(branches, branchInput{
				box:   plane{data: t.Data, stride: n, offset: start},
				cls:   plane{data: t.Data, stride: n, offset: start, chOffset: boxCh},
				gridH: b.GridH,
				gridW: b.GridW,
			})
			start += b.Cells()
		}

		return branches, nil
	}

	for i, t := range outputs {
		if len(t.Shape) != 4 || t.Shape[0] != 1 {
			return nil, errors.Wrapf(ErrShapeMismatch, "output %d has shape %v, expected [1 C H W]",
				i, t.Shape)
		}
	}

	// work out how many tensors make up each branch, either a combined
	// tensor, or separate box and class tensors with an optional score sum
	outputPerBranch := 0

	switch {
	case outputs[0].Shape[1] == channels:
		outputPerBranch = 1
	case len(outputs)%3 == 0 && outputs[2].Shape[1] == 1:
		outputPerBranch = 3
	case len(outputs)%2 == 0:
		outputPerBranch = 2
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "%d outputs with %d channels do not form grid branches",
			len(outputs), outputs[0].Shape[1])
	}

	branches := make([]branchInput, 0, len(outputs)/outputPerBranch)

	for i := 0; i < len(outputs); i += outputPerBranch {

		boxT := outputs[i]
		gridH, gridW := boxT.Shape[2], boxT.Shape[3]
		cells := gridH * gridW

		if outputPerBranch == 1 {
			if boxT.Shape[1] != channels {
				return nil, errors.Wrapf(ErrShapeMismatch, "output %d has shape %v, expected [1 %d H W]",
					i, boxT.Shape, channels)
			}

			branches = append(branches, branchInput{
				box:   plane{data: boxT.Data, stride: cells},
				cls:   plane{data: boxT.Data, stride: cells, chOffset: boxCh},
				gridH: gridH,
				gridW: gridW,
			})
			continue
		}

		clsT := outputs[i+1]

		if boxT.Shape[1] != boxCh {
			return nil, errors.Wrapf(ErrShapeMismatch, "box output %d has shape %v, expected [1 %d H W]",
				i, boxT.Shape, boxCh)
		}

		if !sameGrid(boxT, clsT) || clsT.Shape[1] != k {
			return nil, errors.Wrapf(ErrShapeMismatch, "class output %d has shape %v, expected [1 %d %d %d]",
				i+1, clsT.Shape, k, gridH, gridW)
		}

		br := branchInput{
			box:   plane{data: boxT.Data, stride: cells},
			cls:   plane{data: clsT.Data, stride: cells},
			gridH: gridH,
			gridW: gridW,
		}

		if outputPerBranch == 3 {
			sumT := outputs[i+2]

			if !sameGrid(boxT, sumT) || sumT.Shape[1] != 1 {
				return nil, errors.Wrapf(ErrShapeMismatch, "score sum output %d has shape %v, expected [1 1 %d %d]",
					i+2, sumT.Shape, gridH, gridW)
			}

			br.sum = &plane{data: sumT.Data, stride: cells}
		}

		branches = append(branches, br)
	}

	if err := d.matchLayout(branches); err != nil {
		return nil, err
	}

	return branches, nil
}

// matchLayout checks per scale outputs against the configured branch grids,
// in order
func (d *Decoder) matchLayout(branches []branchInput) error {

	if len(branches) != len(d.params.Branches) {
		return errors.Wrapf(ErrShapeMismatch, "%d output scales, expected branch grids %v",
			len(branches), d.params.Branches)
	}

	for i, b := range d.params.Branches {
		if branches[i].gridH != b.GridH || branches[i].gridW != b.GridW {
			return errors.Wrapf(ErrShapeMismatch, "output scale %d has grid %dx%d, expected %dx%d",
				i, branches[i].gridH, branches[i].gridW, b.GridH, b.GridW)
		}
	}

	return nil
}

// sameGrid reports whether two [1 C H W] tensors share the same grid size
func sameGrid(a, b Tensor) bool {
	return len(b.Shape) == 4 && a.Shape[2] == b.Shape[2] && a.Shape[3] == b.Shape[3]
}

// processBranch decodes every cell of a single output scale and appends the
// results to arrays
func (d *Decoder) processBranch(br branchInput, strideX, strideY float32,
	buf []float64, arrays *CandidateArrays) {

	k := d.params.ObjectClassNum
	dflLen := d.params.DFLBins
	cells := br.gridH * br.gridW
	scores := make([]float32, cells*k)

	for i := 0; i < br.gridH; i++ {
		for j := 0; j < br.gridW; j++ {

			cell := i*br.gridW + j

			// quick filtering using score sum, no class can pass the
			// threshold if the sum of all class scores is below it
			if br.sum != nil && br.sum.at(0, cell) < d.params.ObjThreshold {
				continue
			}

			cellScores := scores[cell*k : (cell+1)*k : (cell+1)*k]

			for c := 0; c < k; c++ {
				cellScores[c] = d.activate(br.cls.at(c, cell))
			}

			for b := 0; b < 4*dflLen; b++ {
				buf[b] = float64(br.box.at(b, cell))
			}

			dist := computeDFL(buf, d.binIdx, dflLen)

			box := Box{
				X1: (float32(j) + 0.5 - dist[0]) * strideX,
				Y1: (float32(i) + 0.5 - dist[1]) * strideY,
				X2: (float32(j) + 0.5 + dist[2]) * strideX,
				Y2: (float32(i) + 0.5 + dist[3]) * strideY,
			}

			arrays.add(box, cellScores, 1)
		}
	}
}

// decodeFlat decodes a flattened per anchor output of center form boxes
func (d *Decoder) decodeFlat(outputs []Tensor) (CandidateArrays, error) {

	if len(outputs) != 1 {
		return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch,
			"flat encoding expects a single output but got %d", len(outputs))
	}

	t := outputs[0]
	k := d.params.ObjectClassNum
	plain, withObj := 4+k, 5+k

	var rows, cols int

	switch len(t.Shape) {
	case 3:
		if t.Shape[0] != 1 {
			return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch, "output has shape %v, expected batch of 1", t.Shape)
		}
		rows, cols = t.Shape[1], t.Shape[2]
	case 2:
		rows, cols = t.Shape[0], t.Shape[1]
	default:
		return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch, "output has shape %v, expected [1 %d N] or [N %d]",
			t.Shape, plain, plain)
	}

	var n, width int
	var at func(anchor, ch int) float32

	switch {
	case len(t.Shape) == 3 && (rows == plain || rows == withObj):
		// channel major [1, 4+K, N]
		n, width = cols, rows
		at = func(anchor, ch int) float32 { return t.Data[ch*n+anchor] }

	case cols == plain || cols == withObj:
		// anchor major [1, N, 4+K]
		n, width = rows, cols
		at = func(anchor, ch int) float32 { return t.Data[anchor*width+ch] }

	default:
		return CandidateArrays{}, errors.Wrapf(ErrShapeMismatch, "output has shape %v, expected %d or %d box attributes",
			t.Shape, plain, withObj)
	}

	hasObj := width == withObj
	classStart := 4

	if hasObj {
		classStart = 5
	}

	arrays := CandidateArrays{
		Boxes:       make([]Box, 0, n),
		ClassScores: make([][]float32, 0, n),
		Objectness:  make([]float32, 0, n),
	}

	scores := make([]float32, n*k)

	for a := 0; a < n; a++ {

		box := centerToCorners(at(a, 0), at(a, 1), at(a, 2), at(a, 3))

		obj := float32(1)

		if hasObj {
			obj = at(a, 4)
		}

		anchorScores := scores[a*k : (a+1)*k : (a+1)*k]

		for c := 0; c < k; c++ {
			anchorScores[c] = d.activate(at(a, classStart+c))
		}

		arrays.add(box, anchorScores, obj)
	}

	return arrays, nil
}

// activate applies the configured score activation
func (d *Decoder) activate(v float32) float32 {
	if d.params.ScoreActivation == ActivationSigmoid {
		return sigmoid(v)
	}
	return v
}
