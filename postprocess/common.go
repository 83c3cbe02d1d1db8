package postprocess

import (
	"math"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/floats"
)

// overlapEpsilon is added to the intersection width and height so boxes
// with zero width are not treated as exactly touching
const overlapEpsilon = 1e-5

// computeDFL calculates the Distribution Focal Loss (DFL) expectation of the
// 4 box side distributions held in tensor, each being dflLen bins long. The
// returned distances are in grid units.
func computeDFL(tensor []float64, binIdx []float64, dflLen int) [4]float32 {

	var box [4]float32
	probs := make([]float64, dflLen)

	for b := 0; b < 4; b++ {

		side := tensor[b*dflLen : (b+1)*dflLen]

		// softmax via log-sum-exp so large logits do not overflow
		lse := floats.LogSumExp(side)

		for i, v := range side {
			probs[i] = math.Exp(v - lse)
		}

		box[b] = float32(floats.Dot(probs, binIdx))
	}

	return box
}

// binIndices returns the bin index vector 0..n-1 used for the DFL expectation
func binIndices(n int) []float64 {

	idx := make([]float64, n)

	for i := range idx {
		idx[i] = float64(i)
	}

	return idx
}

// calculateOverlap works out the Intersection of Union (IoU) value of two
// boxes
func calculateOverlap(a, b Box) float32 {

	w := math32.Max(0, math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1)+overlapEpsilon)
	h := math32.Max(0, math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1)+overlapEpsilon)
	intersection := w * h

	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// sigmoid is the logistic function
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// centerToCorners converts a center form box to corners ordered so that
// X1 <= X2 and Y1 <= Y2
func centerToCorners(cx, cy, w, h float32) Box {

	x1, x2 := cx-w/2, cx+w/2
	y1, y2 := cy-h/2, cy+h/2

	return Box{
		X1: math32.Min(x1, x2),
		Y1: math32.Min(y1, y2),
		X2: math32.Max(x1, x2),
		Y2: math32.Max(y1, y2),
	}
}
