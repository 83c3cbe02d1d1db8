package postprocess

import (
	"sort"
)

// NMS implements a per class greedy Non-Maximum Suppression (NMS). Each class
// is suppressed independently and the kept boxes are concatenated in the
// order classes first appear in candidates, with descending score order
// within each class. A maxObjects above zero limits the number of results.
func NMS(candidates []Candidate, threshold float32, maxObjects int) DetectionSet {

	// group candidate indices by class keeping first seen class order
	var classOrder []int
	byClass := make(map[int][]int)

	for i, c := range candidates {
		if _, ok := byClass[c.Class]; !ok {
			classOrder = append(classOrder, c.Class)
		}
		byClass[c.Class] = append(byClass[c.Class], i)
	}

	group := make(DetectionSet, 0, len(candidates))

	for _, class := range classOrder {
		for _, n := range nmsClass(candidates, byClass[class], threshold) {

			if maxObjects > 0 && len(group) >= maxObjects {
				return group
			}

			group = append(group, candidates[n])
		}
	}

	return group
}

// nmsClass runs greedy suppression over the candidates at indices, which all
// share one class, and returns the kept indices in selection order
func nmsClass(candidates []Candidate, indices []int, threshold float32) []int {

	order := make([]int, len(indices))
	copy(order, indices)

	// stable so equal scores keep their original candidate order
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Score > candidates[order[b]].Score
	})

	suppressed := make([]bool, len(order))
	keep := make([]int, 0, len(order))

	for i := 0; i < len(order); i++ {

		if suppressed[i] {
			continue
		}

		n := order[i]
		keep = append(keep, n)

		for j := i + 1; j < len(order); j++ {

			if suppressed[j] {
				continue
			}

			iou := calculateOverlap(candidates[n].Box, candidates[order[j]].Box)

			if iou > threshold {
				suppressed[j] = true
			}
		}
	}

	return keep
}
