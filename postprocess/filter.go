package postprocess

// Filter collapses each box's class scores to its best class and keeps the
// boxes whose confidence, objectness multiplied by the best class score, is
// at least threshold. Ties between class scores go to the lowest class index.
func Filter(arrays CandidateArrays, threshold float32) []Candidate {

	kept := make([]Candidate, 0)

	for i, box := range arrays.Boxes {

		scores := arrays.ClassScores[i]

		if len(scores) == 0 {
			continue
		}

		maxClassID := 0
		maxScore := scores[0]

		for c := 1; c < len(scores); c++ {
			if scores[c] > maxScore {
				maxScore = scores[c]
				maxClassID = c
			}
		}

		conf := arrays.Objectness[i] * maxScore

		if conf >= threshold {
			kept = append(kept, Candidate{
				Box:   box,
				Class: maxClassID,
				Score: conf,
			})
		}
	}

	return kept
}
