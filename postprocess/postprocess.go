/*
Package postprocess turns the raw output tensors of a YOLO object detection
model into a de-duplicated, threshold filtered set of detections.

Processing runs in three stages, each a plain function of its input:

	arrays, err := decoder.Decode(outputs)   // boxes, class scores, objectness
	cands := Filter(arrays, p.ObjThreshold)  // best class, confidence floor
	dets := NMS(cands, p.NMSThreshold, 0)    // per class suppression

Run executes all three with a Decoder's parameters.
*/
package postprocess

// Run decodes, filters and suppresses the outputs of one image using the
// Decoder's parameters
func (d *Decoder) Run(outputs []Tensor) (DetectionSet, error) {

	arrays, err := d.Decode(outputs)

	if err != nil {
		return nil, err
	}

	cands := Filter(arrays, d.params.ObjThreshold)

	return NMS(cands, d.params.NMSThreshold, d.params.MaxObjectNumber), nil
}
