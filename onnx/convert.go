package onnx

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/postprocess"
	ort "github.com/yalue/onnxruntime_go"
	"github.com/x448/float16"
)

// supportedType reports whether tensors of the data type can be exchanged
// with the model
func supportedType(t ort.TensorElementDataType) bool {
	return t == ort.TensorElementDataTypeFloat || t == ort.TensorElementDataTypeFloat16
}

// isStatic reports whether every dimension of the shape is known
func isStatic(s ort.Shape) bool {

	for _, d := range s {
		if d <= 0 {
			return false
		}
	}

	return true
}

// resolveInputShape fills the dynamic dimensions of an NCHW image input.  A
// dynamic batch becomes 1 and dynamic spatial dimensions take the configured
// size.
func resolveInputShape(dims ort.Shape, width, height int) (ort.Shape, error) {

	if len(dims) != 4 {
		return nil, errors.Errorf("input shape %v is not NCHW", dims)
	}

	shape := ort.NewShape(dims[0], dims[1], dims[2], dims[3])

	if shape[0] <= 0 {
		shape[0] = 1
	}

	if shape[1] <= 0 {
		shape[1] = 3
	}

	if shape[2] <= 0 {
		shape[2] = int64(height)
	}

	if shape[3] <= 0 {
		shape[3] = int64(width)
	}

	if shape[0] != 1 || shape[1] != 3 || shape[2] <= 0 || shape[3] <= 0 {
		return nil, errors.Errorf("unsupported input shape %v", dims)
	}

	return shape, nil
}

// newInputValue wraps the pixels in a tensor of the model's input type
func newInputValue(shape ort.Shape, dataType ort.TensorElementDataType,
	pixels []float32) (ort.Value, error) {

	if dataType == ort.TensorElementDataTypeFloat16 {

		val, err := ort.NewCustomDataTensor(shape, encodeFloat16(pixels),
			ort.TensorElementDataTypeFloat16)

		if err != nil {
			return nil, errors.Wrap(err, "error creating fp16 input tensor")
		}

		return val, nil
	}

	val, err := ort.NewTensor(shape, pixels)

	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	return val, nil
}

// valueToTensor copies an output value into a float32 Tensor
func valueToTensor(val ort.Value) (postprocess.Tensor, error) {

	shape := make([]int, len(val.GetShape()))

	for i, d := range val.GetShape() {
		shape[i] = int(d)
	}

	switch t := val.(type) {
	case *ort.Tensor[float32]:
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		return postprocess.NewTensor(data, shape...), nil

	case *ort.CustomDataTensor:
		return postprocess.NewTensor(decodeFloat16(t.GetData()), shape...), nil
	}

	return postprocess.Tensor{}, errors.Errorf("unsupported output value %T", val)
}

// encodeFloat16 converts float32 values to little endian fp16 bytes
func encodeFloat16(vals []float32) []byte {

	buf := make([]byte, 2*len(vals))

	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
	}

	return buf
}

// decodeFloat16 converts little endian fp16 bytes to float32 values
func decodeFloat16(buf []byte) []float32 {

	vals := make([]float32, len(buf)/2)

	for i := range vals {
		vals[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
	}

	return vals
}
