package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/swdee/yolo-detect/postprocess"
	"gocv.io/x/gocv"
)

// Input represents the C.rknn_input struct and defines the Input used for
// inference
type Input struct {
	// Index is the input index
	Index uint32
	// Buf is the gocv Mat input
	Buf unsafe.Pointer
	// Size is the number of bytes of Buf
	Size uint32
	// Passthrough defines the mode, if True the buf data is passed directly to
	// the input node of the rknn model without any conversion.  If False the
	// buf data is converted into an input consistent with the model according
	// to the following type and fmt
	PassThrough bool
	// Type is the data type of Buf. This is a required parameter if Passthrough
	// is False
	Type TensorType
	// Fmt is the data format of Buf.  This is a required parameter if Passthrough
	// is False
	Fmt TensorFormat
}

// Run passes the RGB image sized to the model input through the model and
// returns its outputs as float32 tensors held in Go memory
func (r *Runtime) Run(img gocv.Mat) ([]postprocess.Tensor, error) {

	width, height, channels := r.InputSize()

	if img.Cols() != width || img.Rows() != height || img.Channels() != channels {
		return nil, fmt.Errorf("input image is %dx%dx%d, model expects %dx%dx%d",
			img.Cols(), img.Rows(), img.Channels(), width, height, channels)
	}

	// make mat continuous
	if !img.IsContinuous() {
		img = img.Clone()
		defer img.Close()
	}

	data, err := img.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer to Mat: %w", err)
	}

	err = r.SetInputs([]Input{{
		Index:       0,
		Type:        TensorUint8,
		Size:        uint32(len(data)),
		Fmt:         TensorNHWC,
		Buf:         unsafe.Pointer(&data[0]),
		PassThrough: false,
	}})

	if err != nil {
		return nil, fmt.Errorf("error setting inputs: %w", err)
	}

	err = r.RunModel()

	if err != nil {
		return nil, fmt.Errorf("error running model: %w", err)
	}

	return r.getOutputs()
}

// SetInputs wraps C.rknn_inputs_set
func (r *Runtime) SetInputs(inputs []Input) error {

	nInputs := C.uint32_t(len(inputs))
	cInputs := make([]C.rknn_input, len(inputs))

	for i, input := range inputs {
		cInputs[i].index = C.uint32_t(input.Index)
		cInputs[i].buf = input.Buf
		cInputs[i].size = C.uint32_t(input.Size)
		cInputs[i].pass_through = C.uint8_t(0)
		if input.PassThrough {
			cInputs[i].pass_through = C.uint8_t(1)
		}
		cInputs[i]._type = C.rknn_tensor_type(input.Type)
		cInputs[i].fmt = C.rknn_tensor_format(input.Fmt)
	}

	ret := C.rknn_inputs_set(r.ctx, nInputs, &cInputs[0])

	if ret != 0 {
		return fmt.Errorf("C.rknn_inputs_set failed with code %d, error: %s",
			int(ret), ErrorCodes(ret).String())
	}

	return nil
}

// RunModel wraps C.rknn_run
func (r *Runtime) RunModel() error {

	ret := C.rknn_run(r.ctx, nil)

	if ret < 0 {
		return fmt.Errorf("C.rknn_run failed with code %d, error: %s",
			int(ret), ErrorCodes(ret).String())
	}

	return nil
}

// getOutputs wraps C.rknn_outputs_get, copying each output buffer into a Go
// tensor before the C memory is released
func (r *Runtime) getOutputs() ([]postprocess.Tensor, error) {

	nOutputs := r.ioNum.NumberOutput
	cOutputs := make([]C.rknn_output, nOutputs)

	wantFloat := C.uint8_t(1)

	if r.quantized {
		wantFloat = 0
	}

	for idx := range cOutputs {
		cOutputs[idx].index = C.uint32_t(idx)
		cOutputs[idx].want_float = wantFloat
	}

	ret := C.rknn_outputs_get(r.ctx, C.uint32_t(nOutputs),
		(*C.rknn_output)(unsafe.Pointer(&cOutputs[0])), nil)

	if ret < 0 {
		return nil, fmt.Errorf("C.rknn_outputs_get failed with code %d, error: %s",
			int(ret), ErrorCodes(ret).String())
	}

	tensors := make([]postprocess.Tensor, nOutputs)

	var convErr error

	for i, cOutput := range cOutputs {

		attr := r.outputAttrs[i]
		size := int(cOutput.size)

		var data []float32

		switch {
		case cOutput.want_float == 1:
			data = copyFloat32(unsafe.Slice((*float32)(cOutput.buf), size/4))

		case attr.Type == TensorFloat16:
			data = float16ToFloat32(unsafe.Slice((*uint16)(cOutput.buf), size/2))

		case attr.Type == TensorInt8:
			data = dequantizeInt8(unsafe.Slice((*int8)(cOutput.buf), size),
				attr.ZP, attr.Scale)

		case attr.Type == TensorUint8:
			data = dequantizeUint8(unsafe.Slice((*uint8)(cOutput.buf), size),
				attr.ZP, attr.Scale)

		case attr.Type == TensorFloat32:
			data = copyFloat32(unsafe.Slice((*float32)(cOutput.buf), size/4))

		default:
			convErr = fmt.Errorf("output %d has unsupported tensor type %s",
				i, attr.Type.String())
		}

		if convErr != nil {
			break
		}

		tensors[i] = postprocess.NewTensor(data, attr.Shape()...)
	}

	err := r.releaseOutputs(cOutputs)

	if convErr != nil {
		return nil, convErr
	}

	if err != nil {
		return nil, err
	}

	return tensors, nil
}

// releaseOutputs releases the memory allocated for the outputs by the RKNN
// toolkit directly using C rknn_output structs
func (r *Runtime) releaseOutputs(cOutputs []C.rknn_output) error {

	outputsPtr := (*C.rknn_output)(unsafe.Pointer(&cOutputs[0]))

	ret := C.rknn_outputs_release(r.ctx, C.uint32_t(len(cOutputs)), outputsPtr)

	if ret != 0 {
		return fmt.Errorf("C.rknn_outputs_release failed with code %d, error: %s",
			ret, ErrorCodes(ret).String())
	}

	return nil
}
