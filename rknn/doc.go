/*
Package rknn runs RKNN compiled models on the Rockchip NPU through the RKNN
Toolkit2 C API and returns their outputs as postprocess Tensors.

The bindings are kept lite in the spirit of the closed source Python lite
bindings.  They have been tested on the RK3588 and should work with other
RK35xx series platforms supported by the RKNN Toolkit2.

Outputs are read as float32 by default, letting the runtime dequantize them.
A Runtime created in quantized mode fetches the native int8 or fp16 output
buffers instead and dequantizes them in Go using each tensor's zero point and
scale, which is faster on models with large outputs.
*/
package rknn
