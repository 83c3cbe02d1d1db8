package rknn

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// float16ToFloat32 converts a float16 buffer to float32 as Go has no native
// FP16 support
func float16ToFloat32(buf []uint16) []float32 {

	out := make([]float32, len(buf))

	for i, val := range buf {
		out[i] = f16LookupTable[val]
	}

	return out
}

// dequantizeInt8 converts affine quantized int8 values to float32 using the
// tensor zero point and scale
func dequantizeInt8(buf []int8, zp int32, scale float32) []float32 {

	out := make([]float32, len(buf))

	for i, q := range buf {
		out[i] = float32(int32(q)-zp) * scale
	}

	return out
}

// dequantizeUint8 converts affine quantized uint8 values to float32
func dequantizeUint8(buf []uint8, zp int32, scale float32) []float32 {

	out := make([]float32, len(buf))

	for i, q := range buf {
		out[i] = float32(int32(q)-zp) * scale
	}

	return out
}

// copyFloat32 copies a float32 buffer that points to C memory into Go memory
func copyFloat32(buf []float32) []float32 {
	out := make([]float32, len(buf))
	copy(out, buf)
	return out
}
