package rknn

import (
	"fmt"
	"io"
)

// Query writes the SDK version and the loaded model's input and output tensor
// information in human readable format
func (r *Runtime) Query(w io.Writer) error {

	// get SDK version
	ver, err := r.SDKVersion()

	if err != nil {
		return fmt.Errorf("error querying SDK version: %w", err)
	}

	fmt.Fprintf(w, "Driver Version: %s, API Version: %s\n", ver.DriverVersion, ver.APIVersion)

	// get model input and output numbers
	num, err := r.QueryModelIONumber()

	if err != nil {
		return fmt.Errorf("error querying IO numbers: %w", err)
	}

	mode := "float32"

	if r.quantized {
		mode = "native"
	}

	fmt.Fprintf(w, "Output mode: %s\n", mode)
	fmt.Fprintf(w, "Model Input Number: %d, Output Number: %d\n", num.NumberInput, num.NumberOutput)

	fmt.Fprintf(w, "Input tensors:\n")

	for _, attr := range r.inputAttrs {
		fmt.Fprintf(w, "  %s\n", attr.String())
	}

	fmt.Fprintf(w, "Output tensors:\n")

	for _, attr := range r.outputAttrs {
		fmt.Fprintf(w, "  %s\n", attr.String())
	}

	return nil
}
