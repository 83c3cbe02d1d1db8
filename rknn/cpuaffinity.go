package rknn

import (
	"fmt"
	"strings"
	"syscall"
	"unsafe"
)

// CoreType specifies the CPU core type
type CoreType int

const (
	FastCores CoreType = 0
	SlowCores CoreType = 1
	AllCores  CoreType = 2
)

// cpuMasks are the CPU affinity masks of each platform's core types.  The
// big.LITTLE parts keep their efficient cores on 0-3 and fast cores from 4,
// the others only have one core type.
var cpuMasks = map[string]map[CoreType]uintptr{
	"rk3588": {FastCores: 0b11110000, SlowCores: 0b00001111, AllCores: 0b11111111},
	"rk3582": {FastCores: 0b00110000, SlowCores: 0b00001111, AllCores: 0b00111111},
	"rk3576": {FastCores: 0b11110000, SlowCores: 0b00001111, AllCores: 0b11111111},
	"rk3568": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
	"rk3566": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
	"rk3562": {FastCores: 0b00001111, SlowCores: 0b00001111, AllCores: 0b00001111},
}

// SetCPUAffinity sets the CPU Affinity mask of the program to run on the specified
// cores
func SetCPUAffinity(mask uintptr) error {

	_, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETAFFINITY, 0,
		unsafe.Sizeof(mask), uintptr(unsafe.Pointer(&mask)))

	if err != 0 {
		return fmt.Errorf("failed to set CPU affinity: %w", err)
	}

	return nil
}

// CPUMask returns the affinity mask of the core type on the platform
func CPUMask(platform string, ct CoreType) (uintptr, error) {

	masks, ok := cpuMasks[strings.ToLower(strings.TrimSpace(platform))]

	if !ok {
		return 0, fmt.Errorf("unknown platform: %s", platform)
	}

	mask, ok := masks[ct]

	if !ok {
		return 0, fmt.Errorf("unknown cpu core type: %d", ct)
	}

	return mask, nil
}

// SetCPUAffinityByPlatform pins the program to the core type of the given
// platform rk3562|rk3566|rk3568|rk3576|rk3582|rk3588
func SetCPUAffinityByPlatform(platform string, ct CoreType) error {

	mask, err := CPUMask(platform, ct)

	if err != nil {
		return err
	}

	return SetCPUAffinity(mask)
}

// ParseCoreType parses the CPU core type names fast, slow and all
func ParseCoreType(name string) (CoreType, error) {

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast":
		return FastCores, nil
	case "slow":
		return SlowCores, nil
	case "all":
		return AllCores, nil
	}

	return 0, fmt.Errorf("unknown cpu core type: %s", name)
}
