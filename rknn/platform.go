package rknn

import (
	"fmt"
	"strings"
)

// platformCores lists the NPU core masks of each Rockchip platform, used to
// pin one Runtime per core when opening a pool of models
var platformCores = map[string][]CoreMask{
	"rk3588": {NPUCore0, NPUCore1, NPUCore2},
	"rk3582": {NPUCore0, NPUCore1, NPUCore2},
	"rk3576": {NPUCore0, NPUCore1},
	"rk3568": {NPUSkipSetCore},
	"rk3566": {NPUSkipSetCore},
	"rk3562": {NPUSkipSetCore},
}

// PlatformCores returns the NPU core masks of the given platform
// rk3562|rk3566|rk3568|rk3576|rk3582|rk3588
func PlatformCores(platform string) ([]CoreMask, error) {

	cores, ok := platformCores[strings.ToLower(strings.TrimSpace(platform))]

	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}

	return cores, nil
}

// WorkerCore returns the core mask for the i'th worker, assigning workers to
// the platform's NPU cores round robin
func WorkerCore(cores []CoreMask, i int) CoreMask {

	if len(cores) == 0 {
		return NPUCoreAuto
	}

	return cores[i%len(cores)]
}

// ParseCoreMask parses a core selection of auto, 0, 1, 2, 0_1, 0_1_2 or skip
func ParseCoreMask(name string) (CoreMask, error) {

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return NPUCoreAuto, nil
	case "0":
		return NPUCore0, nil
	case "1":
		return NPUCore1, nil
	case "2":
		return NPUCore2, nil
	case "0_1", "01":
		return NPUCore01, nil
	case "0_1_2", "012":
		return NPUCore012, nil
	case "skip":
		return NPUSkipSetCore, nil
	}

	return 0, fmt.Errorf("unknown npu core: %s", name)
}
