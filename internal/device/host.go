package device

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Is64BitHost reports whether the host kernel is 64-bit. NVIDIA's version
// feed lists 32-bit and 64-bit Linux drivers in separate sections, so the
// parser needs to know which one applies here.
func Is64BitHost() bool {
	info, err := host.Info()
	if err != nil || info.KernelArch == "" {
		// Fall back to the architecture this binary was built for.
		return strings.Contains(runtime.GOARCH, "64")
	}
	return strings.HasSuffix(info.KernelArch, "64")
}

// KernelArch returns the host kernel architecture ("x86_64"), falling
// back to the build architecture when the kernel cannot be queried.
func KernelArch() string {
	info, err := host.Info()
	if err != nil || info.KernelArch == "" {
		return runtime.GOARCH
	}
	return info.KernelArch
}
