package device

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlProvider implements device detection via the NVIDIA Management Library.
// It only works when the proprietary driver is already installed, so it is an
// optional backend rather than the default.
type nvmlProvider struct {
	logger Logger
}

// NewNvmlProvider creates a new NVML-based device provider.
func NewNvmlProvider(logger Logger) Provider {
	return &nvmlProvider{logger: logger}
}

func (p *nvmlProvider) Name() string {
	return "nvml"
}

func (p *nvmlProvider) IsAvailable() bool {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return false
	}
	nvml.Shutdown()
	return true
}

func (p *nvmlProvider) Detect(ctx context.Context) (*Device, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, &QueryError{Backend: "nvml", Err: fmt.Errorf("init failed: %s", nvml.ErrorString(ret))}
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, &QueryError{Backend: "nvml", Err: fmt.Errorf("device count failed: %s", nvml.ErrorString(ret))}
	}
	if count == 0 {
		return nil, nil
	}

	dev, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return nil, &QueryError{Backend: "nvml", Err: fmt.Errorf("device handle failed: %s", nvml.ErrorString(ret))}
	}

	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		return nil, &QueryError{Backend: "nvml", Err: fmt.Errorf("device name failed: %s", nvml.ErrorString(ret))}
	}

	pciInfo, ret := dev.GetPciInfo()
	if ret != nvml.SUCCESS {
		return nil, &QueryError{Backend: "nvml", Err: fmt.Errorf("pci info failed: %s", nvml.ErrorString(ret))}
	}

	if version, ret := nvml.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		p.logger.Debugf("Installed NVIDIA driver version: %s", version)
	}

	// PciDeviceId packs the device ID into the upper 16 bits and the
	// vendor ID (10DE) into the lower 16 bits.
	return &Device{
		Name:  name,
		PCIID: fmt.Sprintf("%04X", pciInfo.PciDeviceId>>16),
	}, nil
}
