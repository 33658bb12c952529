package device

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
)

// lspciProvider implements device detection by parsing `lspci -nn` output.
type lspciProvider struct {
	logger Logger
}

// NewLspciProvider creates a new lspci-based device provider.
func NewLspciProvider(logger Logger) Provider {
	return &lspciProvider{logger: logger}
}

func (p *lspciProvider) Name() string {
	return "lspci"
}

func (p *lspciProvider) IsAvailable() bool {
	_, err := exec.LookPath("lspci")
	return err == nil
}

func (p *lspciProvider) Detect(ctx context.Context) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, "lspci", "-nn")
	output, err := cmd.Output()
	if err != nil {
		return nil, &QueryError{Backend: "lspci", Err: err}
	}

	dev, err := ParseLspciOutput(string(output))
	if err != nil {
		return nil, err
	}
	if dev != nil {
		p.logger.Debugf("lspci reported NVIDIA device %s [%s]", dev.Name, dev.PCIID)
	}
	return dev, nil
}

var (
	// pciIDPattern matches the device-ID half of the lspci -nn vendor
	// bracket, e.g. ":0640]" in "[10de:0640]".
	pciIDPattern = regexp.MustCompile(`:([0-9A-Fa-f]{4})\]`)
	// namePattern spans from the vendor description up to the vendor tag.
	namePattern = regexp.MustCompile(`(?i)nvidia.*\[10de`)
)

// ParseLspciOutput scans PCI enumeration output for an NVIDIA VGA device.
// Lines follow the `lspci -nn` convention:
//
//	<slot> <class> [<class_id>]: <vendor> <device> [<vendor_id>:<device_id>]
//
// It returns (nil, nil) when no VGA line mentions NVIDIA, and a ParseError
// when a matching line does not carry the expected bracket patterns.
func ParseLspciOutput(output string) (*Device, error) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga") || !strings.Contains(lower, "nvidia") {
			continue
		}
		return parseDeviceLine(line)
	}
	return nil, nil
}

func parseDeviceLine(line string) (*Device, error) {
	nameLoc := namePattern.FindStringIndex(line)
	if nameLoc == nil {
		return nil, &ParseError{Missing: "vendor tag", Line: line}
	}

	idMatch := pciIDPattern.FindStringSubmatch(line)
	if idMatch == nil {
		return nil, &ParseError{Missing: "pci device id", Line: line}
	}

	// The name match ends just past "[10de"; drop the tag itself.
	name := strings.TrimSpace(line[nameLoc[0] : nameLoc[1]-len("[10de")])

	return &Device{
		Name:  name,
		PCIID: strings.ToUpper(idMatch[1]),
	}, nil
}
