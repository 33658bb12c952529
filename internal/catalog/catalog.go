// Package catalog builds the driver lookup table from NVIDIA's support
// pages and answers device queries against it: which series supports a
// device, the newest version in that series, and where to download it.
package catalog

import (
	"errors"
	"strings"

	"github.com/ntpeters/pyvidia/internal/device"
)

// Series designations. A series is current while NVIDIA still ships new
// versions for it, and legacy once it only receives the occasional fix.
const (
	DesignationCurrent = "Current"
	DesignationLegacy  = "Legacy"
)

var (
	// ErrNoDevice means no NVIDIA device was found on this host.
	ErrNoDevice = errors.New("no nvidia device detected")

	// ErrSeriesNotFound means no known driver series supports the device.
	ErrSeriesNotFound = errors.New("no driver series supports this device")
)

// Entry is one row of the lookup table: the newest driver version of a
// series, every device the series supports, and the package download URL.
type Entry struct {
	LatestVersion string          `json:"latestVersion"`
	Devices       []device.Device `json:"devices"`
	URL           string          `json:"url"`
}

// SeriesKey reduces a driver version to its series by dropping the last
// dot component: "390.87" belongs to series "390" and "340.32.12" to
// "340.32". A version with no dots is its own series.
func SeriesKey(version string) string {
	idx := strings.LastIndex(version, ".")
	if idx < 0 {
		return version
	}
	return version[:idx]
}

// Resolution is the answer to a driver lookup for one device.
type Resolution struct {
	// Device is set when the lookup probed the host itself
	Device        *device.Device `json:"device,omitempty"`
	DeviceID      string         `json:"deviceId"`
	Series        string         `json:"series"`
	Designation   string         `json:"designation"`
	LatestVersion string         `json:"latestVersion"`
	URL           string         `json:"downloadUrl"`
}

// SeriesInfo summarizes one lookup table entry.
type SeriesInfo struct {
	Series        string `json:"series"`
	LatestVersion string `json:"latestVersion"`
	URL           string `json:"url"`
	DeviceCount   int    `json:"deviceCount"`
	Designation   string `json:"designation"`
}

// Summary describes the whole lookup table, sorted by series.
type Summary struct {
	LongLived  string       `json:"longLivedVersion"`
	ShortLived string       `json:"shortLivedVersion"`
	Legacy     []string     `json:"legacyVersions"`
	Series     []SeriesInfo `json:"series"`
}
