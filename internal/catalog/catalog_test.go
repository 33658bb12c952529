package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesKey(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		expected string
	}{
		{
			name:     "current version",
			version:  "390.87",
			expected: "390",
		},
		{
			name:     "point release",
			version:  "340.32.12",
			expected: "340.32",
		},
		{
			name:     "no dot is its own series",
			version:  "340",
			expected: "340",
		},
		{
			name:     "empty version",
			version:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SeriesKey(tt.version))
		})
	}
}
