package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntpeters/pyvidia/internal/device"
)

func chipTable(rows string) string {
	return `<div class="informaltable"><table>
<tr><th>NVIDIA GPU product</th><th>Device PCI ID</th></tr>
` + rows + `</table></div>`
}

func TestSupportedChips(t *testing.T) {
	page := `<html><body>` +
		chipTable(`<tr><td>GeForce GTX 1080</td><td>1B80</td></tr>
<tr><td>GeForce GTX 1070</td><td>1b82</td></tr>`) +
		chipTable(`<tr><td>Quadro P6000</td><td>1B30 10DE 11A0</td></tr>`) +
		chipTable(`<tr><td>Unannounced chip</td><td> </td></tr>`) +
		`</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	devices, err := client.SupportedChips(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, []device.Device{
		{Name: "GeForce GTX 1080", PCIID: "1B80"},
		{Name: "GeForce GTX 1070", PCIID: "1B82"},
		{Name: "Quadro P6000", PCIID: "1B30"},
		{Name: "Unannounced chip", PCIID: ""},
	}, devices)
}

func TestSupportedChipsTableLimit(t *testing.T) {
	page := `<html><body>`
	for i := 0; i < 7; i++ {
		page += chipTable(fmt.Sprintf(`<tr><td>Chip %d</td><td>%04X</td></tr>`, i, 0x1000+i))
	}
	page += `</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	devices, err := client.SupportedChips(context.Background(), server.URL)
	require.NoError(t, err)

	require.Len(t, devices, 5)
	assert.Equal(t, "Chip 0", devices[0].Name)
	assert.Equal(t, "Chip 4", devices[4].Name)
}

func TestSupportedChipsNoTables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>README without chip tables</p></body></html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	devices, err := client.SupportedChips(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestSupportedChipsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.SupportedChips(context.Background(), server.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
}
