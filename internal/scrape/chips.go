package scrape

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ntpeters/pyvidia/internal/device"
)

// maxChipTables bounds how many informal tables are read from a
// supported-chips page. The product tables come first; later ones list
// chips the driver dropped.
const maxChipTables = 5

// SupportedChips fetches a driver's supported-chips page and extracts the
// devices from its product tables, in document order. Header rows use
// <th> cells and fall out on the cell count.
func (c *Client) SupportedChips(ctx context.Context, pageURL string) ([]device.Device, error) {
	doc, err := c.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	tables := doc.Find("div.informaltable")
	limit := maxChipTables
	if tables.Length() < limit {
		limit = tables.Length()
	}

	var devices []device.Device
	tables.Slice(0, limit).Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			devices = append(devices, device.Device{
				Name:  cells.Eq(0).Text(),
				PCIID: chipPCIID(cells.Eq(1).Text()),
			})
		})
	})

	c.logger.Debugf("Supported chips on %s: %d devices", pageURL, len(devices))
	return devices, nil
}

// chipPCIID takes the device ID from a chips table cell. Cells may carry
// subsystem IDs after the device ID; only the first token counts.
func chipPCIID(cell string) string {
	fields := strings.Fields(cell)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
