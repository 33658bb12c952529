package scrape

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ntpeters/pyvidia/internal/device"
)

// legacyHeaderMarker flags the headers that introduce one driver series
// on the legacy GPU page ("The 340.xx driver supports...").
const legacyHeaderMarker = ".xx driver"

var (
	// seriesPattern pulls the numeric series out of a header. Greedy
	// matching picks up the trailing dot before "xx" ("340.xx" yields
	// "340."), which callers trim off.
	seriesPattern = regexp.MustCompile(`[0-9]+\.?[0-9]*\.?[0-9]*`)

	// hexRunPattern matches PCI ID candidates in a device table cell.
	hexRunPattern = regexp.MustCompile(`[0-9A-Fa-f]{4}`)
)

// LegacySection groups the devices listed under one driver series header
// on the legacy GPU page.
type LegacySection struct {
	Series  string
	Devices []device.Device
}

// LegacyDeviceTable fetches the legacy GPU page and extracts every series
// section it lists, in document order.
//
// A section is a header whose own text contains ".xx driver" followed,
// two siblings past the header's parent, by a table of device name and
// PCI ID pairs. Headers without a series number or a table in that
// position are skipped with a warning.
func (c *Client) LegacyDeviceTable(ctx context.Context, pageURL string) ([]LegacySection, error) {
	doc, err := c.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var sections []LegacySection
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		header := sel.Get(0)
		if !hasHeaderText(header) {
			return
		}
		series := strings.TrimSuffix(seriesPattern.FindString(nodeText(header)), ".")
		if series == "" {
			c.logger.Warnf("Legacy header without a series number on %s", pageURL)
			return
		}
		table := headerTable(header)
		if table == nil {
			c.logger.Warnf("No device table after the %s.xx header on %s", series, pageURL)
			return
		}
		sections = append(sections, LegacySection{
			Series:  series,
			Devices: tableDevices(table),
		})
	})

	c.logger.Debugf("Legacy device table on %s: %d sections", pageURL, len(sections))
	return sections, nil
}

// hasHeaderText reports whether one of the node's own text children
// mentions a driver series. Text inside nested elements belongs to them,
// so each header matches exactly one node.
func hasHeaderText(n *html.Node) bool {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode && strings.Contains(child.Data, legacyHeaderMarker) {
			return true
		}
	}
	return false
}

// headerTable walks from a series header to its device table: the second
// sibling of the header's parent, the first being the whitespace between
// the two elements.
func headerTable(header *html.Node) *html.Node {
	parent := header.Parent
	if parent == nil {
		return nil
	}
	table := parent.NextSibling
	if table != nil {
		table = table.NextSibling
	}
	if table == nil || table.Type != html.ElementNode {
		return nil
	}
	return table
}

// tableDevices extracts the device rows of one section table. Rows with
// fewer than two cells, column header rows, and rows whose second cell
// carries no usable PCI ID are dropped.
func tableDevices(table *html.Node) []device.Device {
	var devices []device.Device
	goquery.NewDocumentFromNode(table).Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		name := cells.Eq(0).Text()
		if strings.Contains(name, "GPU product") || strings.Contains(name, "Device") {
			return
		}
		id := devicePCIID(cells.Eq(1).Text())
		if id == "" {
			return
		}
		devices = append(devices, device.Device{Name: name, PCIID: id})
	})
	return devices
}

// devicePCIID extracts the device PCI ID from a table cell, skipping the
// NVIDIA vendor ID when the cell lists both.
func devicePCIID(cell string) string {
	for _, run := range hexRunPattern.FindAllString(cell, -1) {
		if strings.EqualFold(run, "10DE") {
			continue
		}
		return strings.ToUpper(run)
	}
	return ""
}
