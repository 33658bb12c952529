package scrape

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Section labels on the unix driver page, one per architecture. The
// trailing slash keeps "Linux x86/" from matching the x86_64 header.
const (
	labelLinux64 = "Linux x86_64/"
	labelLinux32 = "Linux x86/"
)

// Text markers that precede version links inside an architecture section.
const (
	markerLongLived  = "Long Lived"
	markerShortLived = "Short Lived"
	markerLegacy     = ".xx series"
)

// ArchLabel returns the unix page section label for the host word size.
func ArchLabel(is64Bit bool) string {
	if is64Bit {
		return labelLinux64
	}
	return labelLinux32
}

// Feed holds the driver versions announced for one architecture on the
// unix driver page, along with the download URL resolved for each one.
// A version whose download chain could not be followed maps to "".
type Feed struct {
	LongLived   string
	ShortLived  string
	Legacy      []string
	DownloadURL map[string]string
}

// VersionFeed fetches the unix driver page and extracts the current and
// legacy driver versions for the section matching archLabel.
//
// The section is the first <p> whose first <strong> contains the label.
// Within it, text nodes announce what the next link holds ("Long Lived",
// "Short Lived", ".xx series") and the link that follows carries the
// version number. A page without the section yields an empty feed.
func (c *Client) VersionFeed(ctx context.Context, pageURL, archLabel string) (*Feed, error) {
	doc, err := c.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	feed := &Feed{DownloadURL: make(map[string]string)}

	var section *html.Node
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		header := p.Find("strong").First()
		if header.Length() > 0 && strings.Contains(header.Text(), archLabel) {
			section = p.Get(0)
			return false
		}
		return true
	})
	if section == nil {
		c.logger.Warnf("No %q section on %s", archLabel, pageURL)
		return feed, nil
	}

	var longNext, shortNext, legacyNext bool
	for n := section.FirstChild; n != nil; n = n.NextSibling {
		switch {
		case n.Type == html.TextNode:
			text := n.Data
			if strings.Contains(text, markerLongLived) {
				longNext = true
			} else if strings.Contains(text, markerShortLived) {
				shortNext = true
			} else if strings.Contains(text, markerLegacy) {
				legacyNext = true
			}
		case n.Type == html.ElementNode && n.Data == "a":
			version := nodeText(n)
			if longNext && feed.LongLived == "" {
				feed.LongLived = version
				feed.DownloadURL[version] = c.downloadURL(ctx, version, nodeAttr(n, "href"))
				longNext = false
			} else if shortNext && feed.ShortLived == "" {
				feed.ShortLived = version
				feed.DownloadURL[version] = c.downloadURL(ctx, version, nodeAttr(n, "href"))
				shortNext = false
			} else if legacyNext {
				feed.Legacy = append(feed.Legacy, version)
				feed.DownloadURL[version] = c.downloadURL(ctx, version, nodeAttr(n, "href"))
				legacyNext = false
			}
		}
	}

	c.logger.Debugf("Version feed for %q: long lived %q, short lived %q, %d legacy",
		archLabel, feed.LongLived, feed.ShortLived, len(feed.Legacy))
	return feed, nil
}

// downloadURL follows the download chain for one version link, mapping
// failures to "" so a single broken chain does not sink the whole feed.
func (c *Client) downloadURL(ctx context.Context, version, href string) string {
	u, err := c.ResolveDownloadURL(ctx, href)
	if err != nil {
		c.logger.Warnf("Could not resolve download URL for %s: %v", version, err)
		return ""
	}
	return u
}

// ResolveDownloadURL follows a version link from the unix driver page
// through the driver page and its license page to the final package URL.
//
// The driver page links its download button image to the license page,
// and the license page links its "Agree & Download" image to the package.
// Both pages are fetched; the final URL is returned as written.
func (c *Client) ResolveDownloadURL(ctx context.Context, href string) (string, error) {
	driverURL := c.absoluteURL(href)
	doc, err := c.FetchDocument(ctx, driverURL)
	if err != nil {
		return "", err
	}

	button := doc.Find(`img[alt="Download"]`).First()
	if button.Length() == 0 {
		button = doc.Find(`img[alt="download"]`).First()
	}
	if button.Length() == 0 {
		return "", &ParseError{Page: driverURL, Missing: "download button"}
	}
	eulaHref, ok := button.Parent().Attr("href")
	if !ok {
		return "", &ParseError{Page: driverURL, Missing: "download button link"}
	}

	eulaURL := c.absoluteURL(eulaHref)
	eulaDoc, err := c.FetchDocument(ctx, eulaURL)
	if err != nil {
		return "", err
	}

	agree := eulaDoc.Find(`img[alt="Agree & Download"]`).First()
	if agree.Length() == 0 {
		return "", &ParseError{Page: eulaURL, Missing: "agree and download button"}
	}
	packageURL, ok := agree.Parent().Attr("href")
	if !ok {
		return "", &ParseError{Page: eulaURL, Missing: "agree and download link"}
	}

	return packageURL, nil
}
