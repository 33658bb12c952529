// Package scrape fetches NVIDIA's driver support pages and parses them
// into device and version records. It targets the exact page layouts
// NVIDIA publishes today (legacy device table, unix driver feed, per-driver
// supported-chips pages) and is expected to break if those layouts change.
package scrape

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// FetchError reports a failed page fetch. It is distinct from ParseError
// so callers can tell an unreachable page from one whose markup changed.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports expected markup missing from a fetched page.
type ParseError struct {
	Page    string
	Missing string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: no %s found", e.Page, e.Missing)
}

// Logger receives scrape diagnostics. The default discards them.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (n noopLogger) Debugf(format string, args ...interface{}) {}
func (n noopLogger) Infof(format string, args ...interface{})  {}
func (n noopLogger) Warnf(format string, args ...interface{})  {}

// Config contains configuration for the page client.
type Config struct {
	// Timeout bounds each page fetch
	Timeout time.Duration
	// UserAgent sent with every request
	UserAgent string
	// BaseURL prefixes site-relative links ("/foo.html") found on pages
	BaseURL string
	// Logger for logging (optional)
	Logger Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   30 * time.Second,
		UserAgent: "pyvidia/1.0",
		BaseURL:   "http://www.nvidia.com",
	}
}

// Client fetches driver pages over plain HTTP. Fetches are one-shot and
// sequential; there is no retry or backoff.
type Client struct {
	httpClient *http.Client
	userAgent  string
	baseURL    string
	logger     Logger
}

// NewClient creates a new page client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://www.nvidia.com"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// FetchDocument retrieves a page and parses it into a goquery document.
func (c *Client) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debugf("Fetching %s", pageURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: pageURL, Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	return doc, nil
}

// absoluteURL resolves a site-relative href against the configured base.
// Absolute hrefs pass through untouched.
func (c *Client) absoluteURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return c.baseURL + href
	}
	return href
}

// nodeText returns the concatenated text of a node and its descendants.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// nodeAttr returns the value of an attribute, or "" when absent.
func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
