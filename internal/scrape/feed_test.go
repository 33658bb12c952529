package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unixPage = `<html><body>
<h1>Unix Drivers</h1>
<p>
<strong>Linux x86/IA32</strong><br>
Latest Long Lived Branch Version: <a href="/drivers/x86-long.html">391.11</a><br>
</p>
<p>
<strong>Linux x86_64/AMD64/EM64T</strong><br>
Latest Long Lived Branch Version: <a href="/drivers/long.html">390.87</a><br>
Latest Short Lived Branch Version: <a href="/drivers/short.html">396.54</a><br>
Latest Beta Version: <a href="/drivers/beta.html">396.54.02</a><br>
Legacy GPU version (340.xx series): <a href="/drivers/340.html">340.107</a><br>
Legacy GPU version (304.xx series): <a href="/drivers/304.html">304.137</a><br>
</p>
</body></html>`

const packageURL390 = "http://us.download.nvidia.com/XFree86/Linux-x86_64/390.87/NVIDIA-Linux-x86_64-390.87.run"

// newDriverSite serves a miniature copy of the NVIDIA download flow:
// the unix driver page, a driver page per version, and a license page
// per driver page. The 304 driver page is deliberately absent.
func newDriverSite() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/unix.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(unixPage))
	})
	mux.HandleFunc("/drivers/long.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/eula/390.87.html"><img alt="Download" src="btn.png"></a></body></html>`))
	})
	mux.HandleFunc("/drivers/short.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/eula/396.54.html"><img alt="download" src="btn.png"></a></body></html>`))
	})
	mux.HandleFunc("/drivers/340.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/eula/340.107.html"><img alt="Download" src="btn.png"></a></body></html>`))
	})
	mux.HandleFunc("/eula/390.87.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="` + packageURL390 + `"><img alt="Agree &amp; Download" src="btn.png"></a></body></html>`))
	})
	mux.HandleFunc("/eula/396.54.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="http://us.download.nvidia.com/XFree86/Linux-x86_64/396.54/NVIDIA-Linux-x86_64-396.54.run"><img alt="Agree &amp; Download" src="btn.png"></a></body></html>`))
	})
	mux.HandleFunc("/eula/340.107.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="http://us.download.nvidia.com/XFree86/Linux-x86_64/340.107/NVIDIA-Linux-x86_64-340.107.run"><img alt="Agree &amp; Download" src="btn.png"></a></body></html>`))
	})
	return httptest.NewServer(mux)
}

func TestVersionFeed(t *testing.T) {
	server := newDriverSite()
	defer server.Close()

	client := newTestClient(server.URL)
	feed, err := client.VersionFeed(context.Background(), server.URL+"/unix.html", ArchLabel(true))
	require.NoError(t, err)

	assert.Equal(t, "390.87", feed.LongLived)
	assert.Equal(t, "396.54", feed.ShortLived)
	assert.Equal(t, []string{"340.107", "304.137"}, feed.Legacy)

	assert.Equal(t, packageURL390, feed.DownloadURL["390.87"])
	assert.Equal(t, "http://us.download.nvidia.com/XFree86/Linux-x86_64/396.54/NVIDIA-Linux-x86_64-396.54.run", feed.DownloadURL["396.54"])
	assert.Equal(t, "http://us.download.nvidia.com/XFree86/Linux-x86_64/340.107/NVIDIA-Linux-x86_64-340.107.run", feed.DownloadURL["340.107"])

	// The 304 driver page is missing, so its chain resolves to "".
	url, ok := feed.DownloadURL["304.137"]
	assert.True(t, ok)
	assert.Equal(t, "", url)

	// The beta link carries no marker and is not a version.
	assert.NotContains(t, feed.DownloadURL, "396.54.02")
}

func TestVersionFeedSectionMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p><strong>Solaris x86/x64</strong></p></body></html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	feed, err := client.VersionFeed(context.Background(), server.URL, ArchLabel(true))
	require.NoError(t, err)

	assert.Empty(t, feed.LongLived)
	assert.Empty(t, feed.ShortLived)
	assert.Empty(t, feed.Legacy)
	assert.Empty(t, feed.DownloadURL)
}

func TestVersionFeedFetchError(t *testing.T) {
	server := newDriverSite()
	server.Close()

	client := newTestClient(server.URL)
	_, err := client.VersionFeed(context.Background(), server.URL+"/unix.html", ArchLabel(true))
	require.Error(t, err)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
}

func TestResolveDownloadURL(t *testing.T) {
	server := newDriverSite()
	defer server.Close()

	client := newTestClient(server.URL)
	url, err := client.ResolveDownloadURL(context.Background(), "/drivers/long.html")
	require.NoError(t, err)
	assert.Equal(t, packageURL390, url)
}

func TestResolveDownloadURLNoButton(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>driver details only</p></body></html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.ResolveDownloadURL(context.Background(), server.URL+"/driver.html")
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "download button", parseErr.Missing)
}

func TestResolveDownloadURLNoAgreeButton(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/driver.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/eula.html"><img alt="Download"></a></body></html>`))
	})
	mux.HandleFunc("/eula.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>license text</p></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.ResolveDownloadURL(context.Background(), "/driver.html")
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "agree and download button", parseErr.Missing)
}

func TestArchLabel(t *testing.T) {
	assert.Equal(t, "Linux x86_64/", ArchLabel(true))
	assert.Equal(t, "Linux x86/", ArchLabel(false))
}
