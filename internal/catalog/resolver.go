package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ntpeters/pyvidia/internal/config"
	"github.com/ntpeters/pyvidia/internal/device"
	"github.com/ntpeters/pyvidia/internal/scrape"
	"github.com/ntpeters/pyvidia/internal/snapshot"
	"github.com/ntpeters/pyvidia/internal/types"
)

// Logger receives build and lookup diagnostics.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type noopLogger struct{}

func (n noopLogger) Debugf(format string, args ...interface{}) {}
func (n noopLogger) Infof(format string, args ...interface{})  {}
func (n noopLogger) Warnf(format string, args ...interface{})  {}

// ProgressFunc receives build progress events.
type ProgressFunc func(types.ProgressEvent)

// Options configures a Resolver. Zero-value URL fields fall back to the
// live NVIDIA pages.
type Options struct {
	// LegacyURL is the page listing retired series and their devices
	LegacyURL string
	// FeedURL is the unix driver page announcing current versions
	FeedURL string
	// ChipSupportURL is a printf template taking one driver version
	ChipSupportURL string
	// ArchLabel selects the feed section; empty probes the host kernel
	ArchLabel string
	// PreferLongLived resolves to the long lived branch when a device
	// is supported by both current branches
	PreferLongLived bool

	Client   *scrape.Client
	Detector *device.Detector
	Logger   Logger
	Progress ProgressFunc
}

// Resolver owns the lookup table. The table is built lazily on the first
// query and kept until Refresh; all methods are safe for concurrent use.
type Resolver struct {
	opts Options
	log  Logger

	mu    sync.Mutex
	table map[string]*Entry
	feed  *scrape.Feed
	built bool
}

// NewResolver creates a resolver, filling unset options with defaults.
func NewResolver(opts Options) *Resolver {
	if opts.Client == nil {
		opts.Client = scrape.NewClient(nil)
	}
	if opts.Detector == nil {
		opts.Detector = device.NewDetector(nil)
	}
	if opts.LegacyURL == "" {
		opts.LegacyURL = config.DefaultLegacyURL
	}
	if opts.FeedURL == "" {
		opts.FeedURL = config.DefaultUnixDriverURL
	}
	if opts.ChipSupportURL == "" {
		opts.ChipSupportURL = config.DefaultChipSupportURL
	}
	if opts.ArchLabel == "" {
		opts.ArchLabel = scrape.ArchLabel(device.Is64BitHost())
	}

	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}

	return &Resolver{opts: opts, log: log}
}

func (r *Resolver) emit(event types.ProgressEvent) {
	if r.opts.Progress != nil {
		r.opts.Progress(event)
	}
}

// ensureBuiltLocked builds the lookup table on first use. The caller
// holds r.mu.
func (r *Resolver) ensureBuiltLocked(ctx context.Context) error {
	if r.built {
		return nil
	}
	return r.buildLocked(ctx)
}

// buildLocked assembles the lookup table from the three page kinds.
//
// Legacy sections come first: the first section of a series fixes its
// version and URL, later ones only contribute devices. The two current
// branches follow, and their supported-chips pages are merged pairwise,
// truncated to the shorter list. The caller holds r.mu.
func (r *Resolver) buildLocked(ctx context.Context) error {
	r.emit(types.ProgressEvent{Stage: types.StageFeed, Message: "Fetching current driver versions", URL: r.opts.FeedURL})
	feed, err := r.opts.Client.VersionFeed(ctx, r.opts.FeedURL, r.opts.ArchLabel)
	if err != nil {
		return fmt.Errorf("version feed: %w", err)
	}

	r.emit(types.ProgressEvent{Stage: types.StageLegacy, Message: "Fetching legacy device table", URL: r.opts.LegacyURL})
	sections, err := r.opts.Client.LegacyDeviceTable(ctx, r.opts.LegacyURL)
	if err != nil {
		return fmt.Errorf("legacy device table: %w", err)
	}

	table := make(map[string]*Entry)
	versionSet := make(map[string]bool)
	urlSet := make(map[string]bool)

	ensure := func(series string) *Entry {
		e, ok := table[series]
		if !ok {
			e = &Entry{}
			table[series] = e
		}
		return e
	}

	for _, sec := range sections {
		if len(sec.Devices) == 0 {
			continue
		}
		latest := ""
		for _, v := range feed.Legacy {
			if strings.Contains(v, sec.Series) {
				latest = v
				break
			}
		}
		e := ensure(sec.Series)
		if !versionSet[sec.Series] {
			e.LatestVersion = latest
			versionSet[sec.Series] = true
		}
		if !urlSet[sec.Series] {
			if u, ok := feed.DownloadURL[latest]; ok {
				e.URL = u
				urlSet[sec.Series] = true
			}
		}
		e.Devices = append(e.Devices, sec.Devices...)
	}

	longKey := SeriesKey(feed.LongLived)
	shortKey := SeriesKey(feed.ShortLived)

	setCurrent := func(key, version string) {
		if version == "" {
			return
		}
		e := ensure(key)
		if !versionSet[key] {
			e.LatestVersion = version
			versionSet[key] = true
		}
		e.URL = feed.DownloadURL[version]
	}
	setCurrent(longKey, feed.LongLived)
	setCurrent(shortKey, feed.ShortLived)

	if feed.LongLived != "" && feed.ShortLived != "" {
		longURL := fmt.Sprintf(r.opts.ChipSupportURL, feed.LongLived)
		shortURL := fmt.Sprintf(r.opts.ChipSupportURL, feed.ShortLived)

		r.emit(types.ProgressEvent{Stage: types.StageChips, Message: "Fetching supported chips for " + feed.LongLived, URL: longURL})
		longDevices, err := r.opts.Client.SupportedChips(ctx, longURL)
		if err != nil {
			return fmt.Errorf("supported chips for %s: %w", feed.LongLived, err)
		}

		r.emit(types.ProgressEvent{Stage: types.StageChips, Message: "Fetching supported chips for " + feed.ShortLived, URL: shortURL})
		shortDevices, err := r.opts.Client.SupportedChips(ctx, shortURL)
		if err != nil {
			return fmt.Errorf("supported chips for %s: %w", feed.ShortLived, err)
		}

		longEntry := ensure(longKey)
		shortEntry := ensure(shortKey)
		n := len(longDevices)
		if len(shortDevices) < n {
			n = len(shortDevices)
		}
		for i := 0; i < n; i++ {
			longEntry.Devices = append(longEntry.Devices, longDevices[i])
			shortEntry.Devices = append(shortEntry.Devices, shortDevices[i])
		}
	}

	r.table = table
	r.feed = feed
	r.built = true
	r.emit(types.ProgressEvent{Stage: types.StageMerge, Message: "Driver lookup table ready", Count: len(table)})
	r.log.Infof("Driver lookup table built: %d series", len(table))
	return nil
}

// Resolve finds the driver series supporting a device. With an empty
// deviceID the host is probed for an NVIDIA device first.
func (r *Resolver) Resolve(ctx context.Context, deviceID string) (*Resolution, error) {
	return r.resolve(ctx, deviceID, r.opts.PreferLongLived)
}

// ResolvePrefer is Resolve with an explicit branch preference, for
// callers that decide per lookup rather than per process.
func (r *Resolver) ResolvePrefer(ctx context.Context, deviceID string, preferLongLived bool) (*Resolution, error) {
	return r.resolve(ctx, deviceID, preferLongLived)
}

func (r *Resolver) resolve(ctx context.Context, deviceID string, preferLong bool) (*Resolution, error) {
	res := &Resolution{}
	if deviceID == "" {
		dev, err := r.opts.Detector.Detect(ctx)
		if err != nil {
			return nil, err
		}
		if dev == nil {
			return nil, ErrNoDevice
		}
		res.Device = dev
		deviceID = dev.PCIID
	}
	res.DeviceID = strings.ToUpper(deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBuiltLocked(ctx); err != nil {
		return nil, err
	}

	longKey := SeriesKey(r.feed.LongLived)
	shortKey := SeriesKey(r.feed.ShortLived)

	for series, entry := range r.table {
		// The non-preferred current branch only answers for devices
		// its counterpart does not cover, i.e. when both branches map
		// to the same series key.
		if preferLong && series == shortKey && series != longKey {
			continue
		}
		if !preferLong && series == longKey && series != shortKey {
			continue
		}
		for _, dev := range entry.Devices {
			if strings.EqualFold(dev.PCIID, res.DeviceID) {
				res.Series = series
				res.LatestVersion = entry.LatestVersion
				res.URL = entry.URL
				if series == longKey || series == shortKey {
					res.Designation = DesignationCurrent
				} else {
					res.Designation = DesignationLegacy
				}
				return res, nil
			}
		}
	}
	return nil, ErrSeriesNotFound
}

// RequiredSeries returns the series supporting the device and whether it
// is a current or legacy series.
func (r *Resolver) RequiredSeries(ctx context.Context, deviceID string) (string, string, error) {
	res, err := r.Resolve(ctx, deviceID)
	if err != nil {
		return "", "", err
	}
	return res.Series, res.Designation, nil
}

// LatestVersion returns the newest driver version supporting the device.
func (r *Resolver) LatestVersion(ctx context.Context, deviceID string) (string, error) {
	res, err := r.Resolve(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return res.LatestVersion, nil
}

// DownloadURL returns the driver package URL for the device, which may
// be "" when the download chain could not be followed.
func (r *Resolver) DownloadURL(ctx context.Context, deviceID string) (string, error) {
	res, err := r.Resolve(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

// Device probes the host for an NVIDIA device without consulting the
// lookup table. It returns (nil, nil) when the host has none.
func (r *Resolver) Device(ctx context.Context) (*device.Device, error) {
	return r.opts.Detector.Detect(ctx)
}

// Built reports whether the lookup table has been built yet.
func (r *Resolver) Built() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built
}

// Refresh rebuilds the lookup table from the live pages, replacing the
// previous table only on success.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(ctx)
}

// Summary returns a sorted view of the lookup table for API clients.
func (r *Resolver) Summary(ctx context.Context) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBuiltLocked(ctx); err != nil {
		return nil, err
	}

	longKey := SeriesKey(r.feed.LongLived)
	shortKey := SeriesKey(r.feed.ShortLived)

	summary := &Summary{
		LongLived:  r.feed.LongLived,
		ShortLived: r.feed.ShortLived,
		Legacy:     append([]string(nil), r.feed.Legacy...),
	}
	for series, entry := range r.table {
		designation := DesignationLegacy
		if series == longKey || series == shortKey {
			designation = DesignationCurrent
		}
		summary.Series = append(summary.Series, SeriesInfo{
			Series:        series,
			LatestVersion: entry.LatestVersion,
			URL:           entry.URL,
			DeviceCount:   len(entry.Devices),
			Designation:   designation,
		})
	}
	sort.Slice(summary.Series, func(i, j int) bool {
		return summary.Series[i].Series < summary.Series[j].Series
	})
	return summary, nil
}

// Snapshot captures the lookup table as a persistable snapshot.
func (r *Resolver) Snapshot(ctx context.Context, source string) (*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureBuiltLocked(ctx); err != nil {
		return nil, err
	}

	snap := &snapshot.Snapshot{Source: source}
	keys := make([]string, 0, len(r.table))
	for series := range r.table {
		keys = append(keys, series)
	}
	sort.Strings(keys)
	for _, series := range keys {
		entry := r.table[series]
		record := snapshot.SeriesRecord{
			Series:        series,
			LatestVersion: entry.LatestVersion,
			DownloadURL:   entry.URL,
		}
		for _, dev := range entry.Devices {
			record.Devices = append(record.Devices, snapshot.DeviceRecord{Name: dev.Name, PCIID: dev.PCIID})
		}
		snap.Series = append(snap.Series, record)
	}
	return snap, nil
}
