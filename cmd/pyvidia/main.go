// Command pyvidia reports the NVIDIA driver series required by the GPU
// installed on a Linux host, scraped live from NVIDIA's driver pages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ntpeters/pyvidia/internal/catalog"
	"github.com/ntpeters/pyvidia/internal/config"
	"github.com/ntpeters/pyvidia/internal/device"
	"github.com/ntpeters/pyvidia/internal/logger"
	"github.com/ntpeters/pyvidia/internal/scrape"
	"github.com/ntpeters/pyvidia/internal/server"
	"github.com/ntpeters/pyvidia/internal/shutdown"
	"github.com/ntpeters/pyvidia/internal/snapshot"
	"github.com/ntpeters/pyvidia/internal/types"
	"github.com/ntpeters/pyvidia/internal/version"
)

// queryOptions carries the command line selections for a one-shot query.
type queryOptions struct {
	deviceID     string
	showSeries   bool
	showLatest   bool
	showURL      bool
	preferLong   bool
	verbose      bool
	saveSnapshot bool
}

func main() {
	// Command line flags
	mode := flag.String("mode", "", "run mode: query or serve")
	showSeries := flag.Bool("series", false, "print the required driver series (default)")
	showLatest := flag.Bool("latest", false, "print the latest driver version instead of the series")
	showURL := flag.Bool("url", false, "print the driver download URL instead of the series")
	longLived := flag.Bool("longlived", false, "prefer the long lived driver branch (default)")
	shortLived := flag.Bool("shortlived", false, "prefer the short lived driver branch")
	deviceID := flag.String("deviceid", "", "look up this PCI device ID instead of detecting one")
	saveSnapshot := flag.Bool("snapshot", false, "save the resolved catalog to the snapshot store")
	configPath := flag.String("config", "", "path to the config file")
	showVersion := flag.Bool("version", false, "show version information")
	host := flag.String("host", "", "listen address (serve mode)")
	port := flag.Int("port", 0, "listen port (serve mode)")

	var verbose bool
	flag.BoolVar(&verbose, "verbose", false, "print device and resolution details")
	flag.BoolVar(&verbose, "v", false, "print device and resolution details (shorthand)")

	flag.Parse()

	// Show version information
	if *showVersion {
		fmt.Println(version.GetVersionInfo().FullString())
		os.Exit(0)
	}

	// The PCI enumeration and driver packages this tool reasons about
	// only exist on Linux.
	if runtime.GOOS != "linux" {
		fmt.Fprintf(os.Stderr, "[%s Unsupported] - pyvidia only supports Linux systems!\n", runtime.GOOS)
		os.Exit(1)
	}

	// Determine the run mode
	// Positional argument takes precedence, then the -mode flag, and the
	// default is a one-shot query.
	runMode := "query"
	args := flag.Args()
	if len(args) > 0 {
		runMode = args[0]
	} else if *mode != "" {
		runMode = *mode
	}

	if runMode != "query" && runMode != "serve" {
		fmt.Fprintf(os.Stderr, "error: invalid run mode %q, must be query or serve\n", runMode)
		os.Exit(1)
	}

	// Load configuration
	var configMgr *config.Manager
	if *configPath != "" {
		configMgr = config.NewManagerWithPath(*configPath)
	} else {
		configMgr = config.NewManager()
	}

	cfg, err := configMgr.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config file, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}

	// Command line flags override the configuration
	if *host != "" && runMode == "serve" {
		cfg.Server.Host = *host
	}
	if *port != 0 && runMode == "serve" {
		cfg.Server.Port = *port
	}

	// A query prints its answer on stdout, so unless the user asked for
	// detail keep the logger quiet.
	if runMode == "query" && !verbose {
		cfg.Log.Level = "error"
	}

	if err := logger.InitLogger(&cfg.Log, runMode); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not initialize logging: %v\n", err)
	}

	logger.Infof("pyvidia %s starting in %s mode", version.GetVersion(), runMode)
	logger.Infof("Config file: %s", configMgr.GetConfigPath())

	switch runMode {
	case "serve":
		runServe(cfg)
	default:
		prefer := cfg.Lookup.PreferLongLived
		if *longLived {
			prefer = true
		}
		if *shortLived {
			prefer = false
		}
		runQuery(cfg, queryOptions{
			deviceID:     *deviceID,
			showSeries:   *showSeries,
			showLatest:   *showLatest,
			showURL:      *showURL,
			preferLong:   prefer,
			verbose:      verbose,
			saveSnapshot: *saveSnapshot,
		})
	}
}

// newResolver assembles the scraper, detector and resolver from the
// configuration. The shared logger feeds all three.
func newResolver(cfg *config.Config, preferLong bool, progress catalog.ProgressFunc) *catalog.Resolver {
	log := logger.GetLogger()

	client := scrape.NewClient(&scrape.Config{
		Timeout:   time.Duration(cfg.HTTP.Timeout) * time.Second,
		UserAgent: cfg.HTTP.UserAgent,
		BaseURL:   cfg.Pages.DownloadBaseURL,
		Logger:    log,
	})

	detector := device.NewDetector(&device.Config{
		Backend: cfg.Detector.Backend,
		Timeout: time.Duration(cfg.Detector.Timeout) * time.Second,
		Logger:  log,
	})

	return catalog.NewResolver(catalog.Options{
		LegacyURL:       cfg.Pages.LegacyURL,
		FeedURL:         cfg.Pages.UnixDriverURL,
		ChipSupportURL:  cfg.Pages.ChipSupportURL,
		PreferLongLived: preferLong,
		Client:          client,
		Detector:        detector,
		Logger:          log,
		Progress:        progress,
	})
}

// runQuery resolves the driver for one device and prints the requested
// field on stdout.
func runQuery(cfg *config.Config, opts queryOptions) {
	ctx := context.Background()

	var progress catalog.ProgressFunc
	if opts.verbose {
		progress = func(event types.ProgressEvent) {
			fmt.Println(event.Message)
		}
	}
	resolver := newResolver(cfg, opts.preferLong, progress)

	if opts.verbose {
		fmt.Printf("OS: Linux %s\n", device.KernelArch())
	}

	id := strings.ToUpper(opts.deviceID)
	if id != "" {
		if opts.verbose {
			fmt.Println("Device ID: " + id)
		}
	} else {
		if opts.verbose {
			fmt.Println("Searching for NVIDIA device...")
		}
		dev, err := resolver.Device(ctx)
		if err != nil {
			logger.Fatalf("Device detection failed: %v", err)
		}
		if dev == nil {
			fmt.Println("No NVIDIA device detected!")
			return
		}
		if opts.verbose {
			fmt.Println("Device Found: " + dev.Name)
			fmt.Println("Device ID: " + dev.PCIID)
		}
		id = dev.PCIID
	}

	res, err := resolver.ResolvePrefer(ctx, id, opts.preferLong)
	if err != nil {
		if errors.Is(err, catalog.ErrSeriesNotFound) {
			fmt.Println("No known compatible driver!")
			return
		}
		logger.Fatalf("Driver lookup failed: %v", err)
	}

	switch {
	case opts.verbose:
		fmt.Println("Required " + res.Designation + " Driver Series: " + res.Series + ".xx")
		fmt.Println("Latest Driver Version: " + res.LatestVersion)
		fmt.Println("Download URL: " + res.URL)
	case opts.showURL:
		fmt.Println(res.URL)
	case opts.showLatest:
		fmt.Println(res.LatestVersion)
	default:
		fmt.Println(res.Series)
	}

	if opts.saveSnapshot {
		saveQuerySnapshot(ctx, cfg, resolver, opts.verbose)
	}
}

// saveQuerySnapshot persists the catalog built during this query. The
// query already printed its answer, so failures only log.
func saveQuerySnapshot(ctx context.Context, cfg *config.Config, resolver *catalog.Resolver, verbose bool) {
	mgr, err := snapshot.NewManager(&cfg.Snapshots.Store)
	if err != nil {
		logger.Errorf("Failed to open snapshot store: %v", err)
		return
	}
	defer mgr.Close()

	snap, err := resolver.Snapshot(ctx, "query")
	if err == nil {
		err = mgr.GetStore().Save(ctx, snap)
	}
	if err != nil {
		logger.Errorf("Failed to save catalog snapshot: %v", err)
		return
	}

	logger.Infof("Catalog snapshot saved: %s", snap.ID)
	if verbose {
		fmt.Println("Snapshot saved: " + snap.ID)
	}
}

// runServe starts the HTTP API and blocks until shutdown.
func runServe(cfg *config.Config) {
	hub := server.NewWebSocketHub()

	resolver := newResolver(cfg, cfg.Lookup.PreferLongLived, func(event types.ProgressEvent) {
		hub.Emit(server.EventCatalogProgress, event)
	})

	var snapshots *snapshot.Manager
	if cfg.Snapshots.Enabled {
		var err error
		snapshots, err = snapshot.NewManager(&cfg.Snapshots.Store)
		if err != nil {
			logger.Fatalf("Failed to open snapshot store: %v", err)
		}
		logger.Infof("Snapshot store: %s", cfg.Snapshots.Store.Type)
	}

	srv, err := server.NewServer(cfg, resolver, snapshots, hub, logger.GetLogger())
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	// Graceful shutdown manager
	shutdownMgr := shutdown.NewManager(10 * time.Second)

	// Stop accepting connections first, then release the store, and
	// flush logs last.
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}, shutdown.PriorityCritical)

	if snapshots != nil {
		shutdownMgr.Register("snapshot-store", func(ctx context.Context) error {
			return snapshots.Close()
		}, shutdown.PriorityNormal)
	}

	shutdownMgr.Register("logger", func(ctx context.Context) error {
		logger.Info("Log system shutting down")
		return nil
	}, shutdown.PriorityLow)

	if err := srv.Start(); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	shutdownMgr.Start()

	logger.Infof("HTTP server listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("✓ pyvidia %s\n", version.GetVersion())
	fmt.Printf("✓ HTTP server listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("✓ API: http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("✓ WebSocket: ws://localhost:%d/ws\n", cfg.Server.Port)
	fmt.Println("\nPress Ctrl+C to stop...")

	// Wait for a shutdown signal or completion
	select {
	case <-shutdownMgr.Context().Done():
		// Shutdown initiated
	case <-shutdownMgr.Done():
		// Shutdown complete
	}

	shutdownMgr.Wait()

	logger.Info("Server stopped")
	fmt.Println("✓ Server stopped")
}
