// Package server provides the HTTP server for pyvidia's serve mode. It
// exposes the driver catalog over a JSON API, streams logs, and pushes
// catalog refresh events to WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ntpeters/pyvidia/internal/api"
	"github.com/ntpeters/pyvidia/internal/catalog"
	"github.com/ntpeters/pyvidia/internal/config"
	"github.com/ntpeters/pyvidia/internal/device"
	"github.com/ntpeters/pyvidia/internal/logger"
	"github.com/ntpeters/pyvidia/internal/scrape"
	"github.com/ntpeters/pyvidia/internal/snapshot"
	"github.com/ntpeters/pyvidia/internal/types"
	"github.com/ntpeters/pyvidia/internal/version"
)

// Server represents the HTTP server
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     *config.Config
	resolver   *catalog.Resolver
	snapshots  *snapshot.Manager
	hub        *WebSocketHub
	log        *logger.Logger
	startedAt  time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new server wired to the given resolver. The snapshot
// manager may be nil when snapshots are disabled; the hub may be nil if no
// external component needs to emit events through it.
func NewServer(cfg *config.Config, resolver *catalog.Resolver, snapshots *snapshot.Manager, hub *WebSocketHub, log *logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if hub == nil {
		hub = NewWebSocketHub()
	}

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		engine:    gin.New(),
		config:    cfg,
		resolver:  resolver,
		snapshots: snapshots,
		hub:       hub,
		log:       log,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.engine.Use(api.RecoveryMiddleware(s.log))
	s.engine.Use(api.RequestID())
	s.engine.Use(api.ErrorHandler(s.log))
	s.engine.Use(api.LoggerMiddleware(s.log))

	if s.config.Server.CORSEnabled {
		s.engine.Use(api.CORSMiddleware(s.config.Server.AllowedOrigins))
	}
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/healthz", s.handleHealth)
		v1.GET("/version", s.handleVersion)

		v1.GET("/device", s.handleDevice)
		v1.GET("/resolve", s.handleResolve)

		v1.GET("/catalog", s.handleCatalog)
		v1.POST("/catalog/refresh", s.handleCatalogRefresh)

		v1.GET("/snapshots", s.handleSnapshotList)
		v1.GET("/snapshots/latest", s.handleSnapshotLatest)
		v1.GET("/snapshots/:id", s.handleSnapshotGet)
		v1.DELETE("/snapshots/:id", s.handleSnapshotDelete)

		v1.GET("/logs/entries", s.handleLogEntries)
		v1.GET("/logs/stream", s.handleLogStream)
		v1.GET("/logs/files", s.handleLogFiles)
		v1.GET("/logs/files/:name", s.handleLogFileRead)
	}

	s.engine.GET("/ws", s.handleWebSocket)
}

// Start begins listening for HTTP requests. It returns immediately; the
// server runs until Stop or Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("HTTP server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests for
// up to 30 seconds before forcing connections closed.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("Graceful shutdown failed, forcing close: %v", err)
			if err := s.httpServer.Close(); err != nil {
				s.log.Errorf("Failed to close HTTP server: %v", err)
			}
		}
		s.httpServer = nil
	}

	s.hub.Stop()
	s.wg.Wait()

	s.log.Infof("HTTP server stopped")
	return nil
}

// Shutdown stops the server, giving up and forcing connections closed
// when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		if s.httpServer != nil {
			s.httpServer.Close()
			s.httpServer = nil
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// GetEngine exposes the router for tests.
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	api.Success(c, gin.H{
		"status":       "ok",
		"version":      version.GetVersion(),
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
		"catalogBuilt": s.resolver.Built(),
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	api.Success(c, version.GetVersionInfo())
}

func (s *Server) handleDevice(c *gin.Context) {
	dev, err := s.resolver.Device(c.Request.Context())
	if err != nil {
		s.respondLookupError(c, err)
		return
	}
	if dev == nil {
		api.Error(c, types.ErrDeviceNotFound, "No NVIDIA device detected")
		return
	}
	api.Success(c, dev)
}

func (s *Server) handleResolve(c *gin.Context) {
	preferLong := s.config.Lookup.PreferLongLived
	switch c.Query("prefer") {
	case "":
	case "longlived":
		preferLong = true
	case "shortlived":
		preferLong = false
	default:
		api.BadRequest(c, "prefer must be longlived or shortlived")
		return
	}

	res, err := s.resolver.ResolvePrefer(c.Request.Context(), c.Query("device_id"), preferLong)
	if err != nil {
		s.respondLookupError(c, err)
		return
	}

	api.Success(c, res)
}

func (s *Server) handleCatalog(c *gin.Context) {
	summary, err := s.resolver.Summary(c.Request.Context())
	if err != nil {
		s.respondLookupError(c, err)
		return
	}
	api.Success(c, summary)
}

func (s *Server) handleCatalogRefresh(c *gin.Context) {
	ctx := c.Request.Context()

	s.hub.Emit(EventCatalogRefreshStart, nil)

	if err := s.resolver.Refresh(ctx); err != nil {
		s.hub.Emit(EventCatalogRefreshError, gin.H{"error": err.Error()})
		s.respondLookupError(c, err)
		return
	}

	summary, err := s.resolver.Summary(ctx)
	if err != nil {
		s.respondLookupError(c, err)
		return
	}

	s.hub.Emit(EventCatalogRefreshComplete, gin.H{"seriesCount": len(summary.Series)})

	result := gin.H{"catalog": summary}
	if s.snapshots != nil {
		if id, err := s.saveSnapshot(ctx, "refresh"); err != nil {
			s.log.Warnf("Failed to save catalog snapshot: %v", err)
		} else {
			result["snapshotId"] = id
		}
	}

	api.Success(c, result)
}

// saveSnapshot captures the catalog into the snapshot store and announces
// it to WebSocket clients.
func (s *Server) saveSnapshot(ctx context.Context, source string) (string, error) {
	snap, err := s.resolver.Snapshot(ctx, source)
	if err != nil {
		return "", err
	}
	if err := s.snapshots.GetStore().Save(ctx, snap); err != nil {
		return "", err
	}
	s.hub.Emit(EventSnapshotSaved, gin.H{"snapshotId": snap.ID, "source": source})
	return snap.ID, nil
}

func (s *Server) handleSnapshotList(c *gin.Context) {
	if s.snapshots == nil {
		api.Error(c, types.ErrUnavailable, "Snapshot store not enabled")
		return
	}

	limit := 20
	offset := 0
	if l := c.Query("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if o := c.Query("offset"); o != "" {
		fmt.Sscanf(o, "%d", &offset)
	}

	infos, err := s.snapshots.GetStore().List(c.Request.Context(), limit, offset)
	if err != nil {
		api.InternalError(c, err)
		return
	}

	api.Success(c, gin.H{"snapshots": infos, "count": len(infos)})
}

func (s *Server) handleSnapshotLatest(c *gin.Context) {
	if s.snapshots == nil {
		api.Error(c, types.ErrUnavailable, "Snapshot store not enabled")
		return
	}

	snap, err := s.snapshots.GetStore().Latest(c.Request.Context())
	if err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	api.Success(c, snap)
}

func (s *Server) handleSnapshotGet(c *gin.Context) {
	if s.snapshots == nil {
		api.Error(c, types.ErrUnavailable, "Snapshot store not enabled")
		return
	}

	snap, err := s.snapshots.GetStore().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	api.Success(c, snap)
}

func (s *Server) handleSnapshotDelete(c *gin.Context) {
	if s.snapshots == nil {
		api.Error(c, types.ErrUnavailable, "Snapshot store not enabled")
		return
	}

	if err := s.snapshots.GetStore().Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	api.NoContent(c)
}

func (s *Server) handleLogEntries(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	entries := logger.GetLogStream().GetEntries(limit)
	api.Success(c, gin.H{"entries": entries, "count": len(entries)})
}

// handleLogStream streams log entries to the client over SSE.
func (s *Server) handleLogStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	limit := 100
	if l := c.Query("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	stream := logger.GetLogStream()
	ch := stream.Subscribe()
	defer stream.Unsubscribe(ch)

	if c.Query("from_beginning") == "true" {
		for _, entry := range stream.GetEntries(limit) {
			c.SSEvent("log", entry)
		}
		c.Writer.Flush()
	}

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("log", entry)
			c.Writer.Flush()
		case <-keepalive.C:
			c.SSEvent("keepalive", "")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleLogFiles(c *gin.Context) {
	files, err := logger.ListLogFiles(s.config.Log.Directory, c.Query("mode"))
	if err != nil {
		api.InternalError(c, err)
		return
	}
	api.Success(c, gin.H{"files": files, "count": len(files)})
}

func (s *Server) handleLogFileRead(c *gin.Context) {
	name := c.Param("name")
	if !logger.IsLogFileName(name) {
		api.BadRequest(c, "invalid log file name")
		return
	}

	filter := logger.LogFileFilter{
		Level:  c.Query("level"),
		Search: c.Query("search"),
	}
	if l := c.Query("limit"); l != "" {
		fmt.Sscanf(l, "%d", &filter.Limit)
	}
	if o := c.Query("offset"); o != "" {
		fmt.Sscanf(o, "%d", &filter.Offset)
	}

	entries, err := logger.ReadLogFile(filepath.Join(s.config.Log.Directory, name), filter)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			api.NotFound(c, types.ErrFileNotFound, "log file")
			return
		}
		api.InternalError(c, err)
		return
	}

	api.Success(c, gin.H{"entries": entries, "count": len(entries)})
}

// respondLookupError maps resolver and scraper failures onto API error
// responses.
func (s *Server) respondLookupError(c *gin.Context, err error) {
	var fetchErr *scrape.FetchError
	var parseErr *scrape.ParseError
	var queryErr *device.QueryError

	switch {
	case errors.Is(err, catalog.ErrNoDevice):
		api.Error(c, types.ErrDeviceNotFound, "No NVIDIA device detected")
	case errors.Is(err, catalog.ErrSeriesNotFound):
		api.Error(c, types.ErrSeriesNotFound, "No known compatible driver")
	case errors.As(err, &fetchErr):
		api.ErrorWithDetails(c, types.ErrFetchFailed, "Failed to fetch NVIDIA page", err.Error())
	case errors.As(err, &parseErr):
		api.ErrorWithDetails(c, types.ErrParseFailed, "Failed to parse NVIDIA page", err.Error())
	case errors.As(err, &queryErr):
		api.ErrorWithDetails(c, types.ErrUnavailable, "Device detection unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		api.Error(c, types.ErrTimeout, "Operation timed out")
	default:
		api.InternalError(c, err)
	}
}

func (s *Server) respondSnapshotError(c *gin.Context, err error) {
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		api.NotFound(c, types.ErrSnapshotNotFound, "snapshot")
		return
	}
	api.InternalError(c, err)
}
