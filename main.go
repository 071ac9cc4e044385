package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dicom-indexer/internal/catalog"
	"dicom-indexer/internal/extractor"
	"dicom-indexer/internal/handlers"
	"dicom-indexer/internal/indexer"
	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/middleware"
	"dicom-indexer/internal/sharing"
	"dicom-indexer/internal/startup"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Catalog store and search cache
	store := catalog.NewStore(config.IndexPath)
	cache := catalog.NewCache(store)

	if idx, err := cache.Get(); err == nil {
		startup.LogIndexLoaded(idx.Len(), false)
	} else if errors.Is(err, catalog.ErrNotBuilt) {
		startup.LogIndexLoaded(0, true)
	} else {
		logging.Warn("Existing index unreadable, a fresh run will replace it: %v", err)
	}

	// Share database
	dbStart := time.Now()
	shares, err := sharing.NewManager(context.Background(), config.ShareDBPath, cache)
	if err != nil {
		startup.LogFatal("Failed to initialize share database: %v", err)
	}
	defer shares.Close()
	startup.LogShareDBInit(time.Since(dbStart))

	// Clean up expired shares and stale audit rows periodically
	go func() {
		ticker := time.NewTicker(config.ShareCleanupInterval)
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if n, err := shares.CleanupExpired(ctx, config.ShareRetention); err != nil {
				logging.Warn("Share cleanup failed: %v", err)
			} else if n > 0 {
				logging.Info("Share cleanup removed %d expired tokens", n)
			}
			cancel()
		}
	}()

	// Indexer
	startup.LogIndexerInit(config.MaxWorkers)
	extCfg := extractor.DefaultConfig()
	extCfg.PerFileTimeout = config.PerFileTimeout
	ext := extractor.New(extCfg)
	ixCfg := indexer.DefaultConfig(config.StoreDir)
	ixCfg.MaxWorkers = config.MaxWorkers
	ixCfg.LatencyThreshold = config.LatencyThreshold
	ixCfg.CheckpointFiles = config.CheckpointFiles
	ixCfg.CheckpointInterval = config.CheckpointInterval
	ixCfg.OnComplete = func() {
		if err := cache.Refresh(); err != nil {
			logging.Error("Search cache refresh failed: %v", err)
		}
	}
	ix := indexer.New(ixCfg, store, ext)

	// Initialize handlers
	h := handlers.New(ix, cache, shares, config)

	// Setup router
	router := setupRouter(h, config.MetricsEnabled)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Apply metrics middleware
	var handler http.Handler = router
	if config.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	// Create server. WriteTimeout stays 0: zip downloads are long-lived and
	// protected by the streaming timeout writer instead.
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, ix, shares)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()

	// Health and build info
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.Version).Methods("GET")

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// Public share downloads (token-authenticated, outside /api)
	r.HandleFunc("/share/{token}", h.DownloadShare).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Indexing control
	api.HandleFunc("/index/start", h.StartIndex).Methods("POST")
	api.HandleFunc("/index/status", h.IndexStatus).Methods("GET")
	api.HandleFunc("/index/cancel", h.CancelIndex).Methods("POST")
	api.HandleFunc("/index/pause", h.PauseIndex).Methods("POST")
	api.HandleFunc("/index/resume", h.ResumeIndex).Methods("POST")

	// Search
	api.HandleFunc("/search", h.Search).Methods("GET")
	api.HandleFunc("/search/suggestions", h.SearchSuggestions).Methods("GET")
	api.HandleFunc("/series/{key}", h.GetSeries).Methods("GET")

	// Shares
	api.HandleFunc("/share/create", h.CreateShare).Methods("POST")
	api.HandleFunc("/share/list", h.ListShares).Methods("GET")
	api.HandleFunc("/share/revoke", h.RevokeShare).Methods("POST")

	// Stats
	api.HandleFunc("/stats", h.Stats).Methods("GET")

	return r
}

func handleShutdown(srv *http.Server, ix *indexer.Indexer, shares *sharing.Manager) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping indexer")
	if err := ix.Cancel(); err == nil {
		ix.Wait()
	}
	startup.LogShutdownStepComplete("Indexer stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Closing share database")
	if err := shares.Close(); err != nil {
		logging.Warn("Share database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Share database closed")
	}

	startup.LogShutdownComplete()
}
