package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"siteintel/internal/api"
	"siteintel/internal/config"
	"siteintel/internal/fetcher"
	"siteintel/internal/intel"
	"siteintel/internal/robots"
	"siteintel/internal/scan"
	"siteintel/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	logger := newLogger(cfg.Logging)

	db, err := store.New(cfg.DB)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	orch, err := buildOrchestrator(*cfg, db, logger)
	if err != nil {
		log.Fatalf("failed to initialise pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(orch, db)
	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		orch.Wait()
	}()

	logger.Info("api server listening", "addr", cfg.API.Addr, "max_concurrent_scans", cfg.API.MaxConcurrentScans)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("api server stopped")
}

func buildOrchestrator(cfg config.Config, db *store.Store, logger *slog.Logger) (*scan.Orchestrator, error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		return nil, err
	}

	var browser fetcher.Fetcher
	if cfg.Browser.Enabled {
		browser = fetcher.NewBrowserFetcher(fetcher.RenderOptions{
			Timeout:            cfg.Browser.Timeout.Duration,
			CaptureDelay:       cfg.Browser.CaptureDelay.Duration,
			UserAgent:          cfg.Fetch.UserAgent,
			MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
			DisableHeadless:    cfg.Browser.DisableHeadless,
			ConcurrentSessions: cfg.Browser.ConcurrentSessions,
		}, logger)
	}

	agent := robots.NewAgent(cfg.Robots.UserAgent, cfg.Robots.CacheTTL.Duration, httpFetcher.Client())

	collector := intel.NewCollector(intel.Options{
		Client:       httpFetcher.Client(),
		RDAPEndpoint: cfg.Intel.RDAPEndpoint,
		UserAgent:    cfg.Fetch.UserAgent,
		Logger:       logger,
	})

	return scan.New(scan.Options{
		Store:   db,
		HTTP:    httpFetcher,
		Browser: browser,
		Robots:  agent,
		Intel:   collector,
		Config:  cfg,
		Logger:  logger,
	})
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
