package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"siteintel/internal/config"
	"siteintel/internal/fetcher"
	"siteintel/internal/intel"
	"siteintel/internal/robots"
	"siteintel/internal/scan"
	"siteintel/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	target := flag.String("url", "", "Target URL to scan")
	flag.Parse()

	if strings.TrimSpace(*target) == "" {
		fmt.Fprintln(os.Stderr, "usage: siteintel -url <target> [-config <path>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	db, err := store.New(cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	orch, err := buildOrchestrator(*cfg, db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise pipeline: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scanID, err := orch.StartScan(ctx, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan not started: %v\n", err)
		os.Exit(1)
	}
	orch.Wait()

	sc, err := db.GetScan(ctx, scanID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan finished but could not be read back: %v\n", err)
		os.Exit(1)
	}

	fetches, err := db.CountFetches(ctx, scanID)
	if err != nil {
		logger.Warn("fetch count unavailable", "error", err)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"scan_id":     sc.ID,
		"domain_id":   sc.DomainID,
		"status":      sc.Status,
		"is_active":   sc.IsActive,
		"status_code": sc.StatusCode,
		"fetches":     fetches,
		"error":       sc.Error,
	}, "", "  ")
	fmt.Println(string(out))

	if sc.Status != "completed" {
		os.Exit(1)
	}
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
