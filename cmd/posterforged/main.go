package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/config"
	"github.com/posterforge/posterforge/internal/download"
	"github.com/posterforge/posterforge/internal/exportlog"
	"github.com/posterforge/posterforge/internal/item"
	"github.com/posterforge/posterforge/internal/job"
	"github.com/posterforge/posterforge/internal/limiter"
	"github.com/posterforge/posterforge/internal/media"
	"github.com/posterforge/posterforge/internal/media/jellyfin"
	"github.com/posterforge/posterforge/internal/media/plex"
	"github.com/posterforge/posterforge/internal/server"
	"github.com/posterforge/posterforge/internal/thumbnail"
	"github.com/posterforge/posterforge/pkg/events"
	"github.com/posterforge/posterforge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "posterforge.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("posterforge starting",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("max_concurrent_jobs", cfg.Jobs.MaxConcurrent),
		zap.Int("item_concurrency", cfg.Jobs.ItemConcurrency),
		zap.Int("max_inflight_downloads", cfg.Download.MaxInflight))

	servers := make(map[string]media.Server, len(cfg.Sources))
	adapters := make(map[string]media.Adapter, len(cfg.Sources))
	enrichers := make(map[string]media.Enricher, len(cfg.Sources))
	for _, src := range cfg.Sources {
		srv := media.Server{
			Name:    src.Name,
			Type:    media.SourceType(src.Type),
			BaseURL: src.BaseURL,
			Token:   src.Token,
		}
		servers[src.Name] = srv

		var adapter media.Adapter
		switch srv.Type {
		case media.SourcePlex:
			adapter = plex.NewClient(srv)
		case media.SourceJellyfin:
			adapter = jellyfin.NewClient(srv)
		}
		adapters[src.Name] = adapter
		enrichers[src.Name] = adapter
	}

	lim := limiter.New(cfg.Download.MaxInflight)
	fetcher := download.NewFetcher(cfg.Download, lim, log)

	var thumbs *thumbnail.Generator
	if cfg.Export.GenerateThumbnails {
		thumbs = thumbnail.NewGenerator(cfg.Export.ThumbnailCacheDir, log)
	}

	logs := exportlog.NewManager(cfg.ExportLogs.Dir, cfg.ExportLogs.RotateBytes, cfg.ExportLogs.RetainBytes)
	bus := events.NewBus(log)
	processor := item.NewProcessor(fetcher, thumbs, cfg.Export, cfg.Jobs.AssetConcurrency, enrichers, log)
	orch := job.NewOrchestrator(
		cfg.Jobs.MaxConcurrent,
		cfg.Jobs.ItemConcurrency,
		servers,
		adapters,
		processor,
		logs,
		bus,
		log,
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(orch, bus, servers, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
}
