package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/api"
	"github.com/user/price-tracker/internal/bootstrap"
	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/notify"
	"github.com/user/price-tracker/internal/scheduler"
	"github.com/user/price-tracker/internal/usecase"
	"github.com/user/price-tracker/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not load config:", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	// Initialize Storage Layer
	store, err := bootstrap.OpenCatalog(baseCtx, cfg)
	if err != nil {
		log.Fatal("failed to open catalog", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close()

	tracker, closeTracker := bootstrap.OpenTracker(cfg, cfg.CrawlDocument)
	defer closeTracker()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	docs := config.NewDocumentStore(cfg.CrawlDocument)

	opts := append(bootstrap.Options(cfg), usecase.WithBaseContext(baseCtx))
	if cfg.DiscordToken != "" {
		sender, err := notify.NewDiscordSender(cfg.DiscordToken)
		if err != nil {
			log.Fatal("failed to create discord session", zap.Error(err))
		}
		opts = append(opts, usecase.WithAlerter(notify.NewWatchAlerter(store, sender, log)))
	}

	uc := usecase.NewScrapeUseCase(
		docs,
		tracker,
		bootstrap.ExtractorFactory(cfg, log),
		catalog.NewReconciler(store, log),
		metrics,
		log,
		opts...,
	)

	// Daily schedule from the crawl document
	var schedules sync.WaitGroup
	if doc, err := docs.Load(); err != nil {
		log.Warn("crawl document not loaded, schedule disabled", zap.String("path", docs.Path()), zap.Error(err))
	} else if doc.Schedule.Time != "" {
		daily, err := scheduler.NewDaily(doc.Schedule.Time, func(ctx context.Context) error {
			_, err := uc.Scrape(ctx, "")
			return err
		}, log)
		if err != nil {
			log.Fatal("invalid schedule", zap.Error(err))
		}
		schedules.Add(1)
		go func() {
			defer schedules.Done()
			daily.Run(baseCtx)
		}()
	}

	server := api.NewServer(cfg, store, uc, tracker, metrics, log)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("could not start server", zap.Error(err))
		}
	}()

	log.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Scheduled and triggered runs release the run lock before the tracker
	// is closed.
	cancelBase()
	schedules.Wait()
	uc.Wait()

	log.Info("server exiting")
}
