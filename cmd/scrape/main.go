package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/bootstrap"
	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/usecase"
	"github.com/user/price-tracker/pkg/logger"
)

func main() {
	document := flag.String("document", "", "path to the crawl document (defaults to CRAWL_DOCUMENT)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-document config.json] [query...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not load config:", err)
		os.Exit(1)
	}
	if *document == "" {
		*document = cfg.CrawlDocument
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changed, err := run(ctx, cfg, *document, strings.Join(flag.Args(), " "), log)
	if err != nil {
		log.Error("scrape failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(changed)
}

func run(ctx context.Context, cfg *config.Config, document, query string, log *zap.Logger) (int, error) {
	store, err := bootstrap.OpenCatalog(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	tracker, closeTracker := bootstrap.OpenTracker(cfg, document)
	defer closeTracker()

	uc := usecase.NewScrapeUseCase(
		config.NewDocumentStore(document),
		tracker,
		bootstrap.ExtractorFactory(cfg, log),
		catalog.NewReconciler(store, log),
		monitoring.NewMetrics(prometheus.DefaultRegisterer),
		log,
		bootstrap.Options(cfg)...,
	)

	result, err := uc.Scrape(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.Changed, nil
}
