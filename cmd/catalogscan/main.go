package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/baqala/storefront/internal/platform/config"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/platform/observability"
	"github.com/baqala/storefront/internal/platform/secrets"
	platformstorage "github.com/baqala/storefront/internal/platform/storage"
	firestoreRepo "github.com/baqala/storefront/internal/repositories/firestore"
	"github.com/baqala/storefront/internal/services"
)

const runTimeout = 5 * time.Minute

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("catalogscan")
	ctx = observability.WithLogger(ctx, logger)

	secretResolver := secrets.NewLazyResolver(func() string {
		return strings.TrimSpace(os.Getenv("STOREFRONT_FIREBASE_PROJECT_ID"))
	}, secrets.WithLogger(logger.Named("secrets")))
	defer func() {
		_ = secretResolver.Close()
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(secretResolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Backend != config.BackendFirestore {
		logger.Fatal("catalog scan requires the firestore backend", zap.String("backend", cfg.Backend))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	catalog, err := firestoreRepo.NewCatalogRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}

	deps := services.CatalogIntegrityServiceDeps{
		Catalog: catalog,
		Logger:  observability.EventLogger(logger.Named("integrity")),
	}
	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewReportWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise report writer", zap.Error(err))
		}
		deps.Reports = writer
	} else {
		logger.Warn("exports bucket not configured; reports are logged only")
	}

	integrity, err := services.NewCatalogIntegrityService(deps)
	if err != nil {
		logger.Fatal("failed to initialise catalog integrity service", zap.Error(err))
	}

	run := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		report, err := integrity.Run(runCtx)
		if err != nil {
			logger.Error("catalog scan failed", zap.Error(err))
			return
		}
		logger.Info("catalog scan finished",
			zap.Int("bundles", report.BundlesScanned),
			zap.Int("issues", len(report.Issues)),
			zap.String("location", report.Location),
		)
	}

	schedule := strings.TrimSpace(cfg.Scan.Schedule)
	if schedule == "" {
		run()
		return
	}

	cronLogger := cron.VerbosePrintfLogger(zap.NewStdLog(logger.Named("cron")))
	sched := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := sched.AddFunc(schedule, run); err != nil {
		logger.Fatal("invalid scan schedule", zap.String("schedule", schedule), zap.Error(err))
	}
	sched.Start()
	logger.Info("catalog scan scheduled", zap.String("schedule", schedule))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	logger.Info("shutdown signal received; waiting for running scan")
	<-sched.Stop().Done()
}
