// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/netSkope/splist-mirror/internal/config"
	"github.com/netSkope/splist-mirror/internal/engine"
	splog "github.com/netSkope/splist-mirror/internal/log"
	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/s3"
	"github.com/netSkope/splist-mirror/internal/sharepoint"
	"github.com/netSkope/splist-mirror/internal/store"
	"github.com/netSkope/splist-mirror/internal/util"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	exitUsage   = 1
	exitFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			fmt.Println(config.Usage)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		}
		return exitUsage
	}

	runID := uuid.NewString()
	logger, closeLog, err := splog.NewLogger(splog.Options{
		Dir:    cfg.LogDir,
		Name:   cfg.LogName,
		Debug:  cfg.Debug,
		Stdout: cfg.LogStdout,
		RunID:  runID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Started",
		zap.String("site", cfg.SiteURL),
		zap.String("root", cfg.LocalRoot))

	collector := metrics.NewCollector()
	summary, err := mirrorSite(ctx, cfg, runID, collector, logger)
	collector.RunFinished(err == nil)
	if werr := collector.WriteTextfile(cfg.MetricsFile); werr != nil {
		logger.Warn("Failed to write metrics file",
			zap.String("path", cfg.MetricsFile),
			zap.Error(werr))
	}

	printSummary(cfg, runID, summary, err)

	if err != nil {
		logger.Error("Terminated with error for site",
			zap.String("site", cfg.SiteURL),
			zap.Error(err))
		return exitFailure
	}
	logger.Info("Finished successful for site", zap.String("site", cfg.SiteURL))
	return 0
}

// mirrorSite wires the optional sinks and runs the engine.
func mirrorSite(ctx context.Context, cfg *config.Config, runID string, collector *metrics.Collector, logger *zap.Logger) (engine.Summary, error) {
	if cfg.NeedsPasswordResolution() {
		pwd, err := util.ResolveSitePassword(ctx, cfg.PasswordSecret, cfg.PasswordSecretRegion)
		if err != nil {
			return engine.Summary{}, fmt.Errorf("failed to resolve site password: %w", err)
		}
		cfg.Password = pwd
	}

	client, err := sharepoint.NewClient(sharepoint.Options{
		SiteURL:     cfg.SiteURL,
		Username:    cfg.Username,
		Password:    cfg.Password,
		AccessToken: cfg.AccessToken,
		PageSize:    cfg.PageSize,
		Timeout:     cfg.Timeout(),
	}, logger)
	if err != nil {
		return engine.Summary{}, err
	}

	fs := afero.NewOsFs()
	opts := engine.Options{
		Remote:        client,
		Fs:            fs,
		LocalRoot:     cfg.LocalRoot,
		IncludeHeader: cfg.IncludeHeader,
		MaxPages:      cfg.PageLimit(),
		Metrics:       collector,
		Logger:        logger,
	}

	if cfg.S3Bucket != "" {
		uploader, err := s3.NewUploader(ctx, cfg, fs, logger)
		if err != nil {
			return engine.Summary{}, fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		opts.Archiver = uploader
	}

	if cfg.LedgerHost != "" {
		db, err := store.NewSQLClient(ctx, cfg.GetLedgerHost(), cfg.LedgerUser, cfg.LedgerPassword, 0, cfg.LedgerDatabase)
		if err != nil {
			return engine.Summary{}, fmt.Errorf("failed to connect to ledger: %w", err)
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logger.Warn("Failed to close ledger", zap.Error(cerr))
			}
		}()

		ledger, err := store.NewLedger(ctx, db, runID, logger)
		if err != nil {
			return engine.Summary{}, err
		}
		opts.Ledger = ledger
	}

	return engine.New(opts).Run(ctx)
}

func printSummary(cfg *config.Config, runID string, summary engine.Summary, err error) {
	rows := 0
	for _, csvFile := range summary.CSVFiles {
		rows += csvFile.RowCount
	}

	fmt.Printf("\n=== Mirror Summary ===\n")
	fmt.Printf("Run ID: %s\n", runID)
	fmt.Printf("Site: %s\n", cfg.SiteURL)
	fmt.Printf("Local root: %s\n", cfg.LocalRoot)
	fmt.Printf("Lists processed: %d\n", summary.Lists)
	fmt.Printf("Records read: %d\n", summary.Records)
	fmt.Printf("CSV files written: %d (%d rows)\n", len(summary.CSVFiles), rows)
	fmt.Printf("CSV files skipped: %d\n", summary.CSVSkipped)
	fmt.Printf("CSV archive failures: %d\n", summary.CSVErrors)
	fmt.Printf("Documents downloaded: %d\n", summary.Files.Downloaded)
	fmt.Printf("Documents already present: %d\n", summary.Files.Existing)
	fmt.Printf("Items ignored: %d\n", summary.Files.Ignored)
	fmt.Printf("Documents failed: %d\n", summary.Files.Errors)

	if cfg.S3Bucket != "" && len(summary.CSVFiles) > 0 {
		fmt.Printf("\nCSV files archived to S3:\n")
		for i, csvFile := range summary.CSVFiles {
			fmt.Printf("  %d. s3://%s/%s (%d rows)\n", i+1, cfg.S3Bucket, csvFile.S3Key, csvFile.RowCount)
		}
	}

	if err != nil {
		fmt.Printf("\nResult: FAILED (%v)\n", err)
	} else {
		fmt.Printf("\nResult: OK\n")
	}
}
