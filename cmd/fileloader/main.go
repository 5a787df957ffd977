package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/logging"
	"github.com/cmgoffena13/etl-file-loader/internal/notify"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
	"github.com/cmgoffena13/etl-file-loader/internal/storage"
	"github.com/cmgoffena13/etl-file-loader/internal/worker"
)

func main() {
	var (
		file           = pflag.String("file", "", "process a single file instead of scanning the directory")
		directoryPath  = pflag.String("directory-path", "", "override the inbound directory")
		archivePath    = pflag.String("archive-path", "", "override the archive directory")
		duplicatesPath = pflag.String("duplicate-files-path", "", "override the duplicates directory")
		logLevel       = pflag.String("log-level", "", "override the log level (debug, info, warn, error)")
	)
	pflag.Parse()

	// Path overrides are all-or-none: a partial override silently mixing
	// configured and flag-provided directories is a footgun.
	overrides := 0
	for _, p := range []string{*directoryPath, *archivePath, *duplicatesPath} {
		if p != "" {
			overrides++
		}
	}
	if overrides != 0 && overrides != 3 {
		fmt.Fprintln(os.Stderr, "either provide all of --directory-path, --archive-path and --duplicate-files-path, or none")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if overrides == 3 {
		cfg.Paths.DirectoryPath = *directoryPath
		cfg.Paths.ArchivePath = *archivePath
		cfg.Paths.DuplicateFilesPath = *duplicatesPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded",
		"directory_path", cfg.Paths.DirectoryPath,
		"batch_size", cfg.Pipeline.BatchSize,
		"workers", cfg.Pipeline.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, dialect, err := db.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to warehouse", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("connected to warehouse", "dialect", dialect.Name())

	registry, err := sources.NewRegistry(sources.Catalog()...)
	if err != nil {
		slog.Error("invalid source catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("sources registered", "count", len(registry.Sources()))

	store, err := storage.New(ctx, cfg.Paths, cfg.Storage.Platform, cfg.Storage.AWSRegion)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	processor := worker.NewProcessor(worker.ProcessorConfig{
		Pool:     pool,
		Dialect:  dialect,
		Registry: registry,
		Store:    store,
		Emailer:  notify.NewEmailNotifier(cfg.Notify),
		Webhook:  notify.NewWebhookNotifier(cfg.Notify),
		Pipeline: cfg.Pipeline,
		Retry:    cfg.Retry,
		BulkCopy: cfg.Database.SQLServerBulkCopy && dialect.Name() == "sqlserver",
	})

	var summary worker.Summary
	if *file != "" {
		summary, err = processor.RunFile(ctx, *file)
	} else {
		summary, err = processor.Run(ctx)
	}
	if err != nil {
		slog.Error("run aborted", "error", err)
		os.Exit(1)
	}

	printSummary(summary)
	if !summary.OK() {
		os.Exit(1)
	}
}

func printSummary(s worker.Summary) {
	fmt.Println()
	color.New(color.Bold).Printf("Processed %d file(s)\n", s.Processed)
	if s.Succeeded > 0 {
		color.Green("  succeeded:  %d", s.Succeeded)
	}
	if s.Handled > 0 {
		color.Yellow("  handled:    %d", s.Handled)
	}
	if s.Skipped > 0 {
		color.Yellow("  duplicates: %d", s.Skipped)
	}
	if s.NoSource > 0 {
		color.Yellow("  no source:  %d", s.NoSource)
	}
	if s.Failed > 0 {
		color.Red("  failed:     %d", s.Failed)
		for _, f := range s.Failures {
			color.Red("    %s: %s", f.Filename, f.ErrorDetail)
		}
	}
}
