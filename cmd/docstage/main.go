// Package main is the entry point for the docstage batch staging server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docstage/docstage/internal/archive"
	"github.com/docstage/docstage/internal/config"
	"github.com/docstage/docstage/internal/journal"
	"github.com/docstage/docstage/internal/layout"
	"github.com/docstage/docstage/internal/logging"
	"github.com/docstage/docstage/internal/metrics"
	"github.com/docstage/docstage/internal/progress"
	"github.com/docstage/docstage/internal/rewrite"
	"github.com/docstage/docstage/internal/server"
	"github.com/docstage/docstage/internal/staging"
)

func main() {
	configPath := flag.String("config", "docstage.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8420)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	stagingRoot := flag.String("staging-root", "", "override staging root directory (default: from config or ./data/batches)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *stagingRoot != "" {
		cfg.Staging.RootDir = *stagingRoot
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	metrics.Register()

	// Crash-only design: every startup is recovery.
	// No special recovery mode. Steps that would normally be "recovery" run on
	// every boot:
	// - SQLite WAL auto-recovers on open
	// - Stale in-progress directory sweep (below)
	// - In-progress directories of a crashed predecessor are simply never
	//   committed; the completed area is untouched by a crash.

	lay, err := layout.New(cfg.Staging.RootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize staging root: %v\n", err)
		os.Exit(1)
	}
	slog.Info("Staging root initialized", "root", lay.Root, "service_id", layout.ServiceID())

	tracker := progress.NewTracker(lay)

	var validator *rewrite.Validator
	if cfg.Staging.ValidateDocuments {
		validator, err = rewrite.NewValidator()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to compile document schema: %v\n", err)
			os.Exit(1)
		}
	}

	// Optional SQLite commit journal.
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create journal directory: %v\n", err)
			os.Exit(1)
		}
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open commit journal: %v\n", err)
			os.Exit(1)
		}
		defer jnl.Close()
		slog.Info("Commit journal opened", "path", cfg.Journal.Path)
	}

	// Optional S3 archive mirror.
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			fmt.Fprintf(os.Stderr, "archive.bucket is required when the archive mirror is enabled\n")
			os.Exit(1)
		}
		archiver, err = archive.New(context.Background(),
			cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix,
			cfg.Archive.EndpointURL, cfg.Archive.UsePathStyle,
			cfg.Archive.AccessKeyID, cfg.Archive.SecretAccessKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize archive mirror: %v\n", err)
			os.Exit(1)
		}
		slog.Info("Archive mirror initialized", "bucket", cfg.Archive.Bucket, "region", cfg.Archive.Region, "prefix", cfg.Archive.Prefix)
	}

	stager := &staging.Stager{
		Layout:               lay,
		Tracker:              tracker,
		SubBatchMaxDocuments: cfg.Staging.SubBatchMaxDocuments,
		ExternalizeThreshold: cfg.Staging.ExternalizeThresholdBytes,
		Validator:            validator,
		OnCommit:             commitHook(jnl, archiver),
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	if cfg.Staging.StaleCleanupEnabled {
		staleAge := time.Duration(cfg.Staging.StaleAgeSeconds) * time.Second
		// Crash-only recovery: sweep abandoned in-progress directories on boot.
		stager.CleanStale(staleAge)
		go stager.RunStaleSweeper(sweepCtx, staleAge/4, staleAge)
	}

	var opts []server.ServerOption
	if jnl != nil {
		opts = append(opts, server.WithJournal(jnl))
	}
	srv, err := server.New(cfg, stager, tracker, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("docstage listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. No cleanup -- crash-only design.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// commitHook builds the OnCommit callback wiring the journal and the archive
// mirror behind a successful commit. Both are advisory: a journal insert
// failure is logged, and mirroring runs in the background so a slow upstream
// never delays the staging response.
func commitHook(jnl *journal.Journal, archiver *archive.Archiver) func(context.Context, staging.CommitInfo) {
	if jnl == nil && archiver == nil {
		return nil
	}
	return func(ctx context.Context, info staging.CommitInfo) {
		if jnl != nil {
			rec := &journal.CommitRecord{
				Tenant:      info.Tenant,
				Batch:       info.Batch,
				Documents:   info.Documents,
				SubBatches:  info.SubBatches,
				Attachments: info.Attachments,
				Bytes:       info.Bytes,
				ServiceID:   layout.ServiceID(),
				CompletedAt: info.CompletedAt,
			}
			if err := jnl.RecordCommit(ctx, rec); err != nil {
				slog.Warn("Journaling commit failed", "tenant", info.Tenant, "batch", info.Batch, "error", err)
			}
		}
		if archiver != nil {
			go func() {
				// Not tied to the request context: the commit already
				// happened, so the mirror finishes on its own schedule.
				if err := archiver.MirrorBatch(context.Background(), info.Tenant, info.Batch, info.Dir); err != nil {
					slog.Warn("Mirroring batch to archive failed", "tenant", info.Tenant, "batch", info.Batch, "error", err)
				}
			}()
		}
	}
}
