package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/adapter/archive"
	"github.com/user/replay-service/internal/adapter/warc"
	"github.com/user/replay-service/internal/usecase"
	"github.com/user/replay-service/pkg/config"
	"github.com/user/replay-service/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Load WARC capture files into the replay archive",
		SilenceUsage: true,
	}
	root.AddCommand(newIngestCmd())
	return root
}

func newIngestCmd() *cobra.Command {
	var (
		coll        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "ingest --coll NAME FILE...",
		Short: "Index WARC files or URLs directly into a collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			if concurrency <= 0 {
				concurrency = cfg.IngestWriteConcurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend, err := archive.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backend.Close()

			// The operator running the CLI may read any file they can open.
			opener := &warc.Opener{Root: string(filepath.Separator), MaxRecordBytes: cfg.MaxRecordBytes}
			return ingestFiles(ctx, backend, opener, coll, args, concurrency, log)
		},
	}

	cmd.Flags().StringVar(&coll, "coll", "", "collection to ingest into")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent store writes (defaults to INGEST_WRITE_CONCURRENCY)")
	_ = cmd.MarkFlagRequired("coll")
	return cmd
}

func ingestFiles(ctx context.Context, backend *archive.Backend, opener *warc.Opener, coll string, sources []string, concurrency int, log *zap.Logger) error {
	store := backend.Store(coll)

	var errs error
	for _, source := range sources {
		target := source
		if !strings.Contains(source, "://") {
			abs, err := filepath.Abs(source)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", source, err))
				continue
			}
			target = abs
		}

		r, err := opener.Open(ctx, target)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}

		stats, err := usecase.IndexRecords(ctx, r, store, usecase.IndexerOptions{WriteConcurrency: concurrency}, log)
		_ = r.Close()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", source, err))
		}
		log.Info("ingested source",
			zap.String("collection", coll),
			zap.String("source", source),
			zap.Int64("resources", stats.Resources),
			zap.Int64("revisits", stats.Revisits),
			zap.Int64("pages", stats.Pages),
			zap.Int64("dropped", stats.Dropped))
	}
	return errs
}
