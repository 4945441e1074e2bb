package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/adapter/archive"
	"github.com/user/replay-service/internal/adapter/chromedp_live"
	redis_adapter "github.com/user/replay-service/internal/adapter/redis"
	"github.com/user/replay-service/internal/adapter/warc"
	"github.com/user/replay-service/internal/delivery/http/handler"
	"github.com/user/replay-service/internal/delivery/http/router"
	"github.com/user/replay-service/internal/entity"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/internal/rewrite"
	"github.com/user/replay-service/internal/usecase"
	"github.com/user/replay-service/pkg/config"
	"github.com/user/replay-service/pkg/logger"
)

const liveCollection = "live"

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Archive store ---
	backend, err := archive.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open archive store", zap.Error(err))
	}
	defer backend.Close()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("unable to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("Redis connection established")

	// --- Rewriting ---
	rules := rewrite.DefaultRules(log)
	if cfg.RulesFile != "" {
		custom, err := rewrite.LoadRules(cfg.RulesFile)
		if err != nil {
			log.Fatal("failed to load rewrite rules", zap.String("file", cfg.RulesFile), zap.Error(err))
		}
		rules = append(custom, rules...)
		log.Info("custom rewrite rules loaded", zap.Int("count", len(custom)))
	}
	ruleSet := rewrite.NewRuleSet(rules, nil)
	newRewriter := func(opts entity.RewriteOptions) usecase.ContentRewriter {
		return rewrite.New(opts, ruleSet, log)
	}

	// --- Collections ---
	base := "/" + strings.Trim(cfg.ReplayPrefix, "/") + "/"
	if base == "//" {
		base = "/"
	}
	names := cfg.CollectionNames()
	if len(names) == 0 {
		log.Fatal("no collections configured")
	}

	var replayers []handler.Replayer
	writers := make(map[string]repository.ArchiveWriter, len(names))
	for i, name := range names {
		store := backend.Store(name)
		writers[name] = store
		replayers = append(replayers, usecase.NewCollection(usecase.CollectionConfig{
			Name:         name,
			Prefix:       base,
			StaticPrefix: cfg.StaticPrefix,
			Root:         cfg.RootCollection && i == 0,
			Decode:       cfg.DecodeResponses,
		}, store, newRewriter, log))
	}

	if cfg.LiveEnabled {
		live := chromedp_live.NewLiveRepo(cfg.LiveTimeout, log)
		defer live.Close()
		replayers = append(replayers, usecase.NewCollection(usecase.CollectionConfig{
			Name:         liveCollection,
			Prefix:       base,
			StaticPrefix: cfg.StaticPrefix,
			Decode:       cfg.DecodeResponses,
		}, live, newRewriter, log))
		log.Info("live collection enabled", zap.Duration("timeout", cfg.LiveTimeout))
	}

	// --- Ingestion ---
	queueRepo := redis_adapter.NewQueueRepo(rdb)
	ingestedRepo := redis_adapter.NewIngestedRepo(rdb)
	stateRepo := redis_adapter.NewStateRepo(rdb)

	opener := &warc.Opener{
		Client:         &http.Client{Timeout: 10 * time.Minute},
		Root:           cfg.IngestRoot,
		MaxRecordBytes: cfg.MaxRecordBytes,
	}
	checkSource := func(source string) error {
		if err := opener.CheckSource(source); err != nil {
			return fmt.Errorf("%w: %w", usecase.ErrInvalidSource, err)
		}
		return nil
	}
	openSource := func(ctx context.Context, source string) (usecase.RecordSource, error) {
		if err := checkSource(source); err != nil {
			return nil, err
		}
		r, err := opener.Open(ctx, source)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if cfg.IngestRoot == "" {
		log.Info("INGEST_ROOT is unset, only URL sources can be ingested")
	}

	ingestManager := usecase.NewIngestManager(ingestedRepo, queueRepo, stateRepo, names, cfg.DeduplicationWindow(), checkSource, log)
	worker := usecase.NewIngestWorker(queueRepo, stateRepo, writers, openSource, usecase.IngestWorkerConfig{
		MaxRetries: cfg.MaxRetries,
		Indexer:    usecase.IndexerOptions{WriteConcurrency: cfg.IngestWriteConcurrency},
	}, log)
	worker.Start(ctx, cfg.IngestWorkers)

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(replayers, ingestManager, map[string]handler.HealthCheck{
		backend.Driver: backend.Ping,
		"redis":        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(apiHandler, base, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not start server", zap.Error(err))
		}
	}()
	log.Info("server started",
		zap.String("port", cfg.ServerPort),
		zap.String("replay_prefix", base),
		zap.Strings("collections", names))

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	worker.Stop()

	log.Info("server exiting")
}
