package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/proposal-radar/internal/app"
	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/embedding"
	"github.com/DeafMist/proposal-radar/internal/index"
	"github.com/DeafMist/proposal-radar/internal/kb"
	"github.com/DeafMist/proposal-radar/internal/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type indexPreparer interface {
	EnsureIndex(ctx context.Context, dims int) error
}

type backoff struct {
	retries int
	delay   time.Duration
	max     time.Duration
}

func main() {
	log := logger.New("indexer")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadIndexer()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received")
			return
		}
		log.Error("indexing failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Indexer) error {
	entries, err := kb.Load(cfg.KnowledgeBasePath)
	if err != nil {
		return err
	}

	idx, err := app.OpenIndex(cfg.Common, log)
	if err != nil {
		return err
	}
	if p, ok := idx.(pinger); ok {
		if err := waitForBackend(ctx, log, p, backoff{retries: cfg.MaxRetries, delay: cfg.RetryDelay, max: cfg.MaxDelay}); err != nil {
			return err
		}
		log.Info("connected to index backend", slog.String("backend", cfg.IndexBackend))
	}
	if prep, ok := idx.(indexPreparer); ok {
		if err := prep.EnsureIndex(ctx, cfg.Embedding.Dimensions); err != nil {
			return err
		}
	}

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return err
	}
	defer emb.Close()

	start := time.Now()
	added, err := index.NewPopulator(idx, emb, log).Populate(ctx, entries)
	if err != nil {
		return err
	}

	total, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	log.Info("knowledge base indexed",
		slog.Int("entries", len(entries)),
		slog.Int("added", added),
		slog.Int("indexed_total", total),
		slog.String("embedding_model", emb.ModelID()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// waitForBackend pings until the backend answers, doubling the delay between
// attempts up to b.max.
func waitForBackend(ctx context.Context, log *slog.Logger, p pinger, b backoff) error {
	delay := b.delay
	var lastErr error
	for attempt := 1; attempt <= b.retries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = p.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		log.Warn("index backend ping failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", b.retries),
			slog.Duration("retry_in", delay),
		)
		if attempt == b.retries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > b.max {
			delay = b.max
		}
	}
	return errors.Join(errors.New("index backend unavailable after retries"), lastErr)
}
