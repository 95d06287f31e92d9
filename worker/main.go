package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/proposal-radar/internal/app"
	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/dedupe"
	"github.com/DeafMist/proposal-radar/internal/evaluation"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/metrics"
	"github.com/DeafMist/proposal-radar/internal/models"
	"github.com/DeafMist/proposal-radar/internal/processing"
)

const dlqAttempts = 5

// evaluationRequest is one queued proposal. The file must be readable by the
// worker, typically from a shared volume.
type evaluationRequest struct {
	RequestID string         `json:"request_id"`
	Filename  string         `json:"filename"`
	FilePath  string         `json:"file_path"`
	Budget    *models.Budget `json:"budget"`
}

type verdictMessage struct {
	RequestID string                   `json:"request_id"`
	Verdict   models.EvaluationVerdict `json:"verdict"`
}

type documentEvaluator interface {
	EvaluateDocument(ctx context.Context, doc evaluation.Document, budget models.Budget) (models.EvaluationVerdict, error)
}

type publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	svc, err := app.Build(cfg.Common, cfg.Pipeline, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	defer svc.Close()

	cache := dedupe.NewCache[[]byte](cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.QueueCapacity,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer reader.Close()

	verdictWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaVerdictTopic,
		Balancer:    &kafka.Hash{},
		MaxAttempts: 3,
	})
	defer verdictWriter.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("verdict_topic", cfg.KafkaVerdictTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, svc.Pipeline, verdictWriter, cache, msg); err != nil {
			metrics.WorkerMessages.WithLabelValues("failed").Inc()
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			// Only commit if DLQ write succeeded; otherwise skip commit and reprocess on restart
			if sendToDLQ(ctx, log, dlqWriter, msg, err, time.Second) {
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error("commit failed message to dlq", slog.Any("err", err))
				}
			} else if ctx.Err() != nil {
				log.Info("context canceled during DLQ retry")
				return
			}
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage evaluates one request and publishes its verdict keyed by
// request id. A request id seen recently gets its cached verdict republished.
func processMessage(ctx context.Context, log *slog.Logger, eval documentEvaluator, pub publisher, cache *dedupe.Cache[[]byte], msg kafka.Message) error {
	var req evaluationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		metrics.WorkerMessages.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode request: %w", err)
	}
	req.FilePath = strings.TrimSpace(req.FilePath)
	if req.FilePath == "" {
		metrics.WorkerMessages.WithLabelValues("invalid").Inc()
		return errors.New("file_path is required")
	}
	if req.Budget == nil {
		metrics.WorkerMessages.WithLabelValues("invalid").Inc()
		return errors.New("budget is required")
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID != "" {
		if payload, ok := cache.Get(requestID); ok {
			log.Debug("republishing cached verdict", slog.String("request_id", requestID))
			metrics.WorkerMessages.WithLabelValues("cached").Inc()
			return publish(ctx, pub, requestID, payload)
		}
	}

	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return fmt.Errorf("read proposal: %w", err)
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = filepath.Base(req.FilePath)
	}
	if requestID == "" {
		// The same file under a different budget is a different evaluation.
		budget, err := json.Marshal(*req.Budget)
		if err != nil {
			return fmt.Errorf("encode budget: %w", err)
		}
		keyed := make([]byte, 0, len(data)+len(budget))
		keyed = append(append(keyed, data...), budget...)
		requestID = processing.BuildDocumentID(filename, keyed)
		if payload, ok := cache.Get(requestID); ok {
			metrics.WorkerMessages.WithLabelValues("cached").Inc()
			return publish(ctx, pub, requestID, payload)
		}
	}

	verdict, err := eval.EvaluateDocument(ctx, evaluation.Document{Name: filename, Data: data}, *req.Budget)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(verdictMessage{RequestID: requestID, Verdict: verdict})
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	if err := publish(ctx, pub, requestID, payload); err != nil {
		return err
	}

	cache.Put(requestID, payload)
	metrics.WorkerMessages.WithLabelValues("evaluated").Inc()
	log.Info("proposal verdict published",
		slog.String("request_id", requestID),
		slog.String("filename", filename),
		slog.String("status", verdict.Overall.Status),
	)
	return nil
}

func publish(ctx context.Context, pub publisher, key string, payload []byte) error {
	if err := pub.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		return fmt.Errorf("publish verdict: %w", err)
	}
	return nil
}

// sendToDLQ forwards a failed message with error context, retrying with
// exponential backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, dlq publisher, msg kafka.Message, cause error, baseBackoff time.Duration) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < dlqAttempts; attempt++ {
		dlqErr := dlq.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * baseBackoff
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}

	log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}
