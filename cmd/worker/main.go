package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayq/relayq"
	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/manager"
	"github.com/relayq/relayq/internal/workerrt"
	"github.com/relayq/relayq/pkg/observability"
)

// main wires a single queue worker against the configured store: load
// config, bootstrap observability, start the façade, register one
// worker over RELAYQ_WORK_QUEUE, and drain on SIGINT/SIGTERM.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tp, err := observability.InitTracerProvider(ctx, "relayq-worker", cfg.Observability.OTelEnabled)
	if err != nil {
		log.Fatalf("failed to init tracer provider: %v", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	q := relayq.New(cfg)
	if err := q.Start(ctx); err != nil {
		log.Fatalf("failed to start queue: %v", err)
	}

	go logEvents(ctx, q.Events())

	queueName := os.Getenv("RELAYQ_WORK_QUEUE")
	if queueName == "" {
		queueName = "default"
	}
	if err := q.Manager().CreateQueue(ctx, queueName, manager.DefaultQueueOptions()); err != nil {
		slog.WarnContext(ctx, "create queue", "queue", queueName, "error", err)
	}

	if _, err := q.RegisterWorker(queueName, 2*time.Second, 10, handleBatch); err != nil {
		log.Fatalf("failed to register worker: %v", err)
	}

	slog.InfoContext(ctx, "worker started", "queue", queueName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.InfoContext(ctx, "received shutdown signal, draining")
	if err := q.Stop(30 * time.Second); err != nil {
		slog.ErrorContext(ctx, "stop queue", "error", err)
	}
}

// handleBatch is the queue's job handler: a stand-in for whatever
// domain work the operator wires in. It always succeeds; a real
// handler would return workerrt.Fail on error so the manager can
// apply the queue's retry policy.
func handleBatch(ctx context.Context, jobs []domain.Job) workerrt.BatchResult {
	return workerrt.Ok(nil)
}

func logEvents(ctx context.Context, ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.TypeError:
			slog.ErrorContext(ctx, "relayq event", "type", ev.Type, "payload", ev.Payload)
		default:
			slog.InfoContext(ctx, "relayq event", "type", ev.Type, "payload", marshal(ev.Payload))
		}
	}
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
