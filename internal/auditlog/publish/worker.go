package publish

import (
	"context"
	"log/slog"

	"dutylog/internal/auditlog"
	"dutylog/internal/platform/metrics"
)

const defaultInboxSize = 1024

// Worker decouples ingest from Kafka round trips: the ingest handler
// enqueues without blocking and the worker drains in the background. A full
// inbox drops the record rather than stalling ingest; the durable store
// already has it.
type Worker struct {
	producer Producer
	inbox    chan auditlog.Entry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewWorker(producer Producer, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		producer: producer,
		inbox:    make(chan auditlog.Entry, defaultInboxSize),
		logger:   logger,
		metrics:  m,
	}
}

// Enqueue hands a record to the worker. It never blocks; when the inbox is
// full the record is counted as dropped and false is returned.
func (w *Worker) Enqueue(entry auditlog.Entry) bool {
	select {
	case w.inbox <- entry:
		return true
	default:
		w.metrics.FanoutDropped.Inc()
		w.logger.Warn("fan-out inbox full, dropping record",
			"kind", entry.Kind,
			"session_id", entry.SessionID,
		)
		return false
	}
}

// Run drains the inbox until the context is cancelled. Publish failures are
// logged and counted, never retried; consumers reconcile from the store.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			if err := w.producer.Publish(ctx, entry); err != nil {
				w.metrics.FanoutDropped.Inc()
				w.logger.Error("fan-out publish failed",
					"kind", entry.Kind,
					"session_id", entry.SessionID,
					"error", err,
				)
				continue
			}
			w.metrics.FanoutPublished.Inc()
		}
	}
}

// Pending returns how many records are waiting in the inbox.
func (w *Worker) Pending() int {
	return len(w.inbox)
}
