package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dutylog/internal/activity"
	"dutylog/internal/session"
)

var (
	batchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutylog_delivery_batches_total",
		Help: "Delivery attempts by mode and outcome",
	}, []string{"mode", "outcome"})

	batchesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutylog_delivery_skipped_total",
		Help: "Batches skipped because no session or credential was available",
	})
)

// SessionSource exposes the current session for enrichment. The lifecycle
// manager satisfies this.
type SessionSource interface {
	Current() *session.Session
}

// Pipeline enriches raw activity events with identity and session metadata and
// ships them to the log store. Delivery is best-effort: no retry queue, no
// persistence of undelivered events, failures logged and swallowed.
type Pipeline struct {
	source    SessionSource
	creds     CredentialSource
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineNow injects the clock used for client-time hints.
func WithPipelineNow(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires the enrichment and delivery pipeline.
func NewPipeline(source SessionSource, creds CredentialSource, transport Transport, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		source:    source,
		creds:     creds,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Emit enriches and delivers events over the normal transport.
func (p *Pipeline) Emit(ctx context.Context, events ...activity.Event) {
	p.emit(ctx, events, false)
}

// EmitFinal enriches and delivers events over the unload-safe transport. Used
// only when the hosting context is going away.
func (p *Pipeline) EmitFinal(ctx context.Context, events ...activity.Event) {
	p.emit(ctx, events, true)
}

func (p *Pipeline) emit(ctx context.Context, events []activity.Event, final bool) {
	if len(events) == 0 {
		return
	}

	sess := p.source.Current()
	if sess == nil {
		// No active session: nothing to attribute the events to.
		batchesSkipped.Inc()
		return
	}

	credential, err := p.creds.Token(ctx)
	if err != nil {
		// No credential resolves to a silent drop; activity logging is
		// diagnostic, not a correctness guarantee.
		p.logger.Debug("dropping activity batch, no delivery credential", "error", err)
		batchesSkipped.Inc()
		return
	}

	batch := Batch{Events: make([]Enriched, 0, len(events))}
	now := p.now()
	for _, ev := range events {
		if ev.Kind == "" {
			continue
		}
		batch.Events = append(batch.Events, Enriched{
			Kind:       ev.Kind,
			Payload:    ev.Payload,
			SubjectID:  sess.SubjectID,
			Login:      sess.Login,
			SessionID:  sess.SessionID,
			ClientTime: now,
		})
	}
	if len(batch.Events) == 0 {
		return
	}

	mode := "normal"
	if final {
		mode = "final"
	}

	if final {
		err = p.transport.SendFinal(credential, batch)
	} else {
		err = p.transport.Send(ctx, credential, batch)
	}
	if err != nil {
		p.logger.Warn("activity batch delivery failed",
			"mode", mode,
			"events", len(batch.Events),
			"error", err,
		)
		batchesSent.WithLabelValues(mode, "error").Inc()
		return
	}
	batchesSent.WithLabelValues(mode, "ok").Inc()
}
