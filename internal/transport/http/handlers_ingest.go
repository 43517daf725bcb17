package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
	"dutylog/internal/device"
	"dutylog/internal/platform/metrics"
	"dutylog/internal/platform/middleware"
	"dutylog/pkg/platform/sentinel"
)

// Fanout receives accepted records for best-effort downstream publishing.
// The publish worker satisfies it.
type Fanout interface {
	Enqueue(entry auditlog.Entry) bool
}

// ingestEvent is one event as the agent ships it. Identity fields in the
// body are ignored; the delivery token is the only identity source.
type ingestEvent struct {
	Kind       activity.Kind  `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	SessionID  string         `json:"session_id"`
	ClientTime time.Time      `json:"client_time"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
}

type ingestRequest struct {
	Events []ingestEvent `json:"events"`
}

// IngestHandler accepts activity batches from agents.
type IngestHandler struct {
	store     auditlog.Store
	fanout    Fanout
	validator middleware.TokenValidator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewIngestHandler(
	store auditlog.Store,
	fanout Fanout,
	validator middleware.TokenValidator,
	logger *slog.Logger,
	m *metrics.Metrics) *IngestHandler {
	return &IngestHandler{
		store:     store,
		fanout:    fanout,
		validator: validator,
		logger:    logger,
		metrics:   m,
	}
}

// Register adds the ingest route behind delivery-token auth. Routes are
// registered through a group so several handlers can share one parent router.
func (h *IngestHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.RequireDeliveryToken(h.validator, h.logger))
		r.Post("/v1/activity/events", h.handleIngest)
	})
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	subjectID := middleware.GetSubjectID(ctx)
	login := middleware.GetLogin(ctx)
	if subjectID == "" {
		h.logger.ErrorContext(ctx, "subject missing from context despite auth middleware",
			"request_id", requestID,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal", false))
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid ingest request",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", false))
		return
	}

	accepted := 0
	for _, ev := range req.Events {
		if ev.Kind == "" {
			h.metrics.EventsRejected.Inc()
			continue
		}

		entry := auditlog.Entry{
			Kind:       ev.Kind,
			SubjectID:  subjectID,
			Login:      login,
			SessionID:  ev.SessionID,
			Payload:    ev.Payload,
			DurationMs: ev.DurationMs,
		}
		if ev.Kind == activity.KindSessionStart {
			entry.Payload = withDeviceInfo(entry.Payload, r.UserAgent())
		}

		stored, err := h.store.Append(ctx, entry)
		if err != nil {
			if errors.Is(err, sentinel.ErrStoreUnavailable) {
				h.logger.ErrorContext(ctx, "audit store unavailable",
					"request_id", requestID,
					"error", err.Error(),
				)
				writeJSON(w, http.StatusServiceUnavailable, errorBody("could not persist events", true))
				return
			}
			h.logger.ErrorContext(ctx, "append failed",
				"request_id", requestID,
				"kind", ev.Kind,
				"error", err.Error(),
			)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal", false))
			return
		}

		accepted++
		h.metrics.EventsIngested.Inc()
		if h.fanout != nil {
			h.fanout.Enqueue(stored)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// withDeviceInfo attaches the parsed device description to a session start
// payload without clobbering agent-supplied keys. The "device" key holds the
// human label the event catalog renders; the structured breakdown goes under
// "device_info".
func withDeviceInfo(payload map[string]any, userAgent string) map[string]any {
	if payload == nil {
		payload = make(map[string]any)
	}
	if _, exists := payload["device"]; !exists {
		info := device.Describe(userAgent)
		payload["device"] = info.Label
		payload["device_info"] = info
	}
	return payload
}

func errorBody(message string, retryable bool) map[string]any {
	return map[string]any{
		"error":     message,
		"retryable": retryable,
	}
}
