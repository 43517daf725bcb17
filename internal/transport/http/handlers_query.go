package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
	"dutylog/internal/auditlog/duration"
	"dutylog/internal/auditlog/query"
	"dutylog/internal/platform/metrics"
	"dutylog/internal/platform/middleware"
)

// PageFetcher produces filtered log pages; the query engine satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, f query.Filters, after auditlog.Cursor) (query.Page, error)
}

// logPageResponse is one reviewer page. OpenSessions carries the start times
// of sessions with no end event in the page so clients can render a live,
// ticking duration.
type logPageResponse struct {
	Entries      []auditlog.Entry     `json:"entries"`
	EndCursor    auditlog.Cursor      `json:"end_cursor,omitempty"`
	HasMore      bool                 `json:"has_more"`
	OpenSessions map[string]time.Time `json:"open_sessions,omitempty"`
}

// QueryHandler serves the reviewer-facing log endpoints.
type QueryHandler struct {
	engine          PageFetcher
	reviewerKeyHash string
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

func NewQueryHandler(engine PageFetcher, reviewerKeyHash string, logger *slog.Logger, m *metrics.Metrics) *QueryHandler {
	return &QueryHandler{
		engine:          engine,
		reviewerKeyHash: reviewerKeyHash,
		logger:          logger,
		metrics:         m,
	}
}

// Register adds the query routes behind reviewer-key auth. Routes are
// registered through a group so several handlers can share one parent router.
func (h *QueryHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.RequireReviewerKey(h.reviewerKeyHash, h.logger))
		r.Get("/v1/activity/log", h.handleLogPage)
		r.Get("/v1/activity/kinds", h.handleKinds)
	})
}

func (h *QueryHandler) handleLogPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	filters, err := parseFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), false))
		return
	}
	cursor := auditlog.Cursor(r.URL.Query().Get("cursor"))

	start := time.Now()
	page, err := h.engine.FetchPage(ctx, filters, cursor)
	if err != nil {
		h.logger.ErrorContext(ctx, "page fetch failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("could not load logs", true))
		return
	}
	h.metrics.QueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	h.metrics.PagesServed.Inc()

	open := duration.Annotate(page.Entries)
	writeJSON(w, http.StatusOK, logPageResponse{
		Entries:      page.Entries,
		EndCursor:    page.EndCursor,
		HasMore:      page.HasMore,
		OpenSessions: open,
	})
}

// handleKinds exposes the event catalog so reviewer tooling can populate
// filter dropdowns without hardcoding kinds.
func (h *QueryHandler) handleKinds(w http.ResponseWriter, r *http.Request) {
	category := activity.Category(r.URL.Query().Get("category"))
	if category != "" && !activity.KnownCategory(category) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown category", false))
		return
	}

	type kindInfo struct {
		Kind     activity.Kind     `json:"kind"`
		Label    string            `json:"label"`
		Category activity.Category `json:"category"`
	}

	var kinds []activity.Kind
	if category != "" {
		kinds = activity.Kinds(category)
	} else {
		for _, c := range activity.Categories() {
			kinds = append(kinds, activity.Kinds(c)...)
		}
	}

	out := make([]kindInfo, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindInfo{Kind: k, Label: activity.Label(k), Category: activity.CategoryOf(k)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"kinds": out})
}

func parseFilters(r *http.Request) (query.Filters, error) {
	q := r.URL.Query()
	f := query.Filters{
		Account:  q.Get("account"),
		Category: activity.Category(q.Get("category")),
		Kind:     activity.Kind(q.Get("kind")),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query.Filters{}, fmt.Errorf("invalid from time: %w", err)
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query.Filters{}, fmt.Errorf("invalid to time: %w", err)
		}
		f.To = t
	}
	if err := f.Validate(); err != nil {
		return query.Filters{}, err
	}
	return f, nil
}
