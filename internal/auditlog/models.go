package auditlog

import (
	"context"
	"time"

	"dutylog/internal/activity"
)

// Cursor is an opaque store-side position marker. A query with After set
// resumes strictly after that position in descending time order. The empty
// cursor means "start from the newest record".
type Cursor string

// Entry is one persisted activity record. Entries are immutable once
// appended: no update, no delete. RecordedAt and Cursor are store-assigned;
// client clocks are never trusted for ordering.
type Entry struct {
	ID         string            `json:"id"`
	Kind       activity.Kind     `json:"kind"`
	Category   activity.Category `json:"category"`
	SubjectID  string            `json:"subject_id"`
	Login      string            `json:"login"`
	SessionID  string            `json:"session_id"`
	RecordedAt time.Time         `json:"recorded_at"`
	Payload    map[string]any    `json:"payload,omitempty"`

	// DurationMs is the client-reported session duration when present.
	// Treated as a hint only; reviewers see reconstructed values otherwise.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// Cursor is this entry's own store position, populated on query results.
	Cursor Cursor `json:"cursor,omitempty"`
}

// Query selects a descending slice of the log. Only the fields the store can
// filter cheaply appear here; everything else is applied in memory by the
// query engine.
type Query struct {
	SubjectID string
	From      time.Time
	To        time.Time
	After     Cursor
	Limit     int
}

// Store is the append-only audit log. Append assigns the ordering key and
// returns the completed entry. QueryDescending returns at most Limit entries,
// newest first, each carrying its Cursor.
//
// Implementations wrap transient failures in sentinel.ErrStoreUnavailable so
// callers can distinguish retryable conditions.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	QueryDescending(ctx context.Context, q Query) ([]Entry, error)
}
