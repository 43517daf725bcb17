package auditlog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"dutylog/internal/activity"
)

// InMemoryStore is the in-process Store used by tests and single-node dev
// deployments. Ordering is a monotonic sequence assigned under the write
// lock, so RecordedAt values are comparable even when appends land within the
// same wall-clock tick.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	lastAt  time.Time
	now     func() time.Time
}

// InMemoryOption configures the store.
type InMemoryOption func(*InMemoryStore)

// WithNow injects the clock used for RecordedAt assignment.
func WithNow(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Append assigns ID, sequence and RecordedAt and persists the entry.
func (s *InMemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	recordedAt := s.now()
	if !recordedAt.After(s.lastAt) {
		// Clock did not move; nudge forward to keep ordering strict.
		recordedAt = s.lastAt.Add(time.Nanosecond)
	}
	s.lastAt = recordedAt

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Category = activity.CategoryOf(e.Kind)
	e.RecordedAt = recordedAt
	e.Cursor = Cursor(strconv.FormatUint(s.seq, 10))
	s.entries = append(s.entries, e)
	return e, nil
}

// QueryDescending walks the log newest-first, applying the store-native
// filters (subject, time range, after-cursor).
func (s *InMemoryStore) QueryDescending(_ context.Context, q Query) ([]Entry, error) {
	afterSeq := uint64(0)
	haveAfter := q.After != ""
	if haveAfter {
		parsed, err := strconv.ParseUint(string(q.After), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cursor %q", q.After)
		}
		afterSeq = parsed
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		seq, _ := strconv.ParseUint(string(e.Cursor), 10, 64)
		if haveAfter && seq >= afterSeq {
			continue
		}
		if q.SubjectID != "" && e.SubjectID != q.SubjectID {
			continue
		}
		if !q.From.IsZero() && e.RecordedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.RecordedAt.After(q.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len returns the number of persisted entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
