package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"dutylog/internal/activity"
	"dutylog/pkg/platform/sentinel"
)

// PostgresStore persists the audit log in a single append-only table. The
// bigserial seq column is the store-assigned ordering key; recorded_at serves
// the reviewer's time-range filters.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool; integration tests use this.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the activity_events table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS activity_events (
			seq         BIGSERIAL PRIMARY KEY,
			id          UUID NOT NULL UNIQUE,
			kind        TEXT NOT NULL,
			category    TEXT NOT NULL,
			subject_id  TEXT NOT NULL,
			login       TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			payload     JSONB,
			duration_ms BIGINT
		);
		CREATE INDEX IF NOT EXISTS activity_events_subject_idx
			ON activity_events (subject_id, seq DESC);
		CREATE INDEX IF NOT EXISTS activity_events_recorded_at_idx
			ON activity_events (recorded_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure activity_events schema: %w", err)
	}
	return nil
}

// Append inserts one entry. The database assigns seq and recorded_at.
func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Category = activity.CategoryOf(e.Kind)

	var payload []byte
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}

	const query = `
		INSERT INTO activity_events (id, kind, category, subject_id, login, session_id, payload, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, recorded_at
	`
	var seq int64
	err := s.db.QueryRowContext(ctx, query,
		e.ID,
		string(e.Kind),
		string(e.Category),
		e.SubjectID,
		e.Login,
		e.SessionID,
		payload,
		e.DurationMs,
	).Scan(&seq, &e.RecordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: insert activity event: %v", sentinel.ErrStoreUnavailable, err)
	}
	e.Cursor = Cursor(strconv.FormatInt(seq, 10))
	return e, nil
}

// QueryDescending pulls one batch newest-first using keyset pagination on seq.
func (s *PostgresStore) QueryDescending(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT seq, id, kind, category, subject_id, login, session_id, recorded_at, payload, duration_ms
		FROM activity_events
		WHERE 1=1
	`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.After != "" {
		afterSeq, err := strconv.ParseInt(string(q.After), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cursor %q", q.After)
		}
		query += " AND seq < " + arg(afterSeq)
	}
	if q.SubjectID != "" {
		query += " AND subject_id = " + arg(q.SubjectID)
	}
	if !q.From.IsZero() {
		query += " AND recorded_at >= " + arg(q.From)
	}
	if !q.To.IsZero() {
		query += " AND recorded_at <= " + arg(q.To)
	}
	query += " ORDER BY seq DESC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query activity events: %v", sentinel.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			seq      int64
			kind     string
			category string
			payload  []byte
			duration sql.NullInt64
		)
		err := rows.Scan(
			&seq,
			&e.ID,
			&kind,
			&category,
			&e.SubjectID,
			&e.Login,
			&e.SessionID,
			&e.RecordedAt,
			&payload,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}

		e.Kind = activity.Kind(kind)
		e.Category = activity.Category(category)
		e.Cursor = Cursor(strconv.FormatInt(seq, 10))
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		if duration.Valid {
			ms := duration.Int64
			e.DurationMs = &ms
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate activity events: %v", sentinel.ErrStoreUnavailable, err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
