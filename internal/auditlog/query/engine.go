package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
)

const (
	// PageSize is the reviewer-facing page length.
	PageSize = 150

	// fetchBatchSize is one store round-trip's worth of raw records. Chosen
	// larger than PageSize to amortize round trips when in-memory filters
	// discard most of a batch.
	fetchBatchSize = 250
)

// Filters is the reviewer's current filter state. The store can only execute
// the subject and time-range dimensions natively; category, kind and fuzzy
// account matching are applied in memory by the engine.
type Filters struct {
	Account  string
	Category activity.Category
	Kind     activity.Kind
	From     time.Time
	To       time.Time
}

// Validate rejects filter combinations that can never match, notably a kind
// filter inconsistent with the category filter.
func (f Filters) Validate() error {
	if f.Category != "" && !activity.KnownCategory(f.Category) {
		return fmt.Errorf("unknown category %q", f.Category)
	}
	if f.Kind != "" && f.Category != "" && !activity.Belongs(f.Kind, f.Category) {
		return fmt.Errorf("kind %q does not belong to category %q", f.Kind, f.Category)
	}
	return nil
}

// Fingerprint identifies a filter state. The pager compares fingerprints to
// detect filter mutations and to discard superseded fetches.
func (f Filters) Fingerprint() string {
	return strings.Join([]string{
		strings.ToLower(f.Account),
		string(f.Category),
		string(f.Kind),
		f.From.UTC().Format(time.RFC3339Nano),
		f.To.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// Page is one filtered, size-bounded result window.
type Page struct {
	Entries []auditlog.Entry
	// EndCursor is the store position immediately after the last record
	// consumed to build this page. Passing it back fetches the next page.
	EndCursor auditlog.Cursor
	HasMore   bool
}

// Engine pulls store batches in descending time order and applies the filters
// the store cannot express until a page is full or the store is exhausted.
type Engine struct {
	store    auditlog.Store
	resolver auditlog.AccountResolver
	logger   *slog.Logger
}

// NewEngine builds a query engine. The resolver may be nil; account filters
// then match against the raw filter string only.
func NewEngine(store auditlog.Store, resolver auditlog.AccountResolver, logger *slog.Logger) *Engine {
	return &Engine{store: store, resolver: resolver, logger: logger}
}

// FetchPage produces the page of at most PageSize records that starts
// immediately after the given cursor under the given filters.
//
// The cursor always advances over the store's results, not the filtered
// results: a batch whose records all fail the in-memory filters still moves
// the cursor forward, and the loop keeps pulling until the page fills or the
// store signals exhaustion. Re-invoking with the same cursor is safe - the
// store read is idempotent.
func (e *Engine) FetchPage(ctx context.Context, f Filters, after auditlog.Cursor) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}

	candidates, subjectID, err := e.accountCandidates(ctx, f.Account)
	if err != nil {
		return Page{}, fmt.Errorf("resolve account filter: %w", err)
	}

	collected := make([]auditlog.Entry, 0, PageSize)
	last := after
	exhausted := false
	filled := false

	for !filled && !exhausted {
		batch, err := e.store.QueryDescending(ctx, auditlog.Query{
			SubjectID: subjectID,
			From:      f.From,
			To:        f.To,
			After:     last,
			Limit:     fetchBatchSize,
		})
		if err != nil {
			return Page{}, fmt.Errorf("fetch log batch: %w", err)
		}
		consumed := 0
		for _, entry := range batch {
			// Consume the record regardless of whether it matches.
			consumed++
			last = entry.Cursor
			if !e.matches(entry, f, candidates) {
				continue
			}
			collected = append(collected, entry)
			if len(collected) == PageSize {
				filled = true
				break
			}
		}

		// A short batch only proves exhaustion when the scan reached its
		// end. If the page filled partway through, the records behind the
		// fill point are still reachable from the returned cursor.
		if len(batch) < fetchBatchSize && consumed == len(batch) {
			exhausted = true
		}
	}

	return Page{
		Entries:   collected,
		EndCursor: last,
		HasMore:   filled && !exhausted,
	}, nil
}

// accountCandidates normalizes the account filter into a candidate set and,
// when the directory resolves it to a single subject, a store-native subject
// filter.
func (e *Engine) accountCandidates(ctx context.Context, account string) (map[string]struct{}, string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, "", nil
	}

	candidates := map[string]struct{}{
		strings.ToLower(account): {},
	}
	subjectID := ""

	if e.resolver != nil {
		resolved, err := e.resolver.Lookup(ctx, account)
		if err != nil {
			// The directory being down degrades matching, it does not fail
			// the page: fall back to the raw filter string.
			e.logger.Warn("account resolution failed, matching raw filter only", "error", err)
		} else if resolved != nil {
			subjectID = resolved.UID
			for _, c := range []string{resolved.UID, resolved.Login, resolved.Name} {
				if c != "" {
					candidates[strings.ToLower(c)] = struct{}{}
				}
			}
		}
	}
	return candidates, subjectID, nil
}

func (e *Engine) matches(entry auditlog.Entry, f Filters, candidates map[string]struct{}) bool {
	if f.Category != "" && activity.CategoryOf(entry.Kind) != f.Category {
		return false
	}
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if candidates != nil {
		if _, ok := candidates[strings.ToLower(entry.Login)]; ok {
			return true
		}
		if _, ok := candidates[strings.ToLower(entry.SubjectID)]; ok {
			return true
		}
		return false
	}
	return true
}
