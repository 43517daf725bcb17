package query

import (
	"context"
	"errors"
	"sync"

	"dutylog/internal/auditlog"
)

// ErrSuperseded reports that a fetch completed after the filters changed; its
// result was discarded. Callers re-drive navigation against the new filters.
var ErrSuperseded = errors.New("query superseded by filter change")

// PageSource produces pages; the Engine satisfies it. The pager is also used
// over an HTTP-backed source by reviewer tooling.
type PageSource interface {
	FetchPage(ctx context.Context, f Filters, after auditlog.Cursor) (Page, error)
}

// Pager owns the reviewer's pagination state: the current filters and every
// page fetched under them. Backward navigation only ever reads the cache;
// forward navigation fetches at the frontier. Any filter mutation discards
// the cache and restarts at page zero.
//
// The cache is deliberately unbounded: a human-paced reviewer session visits
// tens of pages at most, and resident pages make Prev free.
type Pager struct {
	source PageSource

	mu      sync.Mutex
	filters Filters
	fp      string
	pages   []Page
	index   int
}

func NewPager(source PageSource) *Pager {
	return &Pager{source: source}
}

// SetFilters replaces the filter state. A changed fingerprint invalidates all
// cached pages and resets to the first page; setting identical filters is a
// no-op.
func (p *Pager) SetFilters(f Filters) {
	fp := f.Fingerprint()
	p.mu.Lock()
	defer p.mu.Unlock()
	if fp == p.fp {
		return
	}
	p.filters = f
	p.fp = fp
	p.pages = nil
	p.index = 0
}

// PageIndex returns the current zero-based page position.
func (p *Pager) PageIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// CachedPages returns how many pages are resident.
func (p *Pager) CachedPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

// Current returns the page at the current index, fetching page zero on first
// use.
func (p *Pager) Current(ctx context.Context) (Page, error) {
	p.mu.Lock()
	if len(p.pages) > 0 {
		page := p.pages[p.index]
		p.mu.Unlock()
		return page, nil
	}
	filters := p.filters
	fp := p.fp
	p.mu.Unlock()

	page, err := p.source.FetchPage(ctx, filters, "")
	if err != nil {
		return Page{}, err
	}
	return p.install(fp, page, 0)
}

// Next advances one page, reusing the cache when the page was already
// fetched and fetching past the frontier otherwise.
func (p *Pager) Next(ctx context.Context) (Page, error) {
	p.mu.Lock()
	if len(p.pages) == 0 {
		p.mu.Unlock()
		return p.Current(ctx)
	}

	if p.index+1 < len(p.pages) {
		p.index++
		page := p.pages[p.index]
		p.mu.Unlock()
		return page, nil
	}

	frontier := p.pages[len(p.pages)-1]
	if !frontier.HasMore {
		page := p.pages[p.index]
		p.mu.Unlock()
		return page, nil
	}
	filters := p.filters
	fp := p.fp
	after := frontier.EndCursor
	at := len(p.pages)
	p.mu.Unlock()

	page, err := p.source.FetchPage(ctx, filters, after)
	if err != nil {
		return Page{}, err
	}
	return p.install(fp, page, at)
}

// Prev steps back within the cache. It never re-fetches: earlier pages are
// always resident. Returns false at page zero.
func (p *Pager) Prev() (Page, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index == 0 || len(p.pages) == 0 {
		return Page{}, false
	}
	p.index--
	return p.pages[p.index], true
}

// install commits a fetched page unless the filters changed while the fetch
// was in flight; a stale result is discarded, not cached.
func (p *Pager) install(fpAtFetch string, page Page, at int) (Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fp != fpAtFetch {
		return Page{}, ErrSuperseded
	}
	if at >= len(p.pages) {
		p.pages = append(p.pages, page)
		p.index = len(p.pages) - 1
	}
	return page, nil
}
