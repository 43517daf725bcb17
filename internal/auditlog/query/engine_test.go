package query

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
	"dutylog/internal/platform/logger"
)

// EngineSuite drives the pagination engine against the in-memory store with
// synthetic logs large enough to force multi-batch fetch loops.
type EngineSuite struct {
	suite.Suite
	store  *auditlog.InMemoryStore
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.store = auditlog.NewInMemoryStore()
	resolver := auditlog.NewStaticResolver(
		auditlog.Account{UID: "uid-smith", Login: "agent.smith", Name: "Agent Smith"},
		auditlog.Account{UID: "uid-jones", Login: "agent.jones", Name: "Agent Jones"},
	)
	s.engine = NewEngine(s.store, resolver, logger.NewNop())
}

func (s *EngineSuite) append(kind activity.Kind, subject, login string) auditlog.Entry {
	e, err := s.store.Append(context.Background(), auditlog.Entry{
		Kind:      kind,
		SubjectID: subject,
		Login:     login,
		SessionID: "sess-" + subject,
	})
	s.Require().NoError(err)
	return e
}

// drain pulls pages until HasMore is false and returns every entry seen.
func (s *EngineSuite) drain(f Filters) []auditlog.Entry {
	var all []auditlog.Entry
	cursor := auditlog.Cursor("")
	for {
		page, err := s.engine.FetchPage(context.Background(), f, cursor)
		s.Require().NoError(err)
		all = append(all, page.Entries...)
		if !page.HasMore {
			return all
		}
		cursor = page.EndCursor
	}
}

// TestFilteredPaginationCompleteness: a sparse filter over a large log must
// return every match exactly once, in descending order, however many store
// batches that takes.
func (s *EngineSuite) TestFilteredPaginationCompleteness() {
	// 1000 records, 37 of which are ledger adjustments.
	matchPositions := map[int]bool{}
	for i := 0; i < 37; i++ {
		matchPositions[i*27] = true // spread across the whole log
	}
	var wantIDs []string
	for i := 0; i < 1000; i++ {
		kind := activity.KindPageView
		if matchPositions[i] {
			kind = activity.KindLedgerAdjusted
		}
		e := s.append(kind, "uid-smith", "agent.smith")
		if matchPositions[i] {
			wantIDs = append(wantIDs, e.ID)
		}
	}

	got := s.drain(Filters{Kind: activity.KindLedgerAdjusted})

	s.Require().Len(got, 37, "all matches returned")
	seen := map[string]bool{}
	for _, e := range got {
		s.False(seen[e.ID], "no duplicates")
		seen[e.ID] = true
		s.Equal(activity.KindLedgerAdjusted, e.Kind)
	}
	// Descending order: the last appended match comes first.
	s.Equal(wantIDs[len(wantIDs)-1], got[0].ID)
	s.Equal(wantIDs[0], got[len(got)-1].ID)
	for i := 1; i < len(got); i++ {
		s.True(got[i].RecordedAt.Before(got[i-1].RecordedAt), "descending time order")
	}
}

// TestPageFillsInsideShortBatch: when the final short store batch holds more
// matches than the page has room for, the leftover records must stay
// reachable from the returned cursor instead of vanishing behind a premature
// exhaustion signal.
func (s *EngineSuite) TestPageFillsInsideShortBatch() {
	// 350 matches: page two fills 150 deep into a 200-record short batch,
	// leaving 50 records behind the fill point.
	for i := 0; i < 350; i++ {
		s.append(activity.KindDocumentCreated, "uid-smith", "agent.smith")
	}
	f := Filters{Kind: activity.KindDocumentCreated}

	page1, err := s.engine.FetchPage(context.Background(), f, "")
	s.Require().NoError(err)
	s.Len(page1.Entries, PageSize)
	s.True(page1.HasMore)

	page2, err := s.engine.FetchPage(context.Background(), f, page1.EndCursor)
	s.Require().NoError(err)
	s.Len(page2.Entries, PageSize)
	s.True(page2.HasMore, "records remain behind the fill point")

	page3, err := s.engine.FetchPage(context.Background(), f, page2.EndCursor)
	s.Require().NoError(err)
	s.Len(page3.Entries, 50)
	s.False(page3.HasMore)

	got := s.drain(f)
	s.Require().Len(got, 350, "no record lost at the end of the log")
	seen := map[string]bool{}
	for _, e := range got {
		s.False(seen[e.ID], "no duplicates")
		seen[e.ID] = true
	}
}

// TestCursorMonotonicity: every EndCursor corresponds to a store position at
// or after all previously returned cursors for the same filter session.
func (s *EngineSuite) TestCursorMonotonicity() {
	for i := 0; i < 700; i++ {
		kind := activity.KindPageView
		if i%3 == 0 {
			kind = activity.KindDocumentCreated
		}
		s.append(kind, "uid-smith", "agent.smith")
	}

	f := Filters{Kind: activity.KindDocumentCreated}
	cursor := auditlog.Cursor("")
	prev := uint64(1 << 62)
	for {
		page, err := s.engine.FetchPage(context.Background(), f, cursor)
		s.Require().NoError(err)
		if page.EndCursor != "" {
			pos, err := strconv.ParseUint(string(page.EndCursor), 10, 64)
			s.Require().NoError(err)
			s.Less(pos, prev, "cursor advances monotonically through the store")
			prev = pos
		}
		if !page.HasMore {
			break
		}
		cursor = page.EndCursor
	}
}

// TestEmptyBatchesDoNotTerminate: a filter that excludes whole batches must
// keep pulling; termination is governed by page fill and store exhaustion
// only.
func (s *EngineSuite) TestEmptyBatchesDoNotTerminate() {
	// 600 non-matching records, then (older positions exhausted) a single
	// match buried at the oldest end of the log.
	needle := s.append(activity.KindAnnouncementPosted, "uid-jones", "agent.jones")
	for i := 0; i < 600; i++ {
		s.append(activity.KindPageView, "uid-smith", "agent.smith")
	}

	page, err := s.engine.FetchPage(context.Background(), Filters{Kind: activity.KindAnnouncementPosted}, "")
	s.Require().NoError(err)
	s.Require().Len(page.Entries, 1)
	s.Equal(needle.ID, page.Entries[0].ID)
	s.False(page.HasMore)
}

func (s *EngineSuite) TestAccountFilter() {
	for i := 0; i < 10; i++ {
		s.append(activity.KindPageView, "uid-smith", "agent.smith")
		s.append(activity.KindPageView, "uid-jones", "agent.jones")
	}

	s.Run("matches login case-insensitively", func() {
		page, err := s.engine.FetchPage(context.Background(), Filters{Account: "AGENT.SMITH"}, "")
		s.Require().NoError(err)
		s.Len(page.Entries, 10)
		for _, e := range page.Entries {
			s.Equal("uid-smith", e.SubjectID)
		}
	})

	s.Run("matches resolved display name", func() {
		page, err := s.engine.FetchPage(context.Background(), Filters{Account: "Agent Jones"}, "")
		s.Require().NoError(err)
		s.Len(page.Entries, 10)
		for _, e := range page.Entries {
			s.Equal("uid-jones", e.SubjectID)
		}
	})

	s.Run("unresolvable account matches nothing", func() {
		page, err := s.engine.FetchPage(context.Background(), Filters{Account: "nobody"}, "")
		s.Require().NoError(err)
		s.Empty(page.Entries)
		s.False(page.HasMore)
	})
}

func (s *EngineSuite) TestCategoryFilter() {
	s.append(activity.KindSessionStart, "uid-smith", "agent.smith")
	s.append(activity.KindPageView, "uid-smith", "agent.smith")
	s.append(activity.KindLogout, "uid-smith", "agent.smith")

	page, err := s.engine.FetchPage(context.Background(), Filters{Category: activity.CategorySession}, "")
	s.Require().NoError(err)
	s.Len(page.Entries, 2)
	for _, e := range page.Entries {
		s.Equal(activity.CategorySession, activity.CategoryOf(e.Kind))
	}
}

func (s *EngineSuite) TestFilterValidation() {
	s.Run("kind inconsistent with category is rejected", func() {
		_, err := s.engine.FetchPage(context.Background(), Filters{
			Category: activity.CategorySession,
			Kind:     activity.KindPageView,
		}, "")
		s.Require().Error(err)
	})

	s.Run("kind consistent with category passes", func() {
		_, err := s.engine.FetchPage(context.Background(), Filters{
			Category: activity.CategorySession,
			Kind:     activity.KindLogout,
		}, "")
		s.Require().NoError(err)
	})
}

// TestReviewerScenario is the worked example: 400 subject records, 300 after
// the from-bound, drained in pages of 150.
func (s *EngineSuite) TestReviewerScenario() {
	for i := 0; i < 100; i++ {
		s.append(activity.KindPageView, "uid-smith", "agent.smith")
	}
	fromTime := time.Now()
	for i := 0; i < 300; i++ {
		s.append(activity.KindPageView, "uid-smith", "agent.smith")
	}

	f := Filters{Account: "agent.smith", From: fromTime}

	page0, err := s.engine.FetchPage(context.Background(), f, "")
	s.Require().NoError(err)
	s.Len(page0.Entries, 150)
	s.True(page0.HasMore)

	page1, err := s.engine.FetchPage(context.Background(), f, page0.EndCursor)
	s.Require().NoError(err)
	s.Len(page1.Entries, 150)

	if page1.HasMore {
		page2, err := s.engine.FetchPage(context.Background(), f, page1.EndCursor)
		s.Require().NoError(err)
		s.Empty(page2.Entries)
		s.False(page2.HasMore)
	}
}
