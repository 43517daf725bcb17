package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
	"dutylog/internal/platform/logger"
	"dutylog/internal/platform/metrics"
	"dutylog/internal/platform/middleware"
	"dutylog/pkg/platform/sentinel"
)

// sharedMetrics is created once; the default Prometheus registry rejects
// duplicate registration within a test binary.
var (
	sharedMetrics     *metrics.Metrics
	sharedMetricsOnce sync.Once
)

func testMetrics() *metrics.Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = metrics.New()
	})
	return sharedMetrics
}

// staticValidator accepts exactly one token.
type staticValidator struct {
	token  string
	claims middleware.TokenClaims
}

func (v *staticValidator) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	if tokenString != v.token {
		return nil, errors.New("invalid token")
	}
	claims := v.claims
	return &claims, nil
}

type recordingFanout struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (f *recordingFanout) Enqueue(entry auditlog.Entry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return true
}

// failingStore rejects every append as unavailable.
type failingStore struct{}

func (failingStore) Append(context.Context, auditlog.Entry) (auditlog.Entry, error) {
	return auditlog.Entry{}, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

func (failingStore) QueryDescending(context.Context, auditlog.Query) ([]auditlog.Entry, error) {
	return nil, fmt.Errorf("%w: connection refused", sentinel.ErrStoreUnavailable)
}

type IngestHandlerSuite struct {
	suite.Suite
	store  *auditlog.InMemoryStore
	fanout *recordingFanout
	server http.Handler
}

func TestIngestHandlerSuite(t *testing.T) {
	suite.Run(t, new(IngestHandlerSuite))
}

func (s *IngestHandlerSuite) SetupTest() {
	s.store = auditlog.NewInMemoryStore()
	s.fanout = &recordingFanout{}
	s.server = s.routerFor(s.store)
}

func (s *IngestHandlerSuite) routerFor(store auditlog.Store) http.Handler {
	validator := &staticValidator{
		token:  "good-token",
		claims: middleware.TokenClaims{SubjectID: "uid-smith", Login: "agent.smith"},
	}
	handler := NewIngestHandler(store, s.fanout, validator, logger.NewNop(), testMetrics())
	r := chi.NewRouter()
	handler.Register(r)
	return r
}

func (s *IngestHandlerSuite) post(body any, token string) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/activity/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)
	return w
}

func (s *IngestHandlerSuite) TestAcceptsBatch() {
	w := s.post(ingestRequest{Events: []ingestEvent{
		{Kind: activity.KindPageView, SessionID: "s1", ClientTime: time.Now()},
		{Kind: activity.KindDocumentCreated, SessionID: "s1", Payload: map[string]any{"title": "Q3 report"}},
	}}, "good-token")

	s.Equal(http.StatusAccepted, w.Code)
	var resp map[string]int
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(2, resp["accepted"])
	s.Equal(2, s.store.Len())

	entries, err := s.store.QueryDescending(context.Background(), auditlog.Query{})
	s.Require().NoError(err)
	s.Run("identity comes from the token, not the body", func() {
		for _, e := range entries {
			s.Equal("uid-smith", e.SubjectID)
			s.Equal("agent.smith", e.Login)
		}
	})
	s.Run("accepted records reach the fan-out", func() {
		s.Len(s.fanout.entries, 2)
	})
}

func (s *IngestHandlerSuite) TestRejectsMissingToken() {
	w := s.post(ingestRequest{Events: []ingestEvent{{Kind: activity.KindPageView}}}, "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal(0, s.store.Len())
}

func (s *IngestHandlerSuite) TestRejectsBadToken() {
	w := s.post(ingestRequest{Events: []ingestEvent{{Kind: activity.KindPageView}}}, "forged")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *IngestHandlerSuite) TestSkipsEmptyKinds() {
	w := s.post(ingestRequest{Events: []ingestEvent{
		{Kind: "", SessionID: "s1"},
		{Kind: activity.KindPageView, SessionID: "s1"},
	}}, "good-token")

	s.Equal(http.StatusAccepted, w.Code)
	var resp map[string]int
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp["accepted"])
	s.Equal(1, s.store.Len())
}

func (s *IngestHandlerSuite) TestSessionStartGetsDeviceInfo() {
	raw, err := json.Marshal(ingestRequest{Events: []ingestEvent{
		{Kind: activity.KindSessionStart, SessionID: "s1"},
	}})
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/activity/events", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer good-token")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)

	s.Equal(http.StatusAccepted, w.Code)
	entries, err := s.store.QueryDescending(context.Background(), auditlog.Query{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	// The catalog renders "device" as a plain string label; the structured
	// breakdown rides along separately.
	label, ok := entries[0].Payload["device"].(string)
	s.Require().True(ok, "device payload value is the label string")
	s.Contains(label, "Firefox")
	s.Contains(entries[0].Payload, "device_info")
	s.Equal("signed in on "+label, activity.Describe(entries[0].Kind, entries[0].Payload))
}

func (s *IngestHandlerSuite) TestStoreDownIsRetryable() {
	server := s.routerFor(failingStore{})
	raw, err := json.Marshal(ingestRequest{Events: []ingestEvent{{Kind: activity.KindPageView}}})
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/activity/events", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	s.Equal(http.StatusServiceUnavailable, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(true, resp["retryable"])
}

func (s *IngestHandlerSuite) TestMalformedBodyIsBadRequest() {
	req := httptest.NewRequest(http.MethodPost, "/v1/activity/events", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)
	s.Equal(http.StatusBadRequest, w.Code)
}
