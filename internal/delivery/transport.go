package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dutylog/internal/activity"
	"dutylog/pkg/platform/sentinel"
)

//go:generate mockgen -source=transport.go -destination=mocks/mocks.go -package=mocks Transport,CredentialSource,SessionSource

// Enriched is one activity event carrying its identity and session metadata,
// ready for the wire. ClientTime is a hint only; the store assigns the
// authoritative ordering key on append.
type Enriched struct {
	Kind       activity.Kind  `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	SubjectID  string         `json:"subject_id"`
	Login      string         `json:"login"`
	SessionID  string         `json:"session_id"`
	ClientTime time.Time      `json:"client_time"`
}

// Batch is one emission call's worth of enriched events, order preserved.
type Batch struct {
	Events []Enriched `json:"events"`
}

// Transport delivers batches to the log-ingestion endpoint. Send is the
// normal path. SendFinal is the page-teardown path: it must attempt delivery
// even while the hosting context dies, bounded by a short timeout, with no
// confirmation expected.
type Transport interface {
	Send(ctx context.Context, credential string, batch Batch) error
	SendFinal(credential string, batch Batch) error
}

// finalSendTimeout bounds the teardown best-effort delivery attempt.
const finalSendTimeout = 2 * time.Second

// HTTPTransport posts batches to the ingest endpoint.
type HTTPTransport struct {
	url         string
	client      *http.Client
	finalClient *http.Client
}

// NewHTTPTransport builds a transport for the given ingest URL. A nil client
// gets a default with a conservative timeout.
func NewHTTPTransport(url string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{
		url:         url,
		client:      client,
		finalClient: &http.Client{Timeout: finalSendTimeout},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, credential string, batch Batch) error {
	return t.post(ctx, t.client, credential, batch)
}

// SendFinal detaches from the caller's context so cancellation during
// teardown cannot abort the attempt; the short client timeout bounds it
// instead.
func (t *HTTPTransport) SendFinal(credential string, batch Batch) error {
	return t.post(context.Background(), t.finalClient, credential, batch)
}

func (t *HTTPTransport) post(ctx context.Context, client *http.Client, credential string, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: ingest returned %d", sentinel.ErrStoreUnavailable, resp.StatusCode)
	}
	return nil
}
