package session

import (
	"context"
	"sync"
	"time"
)

// Slot is the durable per-context session record. It survives agent restarts
// within the same browsing context so a reload resumes the session instead of
// minting a new one.
type Slot struct {
	UID       string    `json:"uid"`
	Login     string    `json:"login"`
	Name      string    `json:"name,omitempty"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// SlotStore persists the session slot. Load returns (nil, nil) when the slot
// is absent or malformed - a corrupt slot is treated as no session, never as
// an error surfaced to the lifecycle manager.
type SlotStore interface {
	Load(ctx context.Context) (*Slot, error)
	Save(ctx context.Context, slot *Slot) error
	Clear(ctx context.Context) error
}

// InMemorySlotStore keeps the slot in process memory. It backs tests and
// deployments without Redis.
type InMemorySlotStore struct {
	mu   sync.Mutex
	slot *Slot
}

func NewInMemorySlotStore() *InMemorySlotStore {
	return &InMemorySlotStore{}
}

func (s *InMemorySlotStore) Load(_ context.Context) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot == nil {
		return nil, nil
	}
	copied := *s.slot
	return &copied, nil
}

func (s *InMemorySlotStore) Save(_ context.Context, slot *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *slot
	s.slot = &copied
	return nil
}

func (s *InMemorySlotStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = nil
	return nil
}
