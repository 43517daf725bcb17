package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "dutylog/internal/platform/redis"
)

const (
	// Redis key prefix for session slots, one key per browsing context.
	slotKeyPrefix = "dutylog:slot:"

	// Slots expire on their own well past any plausible session length so
	// crashed contexts do not leak keys forever.
	slotTTL = 24 * time.Hour
)

// RedisSlotStore is a Redis-backed SlotStore. One instance serves one
// browsing context, identified by contextID.
type RedisSlotStore struct {
	client    *platformredis.Client
	contextID string
	logger    *slog.Logger
}

// NewRedisSlotStore constructs a slot store scoped to the given context ID.
// The client comes from platform/redis so connection setup and health
// checking stay in one place.
func NewRedisSlotStore(client *platformredis.Client, contextID string, logger *slog.Logger) *RedisSlotStore {
	return &RedisSlotStore{
		client:    client,
		contextID: contextID,
		logger:    logger,
	}
}

func (s *RedisSlotStore) key() string {
	return slotKeyPrefix + s.contextID
}

// Load fetches the slot. Absent and malformed slots both come back as
// (nil, nil): a corrupt record is logged and discarded, not surfaced.
func (s *RedisSlotStore) Load(ctx context.Context) (*Slot, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session slot: %w", err)
	}

	var slot Slot
	if err := json.Unmarshal(raw, &slot); err != nil {
		s.logger.Warn("discarding malformed session slot",
			"context_id", s.contextID,
			"error", err,
		)
		_ = s.client.Del(ctx, s.key()).Err()
		return nil, nil
	}
	if slot.SessionID == "" || slot.UID == "" {
		s.logger.Warn("discarding incomplete session slot", "context_id", s.contextID)
		_ = s.client.Del(ctx, s.key()).Err()
		return nil, nil
	}
	return &slot, nil
}

func (s *RedisSlotStore) Save(ctx context.Context, slot *Slot) error {
	raw, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("marshal session slot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), raw, slotTTL).Err(); err != nil {
		return fmt.Errorf("save session slot: %w", err)
	}
	return nil
}

func (s *RedisSlotStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("clear session slot: %w", err)
	}
	return nil
}
