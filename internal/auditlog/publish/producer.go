// Package publish fans accepted activity records out to a Kafka topic for
// downstream consumers (SIEM ingestion, warehouse loads). The durable store
// is the source of truth; fan-out is best effort.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"dutylog/internal/auditlog"
	"dutylog/internal/platform/config"
)

// Producer publishes activity records. The Kafka-backed implementation and
// the test fakes both satisfy it.
type Producer interface {
	Publish(ctx context.Context, entry auditlog.Entry) error
	Close() error
}

// KafkaProducer wraps a franz-go client keyed on session so all events of
// one session land in one partition, preserving their order for consumers.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafkaProducer connects to the configured brokers and makes sure the
// fan-out topic exists.
func NewKafkaProducer(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaProducer, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(3),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &KafkaProducer{client: client, topic: cfg.Topic, logger: logger}
	if err := p.ensureTopic(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func (p *KafkaProducer) ensureTopic(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopics(ctx, 3, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("ensure topic %s: %w", p.topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !strings.Contains(t.Err.Error(), "TOPIC_ALREADY_EXISTS") {
			return fmt.Errorf("ensure topic %s: %w", p.topic, t.Err)
		}
	}
	return nil
}

// Publish sends one record and waits for the broker acknowledgement.
func (p *KafkaProducer) Publish(ctx context.Context, entry auditlog.Entry) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.RUnlock()

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode activity record: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.SessionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(entry.Kind)},
			{Key: "subject_id", Value: []byte(entry.SubjectID)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish activity record: %w", err)
	}
	return nil
}

// Healthy reports whether the brokers respond to a ping.
func (p *KafkaProducer) Healthy(ctx context.Context) bool {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return false
	}
	return p.client.Ping(ctx) == nil
}

// Close flushes buffered records and shuts the client down.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}

// NoopProducer discards records. Used when fan-out is not configured.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, auditlog.Entry) error { return nil }
func (NoopProducer) Close() error                                  { return nil }
