package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures service-level configuration.
type Server struct {
	Addr string

	// PostgresDSN selects the durable audit log store. Empty means the
	// in-memory store (dev and tests).
	PostgresDSN string

	// IngestSigningKey verifies agent delivery tokens (HS256).
	IngestSigningKey string

	// ReviewerKeyHash is the bcrypt hash of the reviewer API key. Empty
	// disables the reviewer endpoints.
	ReviewerKeyHash string

	// AccountDirectory is an optional JSON file of known accounts used to
	// resolve reviewer account filters to subject ids.
	AccountDirectory string

	Redis RedisConfig
	Kafka KafkaConfig

	// InactivityTimeout is how long a session survives without activity
	// signals before the agent finalizes it.
	InactivityTimeout time.Duration
}

// RedisConfig holds connection settings for the durable session slot store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the audit event fan-out topic.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// DefaultInactivityTimeout matches the agent-side session deadline.
const DefaultInactivityTimeout = 15 * time.Minute

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("DUTYLOG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	signingKey := os.Getenv("DUTYLOG_INGEST_SIGNING_KEY")
	if signingKey == "" {
		// Use a default for development - should be overridden in production
		signingKey = "dev-secret-key-change-in-production"
	}

	topic := os.Getenv("DUTYLOG_KAFKA_TOPIC")
	if topic == "" {
		topic = "dutylog.activity.events"
	}

	return Server{
		Addr:             addr,
		PostgresDSN:      os.Getenv("DUTYLOG_POSTGRES_DSN"),
		IngestSigningKey: signingKey,
		ReviewerKeyHash:  os.Getenv("DUTYLOG_REVIEWER_KEY_HASH"),
		AccountDirectory: os.Getenv("DUTYLOG_ACCOUNT_DIRECTORY"),
		Redis: RedisConfig{
			URL:          os.Getenv("DUTYLOG_REDIS_URL"),
			PoolSize:     envInt("DUTYLOG_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("DUTYLOG_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("DUTYLOG_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("DUTYLOG_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("DUTYLOG_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("DUTYLOG_KAFKA_BROKERS"),
			Topic:   topic,
		},
		InactivityTimeout: envDuration("DUTYLOG_INACTIVITY_TIMEOUT", DefaultInactivityTimeout),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
