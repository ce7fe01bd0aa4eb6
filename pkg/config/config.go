// Package config holds tuning constants and environment-driven settings.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/statsengine"
	DefaultMaxMemoryMB = 48
)

// Recorder: optimistic-retry budget for the daily write path.
// Backoff grows linearly: attempt n waits n * RecordBackoffBase.
const (
	RecordMaxAttempts = 3
	RecordBackoffBase = 25 * time.Millisecond
	RecordTimeout     = 5 * time.Second
)

// Cache TTLs. Realtime entries expire faster because staleness there is
// immediately visible on dashboards.
const (
	HistoricalCacheTTL = 5 * time.Minute
	RealtimeCacheTTL   = 1 * time.Minute
	CacheMaxEntries    = 4096
)

// Query timeouts
const (
	QueryTimeout     = 30 * time.Second
	ReconcileTimeout = 60 * time.Second
)

// Background task intervals
const (
	BadgerGCInterval       = 10 * time.Minute
	BadgerGCDiscardRatio   = 0.5
	ReconcileSweepInterval = 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
)

// Config is populated from the environment with STATSENGINE_* variables.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DataDir     string `envconfig:"DATA_DIR" default:"./data/statsengine"`
	MaxMemoryMB int64  `envconfig:"MAX_MEMORY_MB" default:"48"`

	// DocumentsDB is the path to the pipeline's SQLite documents database,
	// consulted by the reconciliation auditor.
	DocumentsDB string `envconfig:"DOCUMENTS_DB" default:"./data/documents.db"`

	// Kafka ingest; empty brokers disable the consumer.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"documents.processed"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"statsengine"`

	// SweepEnabled turns the scheduled reconciliation sweep on.
	SweepEnabled bool `envconfig:"SWEEP_ENABLED" default:"true"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("statsengine", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
