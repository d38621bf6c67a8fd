// Package config loads engine settings from environment variables,
// with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the engine.
type Config struct {
	// Port the HTTP server listens on.
	Port string

	// MetadataTTL is how long coupon definitions are cached in memory before
	// being re-read from the store. Definitions are immutable once active, so
	// a short TTL only matters for pre-activation edits.
	MetadataTTL time.Duration

	// WriterWorkers and WriterBuffer size the async persistence path that
	// records successful admissions in the durable store.
	WriterWorkers int
	WriterBuffer  int

	// PersistMaxElapsed bounds the retry window for a single durable write.
	// When exhausted the discrepancy is logged and left for reconciliation.
	PersistMaxElapsed time.Duration

	// SweepInterval is how often issued-but-unused records past their expiry
	// are flipped to EXPIRED.
	SweepInterval time.Duration

	// ValidityGrace is added to a coupon's endAt to derive each issued
	// coupon's expiresAt. Zero means an issued coupon expires exactly when
	// its coupon's issuance window closes.
	ValidityGrace time.Duration
}

// Load reads configuration from the environment. A missing .env is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              getEnv("PORT", "8080"),
		MetadataTTL:       getDuration("COUPON_METADATA_TTL", 30*time.Second),
		WriterWorkers:     getInt("ISSUE_WRITER_WORKERS", 4),
		WriterBuffer:      getInt("ISSUE_WRITER_BUFFER", 4096),
		PersistMaxElapsed: getDuration("ISSUE_PERSIST_MAX_ELAPSED", 30*time.Second),
		SweepInterval:     getDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		ValidityGrace:     getDuration("COUPON_VALIDITY_GRACE", 0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
