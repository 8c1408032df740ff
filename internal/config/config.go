package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Remote store connection
	NotionBaseURL string
	NotionToken   string

	// Auth
	SN2NAPIKey string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Placement
	MaxChildren    int           // Per-call sibling ceiling
	NestingCeiling int           // Depth creatable in the initial call
	MaxAttempts    int           // Retries per batch
	TransientDelay time.Duration // Short backoff step
	RateLimitDelay time.Duration // Initial rate-limit backoff
	RateLimitCap   time.Duration // Rate-limit backoff ceiling
	BatchPause     time.Duration // Inter-batch delay
	SweepDelay     time.Duration // Delay before the re-sweep

	// Dedup
	ProximityWindow int

	// Job state
	JobTTL time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "3004"),

		NotionBaseURL: envOr("NOTION_BASE_URL", "https://api.notion.com"),
		NotionToken:   os.Getenv("NOTION_TOKEN"),

		SN2NAPIKey: os.Getenv("SN2N_API_KEY"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 50),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10485760), // 10MB

		MaxChildren:    envInt("MAX_CHILDREN", 100),
		NestingCeiling: envInt("NESTING_CEILING", 2),
		MaxAttempts:    envInt("MAX_ATTEMPTS", 3),
		TransientDelay: envDuration("TRANSIENT_DELAY", 300*time.Millisecond),
		RateLimitDelay: envDuration("RATE_LIMIT_DELAY", 5*time.Second),
		RateLimitCap:   envDuration("RATE_LIMIT_CAP", 30*time.Second),
		BatchPause:     envDuration("BATCH_PAUSE", 350*time.Millisecond),
		SweepDelay:     envDuration("SWEEP_DELAY", 2*time.Second),

		ProximityWindow: envInt("PROXIMITY_WINDOW", 5),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10485760
	}
	if cfg.MaxChildren <= 0 || cfg.MaxChildren > 100 {
		cfg.MaxChildren = 100
	}
	if cfg.NestingCeiling <= 0 {
		cfg.NestingCeiling = 2
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.NotionToken == "" {
		return fmt.Errorf("NOTION_TOKEN is required")
	}
	if c.SN2NAPIKey == "" {
		return fmt.Errorf("SN2N_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
