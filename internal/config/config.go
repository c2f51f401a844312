package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgallion1/papergest/internal/clean"
	"github.com/dgallion1/papergest/internal/scrape"
)

type Config struct {
	Port string

	// Auth
	PapergestAPIKey string

	// Entrez E-utilities
	EntrezURL    string
	EntrezEmail  string
	EntrezAPIKey string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Chunking defaults
	DefaultChunkSize    int
	DefaultChunkOverlap int

	// Job state
	JobTTL time.Duration

	// Storage
	DatabasePath string
	ArchiveDir   string // empty disables archiving of fetched XML

	// Parsing
	ValidateXML    bool
	StrictWarnings bool
	OnUnknownTag   string

	// Logging
	LogFormat string
	LogLevel  string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		PapergestAPIKey: os.Getenv("PAPERGEST_API_KEY"),

		EntrezURL:    envOr("ENTREZ_URL", scrape.DefaultBaseURL),
		EntrezEmail:  os.Getenv("ENTREZ_EMAIL"),
		EntrezAPIKey: os.Getenv("ENTREZ_API_KEY"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		DefaultChunkSize:    envInt("DEFAULT_CHUNK_SIZE", 512),
		DefaultChunkOverlap: envInt("DEFAULT_CHUNK_OVERLAP", 64),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		DatabasePath: envOr("DATABASE_PATH", "papergest.db"),
		ArchiveDir:   os.Getenv("ARCHIVE_DIR"),

		ValidateXML:    envBool("VALIDATE_XML", true),
		StrictWarnings: envBool("STRICT_WARNINGS", false),
		OnUnknownTag:   envOr("ON_UNKNOWN_TAG", "keep"),

		LogFormat: envOr("LOG_FORMAT", "json"),
		LogLevel:  envOr("LOG_LEVEL", "info"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 512
	}
	if cfg.DefaultChunkOverlap < 0 {
		cfg.DefaultChunkOverlap = 64
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.PapergestAPIKey == "" {
		return fmt.Errorf("PAPERGEST_API_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if _, err := clean.ParsePolicy(c.OnUnknownTag); err != nil {
		return fmt.Errorf("ON_UNKNOWN_TAG: %w", err)
	}
	if c.DefaultChunkOverlap >= c.DefaultChunkSize {
		return fmt.Errorf("DEFAULT_CHUNK_OVERLAP (%d) must be smaller than DEFAULT_CHUNK_SIZE (%d)", c.DefaultChunkOverlap, c.DefaultChunkSize)
	}
	return nil
}

// SplitOptions returns the splitter options implied by OnUnknownTag.
// Call after Validate; an unparsable policy falls back to keep.
func (c Config) SplitOptions() clean.Options {
	opts := clean.DefaultOptions()
	if p, err := clean.ParsePolicy(c.OnUnknownTag); err == nil {
		opts.OnUnknown = p
	}
	return opts
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
