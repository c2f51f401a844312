package config

import (
	"testing"
	"time"

	"github.com/dgallion1/papergest/internal/clean"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "WORKER_COUNT", "DEFAULT_CHUNK_SIZE", "JOB_TTL", "VALIDATE_XML", "STRICT_WARNINGS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != "8090" || cfg.WorkerCount != 4 || cfg.DefaultChunkSize != 512 || cfg.JobTTL != time.Hour {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.ValidateXML || cfg.StrictWarnings {
		t.Errorf("expected validation on and strict off, got %v %v", cfg.ValidateXML, cfg.StrictWarnings)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PAPERGEST_API_KEY", "k")
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("JOB_TTL", "5m")
	t.Setenv("STRICT_WARNINGS", "true")
	t.Setenv("ON_UNKNOWN_TAG", "drop")

	cfg := Load()
	if cfg.WorkerCount != 4 {
		t.Errorf("expected invalid worker count replaced, got %d", cfg.WorkerCount)
	}
	if cfg.JobTTL != 5*time.Minute || !cfg.StrictWarnings {
		t.Errorf("unexpected config %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.SplitOptions().OnUnknown != clean.Drop {
		t.Error("expected drop policy")
	}
}

func TestValidate(t *testing.T) {
	base := Config{PapergestAPIKey: "k", DatabasePath: "x.db", OnUnknownTag: "keep", DefaultChunkSize: 10, DefaultChunkOverlap: 2}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"no key":     func(c *Config) { c.PapergestAPIKey = "" },
		"bad policy": func(c *Config) { c.OnUnknownTag = "explode" },
		"overlap":    func(c *Config) { c.DefaultChunkOverlap = 10 },
	} {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
