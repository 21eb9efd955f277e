package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_MAX_RETRIES", "")
	cfg := Load()
	if cfg.LLMMaxRetries != 2 {
		t.Fatalf("expected 2 retries by default, got %d", cfg.LLMMaxRetries)
	}
	if cfg.MaxTextChars != 6000 || cfg.MinTextLength != 50 {
		t.Fatalf("unexpected text limits: %d/%d", cfg.MaxTextChars, cfg.MinTextLength)
	}
	if cfg.LLMTemperature != 0 {
		t.Fatalf("expected deterministic temperature, got %v", cfg.LLMTemperature)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOB_DEADLINE", "90s")
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "not-a-number")

	cfg := Load()
	if cfg.JobDeadline != 90*time.Second {
		t.Fatalf("job deadline: got %s", cfg.JobDeadline)
	}
	if cfg.WorkerConcurrency != 9 {
		t.Fatalf("worker concurrency: got %d", cfg.WorkerConcurrency)
	}
	if !cfg.S3PathStyle {
		t.Fatalf("expected path style")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("origins: got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRefill != 1 {
		t.Fatalf("invalid float should fall back to default, got %v", cfg.RateLimitRefill)
	}
}

func TestLoadClampsConcurrencyAndStaleRunning(t *testing.T) {
	t.Setenv("EXTRACTOR_CONCURRENCY", "0")
	t.Setenv("EXTRACTION_FANOUT", "-2")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("JOB_DEADLINE", "10m")
	t.Setenv("STALE_RUNNING_AFTER", "5m")

	cfg := Load()
	if cfg.ExtractorConcurrency != 1 || cfg.ExtractionFanOut != 1 || cfg.WorkerConcurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got extractor=%d fanout=%d worker=%d",
			cfg.ExtractorConcurrency, cfg.ExtractionFanOut, cfg.WorkerConcurrency)
	}
	if cfg.StaleRunningAfter != 20*time.Minute {
		t.Fatalf("stale running must exceed the job deadline, got %s", cfg.StaleRunningAfter)
	}
}

func TestLoadKeepsStaleRunningAboveDeadline(t *testing.T) {
	t.Setenv("JOB_DEADLINE", "2m")
	t.Setenv("STALE_RUNNING_AFTER", "45m")

	if cfg := Load(); cfg.StaleRunningAfter != 45*time.Minute {
		t.Fatalf("expected configured value kept, got %s", cfg.StaleRunningAfter)
	}
}
