package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{name: "unset", raw: "", want: 7 * time.Second},
		{name: "seconds", raw: "45", want: 45 * time.Second},
		{name: "go duration", raw: "250ms", want: 250 * time.Millisecond},
		{name: "garbage", raw: "soon", want: 7 * time.Second},
		{name: "negative", raw: "-3s", want: 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.raw)
			if got := getDuration("TEST_DURATION", 7*time.Second); got != tt.want {
				t.Fatalf("getDuration(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("CONVERTER", "MuPDF")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production env, got %q", cfg.Env)
	}
	if cfg.Converter != "fitz" {
		t.Fatalf("expected fitz converter, got %q", cfg.Converter)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("expected 3 retry attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelay != 300*time.Millisecond {
		t.Fatalf("expected 300ms base delay, got %s", cfg.RetryBaseDelay)
	}
}

func TestLoadEnvFilesKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("INGEST_TEST_A=from-file\nINGEST_TEST_B=\"quoted\"\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("INGEST_TEST_A", "from-env")
	os.Unsetenv("INGEST_TEST_B")
	t.Cleanup(func() { os.Unsetenv("INGEST_TEST_B") })

	loadEnvFiles(filepath.Join(dir, "missing.env"), path)

	if got := os.Getenv("INGEST_TEST_A"); got != "from-env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
	if got := os.Getenv("INGEST_TEST_B"); got != "quoted" {
		t.Fatalf("expected quoted value from file, got %q", got)
	}
}
