package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"resume-ingest/internal/resumes"
	"resume-ingest/internal/shared/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:               "dev",
		JWTSecret:         "test-secret",
		ObjectStoreType:   "local",
		LocalStoreDir:     t.TempDir(),
		Converter:         "fitz",
		ConversionDPI:     150,
		ExtractionModel:   "gpt-4o-mini",
		StructuringModel:  "gpt-4o-mini",
		ExtractionAPIKey:  "ext-key",
		StructuringAPIKey: "str-key",
		RetryMaxAttempts:  3,
		RetryBaseDelay:    300 * time.Millisecond,
		RetryMaxDelay:     5 * time.Second,
		PersistAttempts:   3,
		MaxFilesPerBatch:  10,
		MaxFileBytes:      10 << 20,
		BatchRetention:    30 * time.Minute,
		LookupTimeout:     time.Second,
	}
}

func TestBuildAPIInMemory(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t), RoleAPI)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())

	if app.Router == nil || app.Batches == nil || app.Checkpoints == nil {
		t.Fatalf("expected router, batches and checkpoints to be wired")
	}
	if app.DB != nil {
		t.Fatalf("expected no database in dev without DATABASE_URL")
	}
	if _, ok := app.Resumes.(*resumes.MemoryRepo); !ok {
		t.Fatalf("expected memory repo, got %T", app.Resumes)
	}
	if app.Runner != nil {
		t.Fatalf("api role should not build a worker runner")
	}
}

func TestBuildCLIWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ingest.db")

	app, err := Build(context.Background(), cfg, RoleCLI)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())

	if _, ok := app.Resumes.(*resumes.SQLiteRepo); !ok {
		t.Fatalf("expected sqlite repo, got %T", app.Resumes)
	}
	if app.Router != nil || app.Batches != nil {
		t.Fatalf("cli role should not build the http surface")
	}
}

func TestBuildRejectsIncompleteSetups(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		mutate func(*config.Config)
	}{
		{name: "queue without redis", role: RoleAPI, mutate: func(c *config.Config) { c.QueueURL = "https://sqs.example/queue" }},
		{name: "worker without redis", role: RoleWorker, mutate: func(c *config.Config) {}},
		{name: "production without database", role: RoleAPI, mutate: func(c *config.Config) { c.Env = "production" }},
		{name: "http converter without url", role: RoleAPI, mutate: func(c *config.Config) {
			c.Env = "staging"
			c.SQLitePath = filepath.Join(t.TempDir(), "x.db")
			c.Converter = "http"
		}},
		{name: "oauth without token url", role: RoleAPI, mutate: func(c *config.Config) { c.CredentialsProvider = "oauth" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			app, err := Build(context.Background(), cfg, tt.role)
			if err == nil {
				app.Close(context.Background())
				t.Fatalf("expected error")
			}
		})
	}
}
