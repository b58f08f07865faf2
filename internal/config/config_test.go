package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Port != 8080 {
		t.Errorf("default port: got %d", cfg.App.Port)
	}
	if cfg.Ingest.DefaultChunkSize != 512 || cfg.Ingest.DefaultChunkOverlap != 50 {
		t.Errorf("default chunk config: size=%d overlap=%d", cfg.Ingest.DefaultChunkSize, cfg.Ingest.DefaultChunkOverlap)
	}
	if cfg.Query.DefaultTopK != 5 || cfg.Query.MaxTopK != 20 {
		t.Errorf("default query config: top_k=%d max=%d", cfg.Query.DefaultTopK, cfg.Query.MaxTopK)
	}
	if cfg.Query.DefaultMinSimilarity != 0.5 {
		t.Errorf("default min similarity: got %v", cfg.Query.DefaultMinSimilarity)
	}
	if cfg.Embedding.Backend != "openai" {
		t.Errorf("default embedding backend: got %q", cfg.Embedding.Backend)
	}
	if cfg.RabbitMQ.IngestQueue != "document.ingest" {
		t.Errorf("default ingest queue: got %q", cfg.RabbitMQ.IngestQueue)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9000

[ingest]
workers = 8

[mysql]
host = "db.internal"
db = "docs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Port != 9100 {
		t.Errorf("env must override the file, got port %d", cfg.App.Port)
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("file value not applied, got workers %d", cfg.Ingest.Workers)
	}
	if cfg.MySQL.Host != "db.internal" {
		t.Errorf("file value not applied, got host %q", cfg.MySQL.Host)
	}
	if cfg.Ingest.DefaultStrategy != "hybrid" {
		t.Errorf("untouched fields keep defaults, got %q", cfg.Ingest.DefaultStrategy)
	}
}

func TestMySQLDSN(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MYSQL_USER", "svc")
	t.Setenv("MYSQL_PASSWORD", "secret")
	t.Setenv("MYSQL_HOST", "10.0.0.5")
	t.Setenv("MYSQL_PORT", "3307")
	t.Setenv("MYSQL_DB", "docs")
	t.Setenv("MYSQL_PARAMS", "parseTime=true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "svc:secret@tcp(10.0.0.5:3307)/docs?parseTime=true"
	if got := cfg.MySQLDSN(); got != want {
		t.Fatalf("dsn: got %q, want %q", got, want)
	}
}
