package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesRelativeSQLitePath(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"server_address": ":9000", "store": "sqlite3"},
		"databases": {"sqlite3": {"dsn": "chats.db"}},
		"auth": {"jwt_secret": "s3cret"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	want := filepath.Join(filepath.Dir(path), "chats.db")
	if got := cfg.Databases[StoreSQLite].DSN; got != want {
		t.Fatalf("expected dsn %q, got %q", want, got)
	}
	if cfg.Redis.CacheTTLSeconds != 300 || cfg.Events.Queue != "chat_events" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Redis, cfg.Events)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"store": "sqlite3"},
		"databases": {"sqlite3": {"dsn": ":memory:"}},
		"auth": {"jwt_secret": "from-file"}
	}`)
	t.Setenv("PDFCHAT_JWT_SECRET", "from-env")
	t.Setenv("PDFCHAT_STORE", "mongo")
	t.Setenv("PDFCHAT_MONGO_URI", "mongodb://db:27017")
	t.Setenv("PDFCHAT_CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("PDFCHAT_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.BasicConfig.Store != StoreMongo || cfg.Mongo.URI != "mongodb://db:27017" {
		t.Fatalf("store override not applied: %+v %+v", cfg.BasicConfig, cfg.Mongo)
	}
	if !cfg.Redis.Enabled {
		t.Fatalf("expected redis enabled from env")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Databases[StoreSQLite].DSN != ":memory:" {
		t.Fatalf("in-memory dsn must not be rewritten, got %q", cfg.Databases[StoreSQLite].DSN)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	path := writeConfig(t, `{"databases": {"sqlite3": {"dsn": ":memory:"}}}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt secret error, got %v", err)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"store": "postgres"}, "auth": {"jwt_secret": "x"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported store error")
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}
