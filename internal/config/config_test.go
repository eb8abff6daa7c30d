package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "dst-flow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	l, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := l.Config()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Backend.Enabled {
		t.Error("backend should be disabled by default")
	}
	if cfg.Backend.Timeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.MaxBackups != 3 {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if l.File() != "" {
		t.Errorf("expected no config file, got %q", l.File())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestFileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  addr: ":9000"
  allowed_origins: ["https://study.example"]
backend:
  enabled: true
  url: "https://db.example"
  timeout: 3s
study:
  title: "Pilot"
logging:
  level: debug
`)
	t.Setenv("DST_BACKEND_API_KEY", "secret")
	t.Setenv("DST_STUDY_TITLE", "From env")

	l, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := l.Config()
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://study.example" {
		t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Backend.Enabled || cfg.Backend.URL != "https://db.example" || cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.APIKey != "secret" {
		t.Errorf("env api key not applied, got %q", cfg.Backend.APIKey)
	}
	if cfg.Study.Title != "From env" {
		t.Errorf("env should override file, got %q", cfg.Study.Title)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug, got %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Server: ServerConfig{Addr: ":1"}, Store: StoreConfig{Path: "x.db"}}, false},
		{"no addr", Config{Store: StoreConfig{Path: "x.db"}}, true},
		{"no store", Config{Server: ServerConfig{Addr: ":1"}}, true},
		{"backend without url", Config{
			Server:  ServerConfig{Addr: ":1"},
			Store:   StoreConfig{Path: "x.db"},
			Backend: BackendConfig{Enabled: true},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReloadNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	l.OnChange(func(c Config) { got = append(got, c.Logging.Level) })

	writeConfig(t, dir, "logging:\n  level: warn\n")
	if err := l.v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	l.reload()

	if len(got) != 1 || got[0] != "warn" {
		t.Errorf("expected one reload with warn, got %v", got)
	}
	if l.Config().Logging.Level != "warn" {
		t.Errorf("config not updated, got %q", l.Config().Logging.Level)
	}
}
