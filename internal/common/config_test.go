package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func isolateConfigEnv(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir())
	for _, k := range []string{
		"CONFIG_PATH", "WORK_DIR", "INBOX_DIR", "WORKERS", "QUEUE_SIZE", "JOB_TIMEOUT",
		"MAX_UPLOAD_BYTES", "RENDER_SCALE", "OCR_BACKEND", "TESSERACT_BIN", "PDFTOPPM_BIN",
		"TESSDATA_PREFIX", "VISION_URL", "VISION_API_KEY", "NER_URL", "HTTP_TIMEOUT",
		"AUDIT_DRIVER", "AUDIT_DSN", "GRPC_ADDR", "JANITOR_SCHEDULE", "JANITOR_MAX_AGE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Workers.Count != 4 || cfg.Workers.QueueSize != 64 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Workers)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Fatalf("expected 10 MiB ceiling, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Upload.RenderScale != 2 {
		t.Fatalf("expected render scale 2, got %d", cfg.Upload.RenderScale)
	}
	if cfg.Server.GRPCAddr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Server.GRPCAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	isolateConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := []byte("workers:\n  count: 8\n  job_timeout: 30s\nstorage:\n  work_dir: /var/lib/piimask\nremote:\n  ner_url: http://ner.local\n")
	if err := os.WriteFile(path, yml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("WORKERS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Workers.Count != 2 {
		t.Fatalf("env should win over yaml, got %d", cfg.Workers.Count)
	}
	if cfg.Workers.JobTimeout != 30*time.Second {
		t.Fatalf("expected yaml timeout 30s, got %s", cfg.Workers.JobTimeout)
	}
	if cfg.Storage.WorkDir != "/var/lib/piimask" {
		t.Fatalf("expected yaml work dir, got %q", cfg.Storage.WorkDir)
	}
	if cfg.Remote.NERURL != "http://ner.local" {
		t.Fatalf("expected yaml ner url, got %q", cfg.Remote.NERURL)
	}
	if cfg.Workers.QueueSize != 64 {
		t.Fatalf("unset keys keep defaults, got %d", cfg.Workers.QueueSize)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	isolateConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workers: [oops"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workdir", func(c *Config) { c.Storage.WorkDir = " " }},
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }},
		{"zero queue", func(c *Config) { c.Workers.QueueSize = 0 }},
		{"bad backend", func(c *Config) { c.OCR.Backend = "paddle" }},
		{"sqlite without dsn", func(c *Config) { c.Audit.Driver = "sqlite" }},
		{"unknown audit", func(c *Config) { c.Audit.Driver = "mongo" }},
		{"render scale", func(c *Config) { c.Upload.RenderScale = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateRejectsUnsafeWorkDir(t *testing.T) {
	base := t.TempDir()
	chdir(t, base)
	home, _ := os.UserHomeDir()

	cases := []struct {
		name  string
		work  string
		inbox string
	}{
		{"current dir", ".", ""},
		{"parent dir", "..", ""},
		{"root", "/", ""},
		{"home", home, ""},
		{"same as inbox", "spool", "spool"},
		{"inbox inside workdir", "spool", "spool/inbox"},
		{"workdir inside inbox", "inbox/tmp", "inbox"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.WorkDir = tc.work
			cfg.Storage.InboxDir = tc.inbox
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("WORK_DIR=%q INBOX_DIR=%q: expected ErrInvalidInput, got %v", tc.work, tc.inbox, err)
			}
		})
	}

	ok := DefaultConfig()
	ok.Storage.WorkDir = filepath.Join(base, "tmp")
	ok.Storage.InboxDir = filepath.Join(base, "inbox")
	if err := ok.Validate(); err != nil {
		t.Fatalf("sibling work and inbox dirs should be accepted: %v", err)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default ./tmp should be accepted: %v", err)
	}
}
