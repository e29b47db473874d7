package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate keeps Load from finding config files outside the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func newTestLoader() *Loader {
	return NewLoader(log.New(io.Discard, "", 0))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	l := newTestLoader()
	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, DefaultConfig())
	}
	if l.ConfigFile() != "" {
		t.Errorf("ConfigFile() = %q, want none", l.ConfigFile())
	}
}

func TestLoad_Files(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "taskd.yaml",
			content: `
store:
  path: /var/lib/taskd/tasks.db
sync:
  batch_size: 10
  timeout: 2s
  schedule: "*/5 * * * *"
`,
		},
		{
			name: "toml",
			file: "taskd.toml",
			content: `
[store]
path = "/var/lib/taskd/tasks.db"

[sync]
batch_size = 10
timeout = "2s"
schedule = "*/5 * * * *"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newTestLoader().Load(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Store.Path != "/var/lib/taskd/tasks.db" {
				t.Errorf("store.path = %q", cfg.Store.Path)
			}
			if cfg.Sync.BatchSize != 10 || cfg.Sync.Timeout != 2*time.Second || cfg.Sync.Schedule != "*/5 * * * *" {
				t.Errorf("sync = %+v", cfg.Sync)
			}
			// untouched keys keep their defaults
			if cfg.Sync.MaxRetries != 3 || cfg.Server.Port != 3000 {
				t.Errorf("defaults lost: %+v %+v", cfg.Sync, cfg.Server)
			}
		})
	}
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	isolate(t)
	if err := os.WriteFile("taskd.yaml", []byte("server:\n  port: 4100\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	l := newTestLoader()
	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("server.port = %d, want 4100", cfg.Server.Port)
	}
	if filepath.Base(l.ConfigFile()) != "taskd.yaml" {
		t.Errorf("ConfigFile() = %q", l.ConfigFile())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := newTestLoader().Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeFile(t, "taskd.yaml", "server:\n  port: 4100\nsync:\n  batch_size: 10\n  max_retries: 5\n")
	t.Setenv("TASKD_SYNC_BATCH_SIZE", "20")
	t.Setenv("TASKD_SYNC_MAX_RETRIES", "6")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.Int("max-retries", 0, "")
	flags.String("schedule", "", "")
	if err := flags.Parse([]string{"--max-retries", "9"}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	l := newTestLoader()
	if err := l.BindFlags(flags); err != nil {
		t.Fatalf("BindFlags() failed: %v", err)
	}
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want file value 4100 (flag unset)", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 20 {
		t.Errorf("batch_size = %d, want env value 20", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MaxRetries != 9 {
		t.Errorf("max_retries = %d, want flag value 9", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.Schedule != DefaultConfig().Sync.Schedule {
		t.Errorf("schedule = %q, want default", cfg.Sync.Schedule)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"sync disabled", func(c *Config) { c.Sync.AuthorityURL = "" }, ""},
		{"no store", func(c *Config) { c.Store.Path = " " }, "store.path"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad url", func(c *Config) { c.Sync.AuthorityURL = "localhost:3000" }, "sync.authority_url"},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "sync.batch_size"},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }, "sync.max_retries"},
		{"zero timeout", func(c *Config) { c.Sync.Timeout = 0 }, "sync.timeout"},
		{"no schedule", func(c *Config) { c.Sync.Schedule = "" }, "sync.schedule"},
		{"negative backups", func(c *Config) { c.Log.MaxBackups = -1 }, "log.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestRender_LoadsBack(t *testing.T) {
	isolate(t)

	want := DefaultConfig()
	want.Store.Path = "/data/tasks.db"
	want.Server.AcceptBatches = true
	want.Sync.Timeout = 1500 * time.Millisecond
	want.Log.File = "/var/log/taskd.log"

	for _, format := range []string{"toml", "yaml"} {
		t.Run(format, func(t *testing.T) {
			data, err := want.Render(format)
			if err != nil {
				t.Fatalf("Render() failed: %v", err)
			}
			got, err := newTestLoader().Load(writeFile(t, "taskd."+format, string(data)))
			if err != nil {
				t.Fatalf("Load() failed: %v\n%s", err, data)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip = %+v, want %+v", got, want)
			}
		})
	}

	if _, err := want.Render("json"); err == nil {
		t.Error("Render(json) succeeded")
	}
}

func TestWatch(t *testing.T) {
	isolate(t)

	if newTestLoader().Watch(func(*Config) {}) {
		t.Error("Watch() without a loaded file reported true")
	}

	path := writeFile(t, "taskd.yaml", "sync:\n  batch_size: 10\n")
	l := newTestLoader()
	if _, err := l.Load(path); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	changes := make(chan *Config, 4)
	if !l.Watch(func(c *Config) { changes <- c }) {
		t.Fatal("Watch() reported false")
	}

	// an invalid edit is skipped
	if err := os.WriteFile(path, []byte("sync:\n  batch_size: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte("sync:\n  batch_size: 25\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Sync.BatchSize <= 0 {
				t.Fatalf("invalid config delivered: %+v", c.Sync)
			}
			if c.Sync.BatchSize == 25 {
				return
			}
		case <-deadline:
			t.Fatal("no config change delivered")
		}
	}
}
