// Package config loads taskd settings from a config file, TASKD_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the full taskd configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AcceptBatches mounts POST /api/batch so this node can act as the
	// authority for other nodes.
	AcceptBatches bool `mapstructure:"accept_batches"`
}

// SyncConfig controls reconciliation against the authority.
type SyncConfig struct {
	// AuthorityURL is the authority's API base. Empty disables sync.
	AuthorityURL string        `mapstructure:"authority_url"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Schedule     string        `mapstructure:"schedule"`
}

// LogConfig controls the rotating log file. Empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{Path: "taskd.db"},
		Server: ServerConfig{
			Port: 3000,
		},
		Sync: SyncConfig{
			AuthorityURL: "http://localhost:3000/api",
			BatchSize:    50,
			MaxRetries:   3,
			Timeout:      5 * time.Second,
			Schedule:     "@every 30s",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks value ranges. It does not parse the sync schedule; the
// daemon rejects bad schedules when it is built or rescheduled.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Store.Path) == "" {
		problems = append(problems, "store.path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Sync.AuthorityURL != "" {
		u, err := url.Parse(c.Sync.AuthorityURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("sync.authority_url %q is not an http(s) URL", c.Sync.AuthorityURL))
		}
	}
	if c.Sync.BatchSize <= 0 {
		problems = append(problems, "sync.batch_size must be positive")
	}
	if c.Sync.MaxRetries <= 0 {
		problems = append(problems, "sync.max_retries must be positive")
	}
	if c.Sync.Timeout <= 0 {
		problems = append(problems, "sync.timeout must be positive")
	}
	if strings.TrimSpace(c.Sync.Schedule) == "" {
		problems = append(problems, "sync.schedule is required")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		problems = append(problems, "log.max_size_mb and log.max_backups cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// fileView is the on-disk shape of a config file.
type fileView struct {
	Store struct {
		Path string `toml:"path" yaml:"path"`
	} `toml:"store" yaml:"store"`
	Server struct {
		Host          string `toml:"host" yaml:"host"`
		Port          int    `toml:"port" yaml:"port"`
		AcceptBatches bool   `toml:"accept_batches" yaml:"accept_batches"`
	} `toml:"server" yaml:"server"`
	Sync struct {
		AuthorityURL string `toml:"authority_url" yaml:"authority_url"`
		BatchSize    int    `toml:"batch_size" yaml:"batch_size"`
		MaxRetries   int    `toml:"max_retries" yaml:"max_retries"`
		Timeout      string `toml:"timeout" yaml:"timeout"`
		Schedule     string `toml:"schedule" yaml:"schedule"`
	} `toml:"sync" yaml:"sync"`
	Log struct {
		File       string `toml:"file" yaml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	} `toml:"log" yaml:"log"`
}

func (c *Config) view() fileView {
	var v fileView
	v.Store.Path = c.Store.Path
	v.Server.Host = c.Server.Host
	v.Server.Port = c.Server.Port
	v.Server.AcceptBatches = c.Server.AcceptBatches
	v.Sync.AuthorityURL = c.Sync.AuthorityURL
	v.Sync.BatchSize = c.Sync.BatchSize
	v.Sync.MaxRetries = c.Sync.MaxRetries
	v.Sync.Timeout = c.Sync.Timeout.String()
	v.Sync.Schedule = c.Sync.Schedule
	v.Log.File = c.Log.File
	v.Log.MaxSizeMB = c.Log.MaxSizeMB
	v.Log.MaxBackups = c.Log.MaxBackups
	return v
}

// Render encodes the config as a file in the given format ("toml" or "yaml").
// The output can be read back by Load.
func (c *Config) Render(format string) ([]byte, error) {
	view := c.view()

	switch strings.ToLower(format) {
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(view); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case "yaml", "yml":
		data, err := yaml.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (use toml or yaml)", format)
	}
}
