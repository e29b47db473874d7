package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TASKD_SYNC_BATCH_SIZE.
const EnvPrefix = "TASKD"

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"db":             "store.path",
	"host":           "server.host",
	"port":           "server.port",
	"accept-batches": "server.accept_batches",
	"authority":      "sync.authority_url",
	"batch-size":     "sync.batch_size",
	"max-retries":    "sync.max_retries",
	"timeout":        "sync.timeout",
	"schedule":       "sync.schedule",
	"log-file":       "log.file",
}

// Loader reads configuration through a private viper instance.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger
}

// NewLoader creates a loader seeded with DefaultConfig values and TASKD_*
// environment lookups. A nil logger logs to stderr.
func NewLoader(logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.accept_batches", d.Server.AcceptBatches)
	v.SetDefault("sync.authority_url", d.Sync.AuthorityURL)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.schedule", d.Sync.Schedule)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
}

// BindFlags lets the known flags present in flags override config values.
// Flags only take effect when set on the command line.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file and returns the merged, validated config.
// With an empty path, taskd.{yaml,toml} is searched for in the working
// directory and then in the user config directory; finding none is fine.
// An explicit path must exist.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("taskd")
		l.v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(dir, "taskd"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the file Load read, or "" if none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-read config each time the config file
// is written. Invalid edits are logged and skipped. It reports false when
// no config file was loaded.
func (l *Loader) Watch(onChange func(*Config)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.logger.Printf("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		l.logger.Printf("Config reloaded from %s", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}
