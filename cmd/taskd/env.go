package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/config"
	"github.com/samridh-111/backend-interview-challenge/internal/logging"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

// env is everything a command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	loader *config.Loader
	logs   *logging.Sink
	db     *store.DB
	tasks  *tasks.Repository
}

// loadConfig merges the config file, environment and cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(nil)
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// openEnv loads configuration and opens the task store.
func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logs := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cmd.ErrOrStderr(),
	})

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open task database: %w", err)
	}
	if err := db.InitSchemaContext(cmd.Context()); err != nil {
		db.Close()
		logs.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &env{
		cfg:    cfg,
		loader: loader,
		logs:   logs,
		db:     db,
		tasks:  tasks.NewRepository(db),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
	e.logs.Close()
}

// authority returns a client for the configured authority, or nil when
// sync is disabled.
func (e *env) authority() (*authority.Client, error) {
	if e.cfg.Sync.AuthorityURL == "" {
		return nil, nil
	}
	return authority.NewClient(authority.Config{
		BaseURL: e.cfg.Sync.AuthorityURL,
		Timeout: e.cfg.Sync.Timeout,
	}, nil)
}

func (e *env) limits() reconcile.Config {
	return limitsOf(e.cfg)
}

func limitsOf(cfg *config.Config) reconcile.Config {
	return reconcile.Config{
		BatchSize:  cfg.Sync.BatchSize,
		MaxRetries: cfg.Sync.MaxRetries,
	}
}

// engine builds a reconciliation engine, or returns nil when sync is
// disabled.
func (e *env) engine() (*reconcile.Engine, *authority.Client, error) {
	client, err := e.authority()
	if err != nil || client == nil {
		return nil, nil, err
	}
	return reconcile.New(e.db, client, e.limits(), e.logs.Logger("reconcile")), client, nil
}

// checkFormat rejects output formats other than the allowed ones.
func checkFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q (use one of %v)", format, allowed)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
