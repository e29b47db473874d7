// Package daemon runs reconciliation in the background.
//
// The daemon:
// 1. Runs a reconciliation on a cron schedule (default every 30s)
// 2. Runs an extra reconciliation shortly after local mutations (debounced)
// 3. Reports each run's result to an optional callback
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
)

// DefaultSchedule runs reconciliation every thirty seconds.
const DefaultSchedule = "@every 30s"

// Reconciler performs one reconciliation run. *reconcile.Engine satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconcile.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec: five fields or a descriptor like "@every 1m"
	Schedule string

	// DebounceInterval is how long to wait after a Trigger before running.
	// Triggers that arrive within the interval are folded into one run.
	DebounceInterval time.Duration

	// RunOnStart performs a reconciliation as soon as the daemon starts
	RunOnStart bool

	// OnResult is called after every completed run (may be nil)
	OnResult func(*reconcile.Result)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         DefaultSchedule,
		DebounceInterval: 2 * time.Second,
		RunOnStart:       true,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Daemon schedules reconciliation runs.
type Daemon struct {
	rec    Reconciler
	config *Config

	cron    *cron.Cron
	entryMu sync.Mutex
	entryID cron.EntryID
	spec    string

	kick chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(rec Reconciler) (*Daemon, error) {
	return NewWithConfig(rec, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(rec Reconciler, config *Config) (*Daemon, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(config.Schedule); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		rec:    rec,
		config: config,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	d.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(config.Logger))),
	)
	return d, nil
}

// Start begins scheduled reconciliation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (schedule %s)", d.config.Schedule)

	if err := d.Reschedule(d.config.Schedule); err != nil {
		return err
	}
	d.cron.Start()

	d.wg.Add(1)
	go d.processTriggers()

	if d.config.RunOnStart {
		d.Trigger()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon, waiting for a run in progress.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		<-d.cron.Stop().Done()
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Reschedule replaces the cron schedule. It is safe to call while running.
func (d *Daemon) Reschedule(spec string) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	d.entryMu.Lock()
	defer d.entryMu.Unlock()

	if d.entryID != 0 {
		d.cron.Remove(d.entryID)
	}
	d.entryID = d.cron.Schedule(schedule, cron.FuncJob(func() { d.RunOnce(d.ctx) }))
	if d.spec != "" && d.spec != spec {
		d.config.Logger.Printf("Schedule changed: %s -> %s", d.spec, spec)
	}
	d.spec = spec
	return nil
}

// Schedule returns the active cron spec.
func (d *Daemon) Schedule() string {
	d.entryMu.Lock()
	defer d.entryMu.Unlock()
	return d.spec
}

// Trigger requests a run after the debounce interval. It never blocks.
func (d *Daemon) Trigger() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// RunOnce performs one reconciliation and reports the result. A run that
// overlaps another is skipped.
func (d *Daemon) RunOnce(ctx context.Context) (*reconcile.Result, error) {
	res, err := d.rec.Reconcile(ctx)
	if errors.Is(err, reconcile.ErrInProgress) {
		d.config.Logger.Println("Reconciliation already running, skipping")
		return nil, err
	}
	if err != nil {
		d.config.Logger.Printf("Reconciliation failed: %v", err)
		return nil, err
	}

	if res.Offline {
		d.config.Logger.Println("Authority offline")
	} else if res.Batches > 0 {
		d.config.Logger.Printf("Reconciled: synced=%d failed=%d", res.Synced, res.Failed)
	}
	if d.config.OnResult != nil {
		d.config.OnResult(res)
	}
	return res, nil
}

// processTriggers folds bursts of Trigger calls into single runs.
func (d *Daemon) processTriggers() {
	defer d.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-d.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-d.kick:
			if timer == nil {
				timer = time.NewTimer(d.config.DebounceInterval)
			} else {
				timer.Reset(d.config.DebounceInterval)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			d.RunOnce(d.ctx)
		}
	}
}
