// Package loadtest drives concurrent local writers against a task store
// while reconciliation runs, then checks that the local store and an
// in-process authority converge.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

// maxDrainRuns bounds the reconciliation runs made after the writers stop.
const maxDrainRuns = 20

// Options controls a load run.
type Options struct {
	// Writers is the number of concurrent goroutines mutating tasks
	Writers int

	// OpsPerWriter is the number of mutations each writer performs
	OpsPerWriter int

	// SyncEvery is the interval between reconciliation runs during the load
	SyncEvery time.Duration

	// Seed makes the mutation mix reproducible
	Seed int64
}

// DefaultOptions returns a small, fast run.
func DefaultOptions() Options {
	return Options{
		Writers:      10,
		OpsPerWriter: 50,
		SyncEvery:    20 * time.Millisecond,
		Seed:         42,
	}
}

// LatencyStats captures mutation latencies.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a load run.
type Report struct {
	Mutations LatencyStats
	Errors    int
	Syncs     int
	Synced    int
	Failed    int
	Elapsed   time.Duration

	// Converged is true when the queue drained and every visible task
	// matches on both sides
	Converged  bool
	Mismatches []string
}

// Harness pairs a local store with an in-process authority store.
type Harness struct {
	Local  *store.DB
	Remote *store.DB
	Tasks  *tasks.Repository
	Engine *reconcile.Engine
}

// loopback submits batches straight to an Applier.
type loopback struct {
	applier *authority.Applier
}

func (l loopback) Probe(context.Context) bool { return true }

func (l loopback) SubmitBatch(ctx context.Context, entries []*schema.MutationEntry) ([]authority.Outcome, error) {
	items := make([]authority.Item, 0, len(entries))
	for _, e := range entries {
		item, err := authority.ItemFromEntry(e)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return l.applier.Apply(ctx, items), nil
}

// NewHarness creates local.db and authority.db under dir. A nil logger
// discards engine and authority logs.
func NewHarness(dir string, cfg reconcile.Config, logger *log.Logger) (*Harness, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	local, err := openDB(filepath.Join(dir, "local.db"))
	if err != nil {
		return nil, err
	}
	remote, err := openDB(filepath.Join(dir, "authority.db"))
	if err != nil {
		local.Close()
		return nil, err
	}

	auth := loopback{applier: authority.NewApplier(remote, logger)}
	return &Harness{
		Local:  local,
		Remote: remote,
		Tasks:  tasks.NewRepository(local),
		Engine: reconcile.New(local, auth, cfg, logger),
	}, nil
}

func openDB(path string) (*store.DB, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes both stores.
func (h *Harness) Close() error {
	return errors.Join(h.Local.Close(), h.Remote.Close())
}

// Run performs the load and then drains the queue.
func (h *Harness) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Writers <= 0 || opts.OpsPerWriter <= 0 {
		return nil, fmt.Errorf("writers and ops per writer must be positive")
	}
	if opts.SyncEvery <= 0 {
		opts.SyncEvery = DefaultOptions().SyncEvery
	}

	start := time.Now()
	report := &Report{}
	var mu sync.Mutex
	record := func(res *reconcile.Result) {
		mu.Lock()
		defer mu.Unlock()
		report.Syncs++
		report.Synced += res.Synced
		report.Failed += res.Failed
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		ticker := time.NewTicker(opts.SyncEvery)
		defer ticker.Stop()
		for {
			select {
			case <-syncCtx.Done():
				return
			case <-ticker.C:
				// runs are not cancelled mid-batch so the authority never
				// sees a half-applied submission
				if res, err := h.Engine.Reconcile(ctx); err == nil {
					record(res)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	durations := make(chan []time.Duration, opts.Writers)
	errCounts := make(chan int, opts.Writers)
	for i := 0; i < opts.Writers; i++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			d, errs := h.write(ctx, writer, opts.OpsPerWriter, rand.New(rand.NewSource(opts.Seed+int64(writer))))
			durations <- d
			errCounts <- errs
		}(i)
	}
	wg.Wait()
	close(durations)
	close(errCounts)

	stopSync()
	<-syncDone

	var all []time.Duration
	for d := range durations {
		all = append(all, d...)
	}
	for n := range errCounts {
		report.Errors += n
	}
	report.Mutations = computeLatencyStats(all)

	if err := h.drain(ctx, record); err != nil {
		return nil, err
	}

	mismatches, err := h.Compare(ctx)
	if err != nil {
		return nil, err
	}
	report.Mismatches = mismatches
	report.Converged = len(mismatches) == 0
	report.Elapsed = time.Since(start)
	return report, nil
}

// write performs ops mutations on tasks owned by one writer: creates,
// updates and deletes in a 40/45/15 mix.
func (h *Harness) write(ctx context.Context, writer, ops int, rng *rand.Rand) ([]time.Duration, int) {
	var owned []string
	durations := make([]time.Duration, 0, ops)
	errs := 0

	for n := 0; n < ops; n++ {
		roll := rng.Intn(100)
		start := time.Now()
		var err error

		switch {
		case len(owned) == 0 || roll < 40:
			var task *schema.Task
			task, err = h.Tasks.Create(ctx, fmt.Sprintf("w%d task %d", writer, n), "")
			if err == nil {
				owned = append(owned, task.ID)
			}
		case roll < 85:
			id := owned[rng.Intn(len(owned))]
			_, err = h.Tasks.Update(ctx, id, randomPatch(rng, writer, n))
		default:
			i := rng.Intn(len(owned))
			_, err = h.Tasks.Delete(ctx, owned[i])
			owned = append(owned[:i], owned[i+1:]...)
		}

		durations = append(durations, time.Since(start))
		if err != nil {
			errs++
		}
	}
	return durations, errs
}

func randomPatch(rng *rand.Rand, writer, n int) schema.TaskPatch {
	var patch schema.TaskPatch
	switch rng.Intn(3) {
	case 0:
		title := fmt.Sprintf("w%d task rev %d", writer, n)
		patch.Title = &title
	case 1:
		desc := fmt.Sprintf("edited at op %d", n)
		patch.Description = &desc
	default:
		done := rng.Intn(2) == 0
		patch.Completed = &done
	}
	return patch
}

// drain reconciles until the queue is empty.
func (h *Harness) drain(ctx context.Context, record func(*reconcile.Result)) error {
	for i := 0; i < maxDrainRuns; i++ {
		report, err := h.Tasks.Status(ctx)
		if err != nil {
			return err
		}
		if report.SyncQueueSize == 0 {
			return nil
		}
		res, err := h.Engine.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("drain run failed: %w", err)
		}
		record(res)
	}
	return nil
}

// Compare lists every difference between the local store and the
// authority: leftover queue entries, unsynced tasks, and visible tasks
// whose content differs or that exist on only one side.
func (h *Harness) Compare(ctx context.Context) ([]string, error) {
	var mismatches []string

	status, err := h.Tasks.Status(ctx)
	if err != nil {
		return nil, err
	}
	if status.SyncQueueSize > 0 {
		mismatches = append(mismatches, fmt.Sprintf("%d entries still queued", status.SyncQueueSize))
	}
	if status.PendingSyncCount > 0 {
		mismatches = append(mismatches, fmt.Sprintf("%d tasks not synced", status.PendingSyncCount))
	}

	local, err := h.Tasks.List(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := tasks.NewRepository(h.Remote).List(ctx)
	if err != nil {
		return nil, err
	}

	remoteByID := make(map[string]*schema.Task, len(remote))
	for _, t := range remote {
		remoteByID[t.ID] = t
	}
	for _, l := range local {
		r, ok := remoteByID[l.ID]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s missing on authority", l.ID))
			continue
		}
		delete(remoteByID, l.ID)
		if l.Title != r.Title || l.Description != r.Description || l.Completed != r.Completed {
			mismatches = append(mismatches, fmt.Sprintf("%s differs: local %q/%t, authority %q/%t",
				l.ID, l.Title, l.Completed, r.Title, r.Completed))
		}
	}
	for id := range remoteByID {
		mismatches = append(mismatches, fmt.Sprintf("%s only on authority", id))
	}
	sort.Strings(mismatches)
	return mismatches, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Mutations:\n")
	fmt.Fprintf(w, "  Total:         %d (%d errors)\n", r.Mutations.Count, r.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", r.Mutations.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", r.Mutations.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", r.Mutations.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", r.Mutations.P95)
	fmt.Fprintf(w, "  P99:           %v\n", r.Mutations.P99)
	fmt.Fprintf(w, "  Max:           %v\n", r.Mutations.Max)
	fmt.Fprintf(w, "Sync:\n")
	fmt.Fprintf(w, "  Runs:          %d\n", r.Syncs)
	fmt.Fprintf(w, "  Synced items:  %d\n", r.Synced)
	fmt.Fprintf(w, "  Failed items:  %d\n", r.Failed)
	fmt.Fprintf(w, "  Elapsed:       %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Converged:     %t\n", r.Converged)
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "    - %s\n", m)
	}
}
