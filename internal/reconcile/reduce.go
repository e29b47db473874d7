package reconcile

import (
	"fmt"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

// msgNoOutcome is recorded on entries the authority answered nothing for.
const msgNoOutcome = "no outcome returned by authority"

// position is an entry's place in queue order.
type position struct {
	createdAt time.Time
	seq       int64
}

func positionOf(e *schema.MutationEntry) position {
	return position{createdAt: e.CreatedAt, seq: e.Seq}
}

func (p position) before(other position) bool {
	if !p.createdAt.Equal(other.createdAt) {
		return p.createdAt.Before(other.createdAt)
	}
	return p.seq < other.seq
}

type commandKind int

const (
	// cmdRecordFailure stores a new retry count and message on one entry.
	cmdRecordFailure commandKind = iota
	// cmdRecordRejection stores the authority's message on one entry.
	cmdRecordRejection
	// cmdAcknowledge collapses a task's entries through a position and
	// marks it synced unless later entries remain.
	cmdAcknowledge
	// cmdMarkError moves a task to error unless the task gained entries
	// after the run loaded the queue.
	cmdMarkError
)

func (k commandKind) String() string {
	switch k {
	case cmdRecordFailure:
		return "record-failure"
	case cmdRecordRejection:
		return "record-rejection"
	case cmdAcknowledge:
		return "acknowledge"
	case cmdMarkError:
		return "mark-error"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// command is one state transition produced by the reducer. Commands for a
// batch are applied together in a single store transaction.
type command struct {
	kind       commandKind
	taskID     string
	entryID    string
	retryCount int
	message    string
	through    position
	serverID   *string
	resolved   *schema.Task
}

// tally is the reducer's accounting for one batch.
type tally struct {
	synced  int
	failed  int
	errors  []ErrorDescriptor
	ignored []string
}

// taskGroup is a task's entries within one batch, in queue order.
type taskGroup struct {
	taskID  string
	entries []*schema.MutationEntry
	last    position
}

// reduceBatch folds a submitted batch and the authority's answer into a
// tally and the commands that record it. It performs no I/O.
//
// If submitErr is non-nil the whole batch failed in transport and outcomes
// are ignored. Otherwise outcomes are matched to entries by task id.
func reduceBatch(batch []*schema.MutationEntry, outcomes []authority.Outcome, submitErr error, maxRetries int, now time.Time) (tally, []command) {
	var t tally
	var cmds []command

	groups := groupByTask(batch)

	if submitErr != nil {
		for _, g := range groups {
			cmds = append(cmds, failGroup(&t, g, submitErr.Error(), maxRetries, now)...)
		}
		return t, cmds
	}

	byTask := make(map[string][]authority.Outcome, len(groups))
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g.taskID] = true
	}
	for _, o := range outcomes {
		if !known[o.ClientID] {
			t.ignored = append(t.ignored, o.ClientID)
			continue
		}
		byTask[o.ClientID] = append(byTask[o.ClientID], o)
	}

	for _, g := range groups {
		answers := byTask[g.taskID]
		if len(answers) == 0 {
			cmds = append(cmds, failGroup(&t, g, msgNoOutcome, maxRetries, now)...)
			continue
		}
		cmds = append(cmds, settleGroup(&t, g, answers, now)...)
	}

	return t, cmds
}

// failGroup applies transport-failure accounting to every entry of g.
func failGroup(t *tally, g *taskGroup, message string, maxRetries int, now time.Time) []command {
	var cmds []command
	exhausted := false

	for _, e := range g.entries {
		count := e.RetryCount + 1
		cmds = append(cmds, command{
			kind:       cmdRecordFailure,
			taskID:     g.taskID,
			entryID:    e.ID,
			retryCount: count,
			message:    message,
		})
		if count >= maxRetries {
			exhausted = true
		}
		t.failed++
		t.errors = append(t.errors, ErrorDescriptor{
			TaskID:    g.taskID,
			EntryID:   e.ID,
			Operation: e.Operation,
			Message:   message,
			Retryable: count < maxRetries,
			Timestamp: now,
		})
	}

	if exhausted {
		cmds = append(cmds, command{kind: cmdMarkError, taskID: g.taskID, through: g.last})
	}
	return cmds
}

// settleGroup applies the authority's verdicts for one task. Each outcome
// counts once. Any rejection puts the task in error; otherwise a success
// acknowledges every entry of the task in the batch.
func settleGroup(t *tally, g *taskGroup, answers []authority.Outcome, now time.Time) []command {
	var rejection string
	var serverID *string
	var resolved *schema.Task

	for i, o := range answers {
		var msg string
		switch o.Status {
		case authority.OutcomeSuccess:
			t.synced++
			if o.ServerID != nil && *o.ServerID != "" {
				serverID = o.ServerID
			}
			if o.ResolvedData != nil {
				resolved = o.ResolvedData
			}
			continue
		case authority.OutcomeError:
			msg = o.Error
			if msg == "" {
				msg = "rejected by authority"
			}
		default:
			msg = fmt.Sprintf("unknown outcome status %q", o.Status)
		}

		if rejection == "" {
			rejection = msg
		}
		e := g.answeredBy(i, len(answers))
		t.failed++
		t.errors = append(t.errors, ErrorDescriptor{
			TaskID:    g.taskID,
			EntryID:   e.ID,
			Operation: e.Operation,
			Message:   msg,
			Timestamp: now,
		})
	}

	if rejection == "" {
		return []command{{
			kind:     cmdAcknowledge,
			taskID:   g.taskID,
			through:  g.last,
			serverID: serverID,
			resolved: resolved,
		}}
	}

	cmds := make([]command, 0, len(g.entries)+1)
	for _, e := range g.entries {
		cmds = append(cmds, command{
			kind:    cmdRecordRejection,
			taskID:  g.taskID,
			entryID: e.ID,
			message: rejection,
		})
	}
	return append(cmds, command{kind: cmdMarkError, taskID: g.taskID, through: g.last})
}

// answeredBy returns the entry the i-th of n outcomes for the task refers
// to. With one outcome per entry they pair up in submission order; a single
// outcome for several entries answers from the first.
func (g *taskGroup) answeredBy(i, n int) *schema.MutationEntry {
	if n == len(g.entries) {
		return g.entries[i]
	}
	return g.entries[0]
}

// groupByTask partitions a batch by task id, keeping first-appearance order.
func groupByTask(batch []*schema.MutationEntry) []*taskGroup {
	var groups []*taskGroup
	index := make(map[string]*taskGroup)

	for _, e := range batch {
		g, ok := index[e.TaskID]
		if !ok {
			g = &taskGroup{taskID: e.TaskID, last: positionOf(e)}
			index[e.TaskID] = g
			groups = append(groups, g)
		}
		g.entries = append(g.entries, e)
		if p := positionOf(e); g.last.before(p) {
			g.last = p
		}
	}
	return groups
}

// partition splits entries into consecutive batches of at most size.
func partition(entries []*schema.MutationEntry, size int) [][]*schema.MutationEntry {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]*schema.MutationEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	return batches
}
