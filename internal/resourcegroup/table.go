// Package resourcegroup implements the named concurrency pools runs are
// admitted into (spec.md §4.3). Grounded on the teacher's WorkerPool
// (internal/scheduler/worker.go): a mutex-guarded map with atomic
// check-and-insert, retargeted from one fixed pool to many named pools.
package resourcegroup

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownGroup is returned when an operation names a group that was
// never registered.
var ErrUnknownGroup = errors.New("resourcegroup: unknown group")

type group struct {
	maxConcurrent int
	running       map[int64]struct{}
}

// Summary is the read-only snapshot returned by Summary/SummaryAll.
type Summary struct {
	Name      string  `json:"name"`
	Running   int     `json:"running"`
	Max       int     `json:"max"`
	Available int     `json:"available"`
	RunIDs    []int64 `json:"run_ids"`
}

// Table holds every declared resource group and the run IDs currently
// occupying each one's slots. One mutex guards the whole table; the
// contract is atomicity of try-acquire, not a particular lock granularity
// (spec.md §4.3).
type Table struct {
	mu     sync.Mutex
	groups map[string]*group
}

// NewTable builds a Table from group-name -> max-concurrent pairs.
func NewTable(maxConcurrent map[string]int) *Table {
	t := &Table{groups: make(map[string]*group, len(maxConcurrent))}
	for name, max := range maxConcurrent {
		t.groups[name] = &group{maxConcurrent: max, running: make(map[int64]struct{})}
	}
	return t
}

// Declare registers or updates a group's cap. Existing running IDs are
// preserved; shrinking max below the current running count is allowed
// (admission simply refuses new entries until it drains).
func (t *Table) Declare(name string, maxConcurrent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[name]
	if !ok {
		t.groups[name] = &group{maxConcurrent: maxConcurrent, running: make(map[int64]struct{})}
		return
	}
	g.maxConcurrent = maxConcurrent
}

// Known reports whether name is a declared group.
func (t *Table) Known(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.groups[name]
	return ok
}

// TryAcquire attempts to reserve a slot in group for runID. It is the
// atomic check-and-insert spec.md §4.3 requires.
func (t *Table) TryAcquire(name string, runID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[name]
	if !ok {
		return false, errors.Wrapf(ErrUnknownGroup, "group %q", name)
	}
	if len(g.running) >= g.maxConcurrent {
		return false, nil
	}
	g.running[runID] = struct{}{}
	return true, nil
}

// Release frees runID's slot in group, if held. Releasing an unheld slot
// is a no-op (idempotent, matching spec.md §8's cancellation laws).
func (t *Table) Release(name string, runID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.groups[name]; ok {
		delete(g.running, runID)
	}
}

// Summary returns the current state of one group.
func (t *Table) Summary(name string) (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[name]
	if !ok {
		return Summary{}, false
	}
	return summaryLocked(name, g), true
}

// SummaryAll returns the current state of every declared group.
func (t *Table) SummaryAll() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Summary, 0, len(t.groups))
	for name, g := range t.groups {
		out = append(out, summaryLocked(name, g))
	}
	return out
}

func summaryLocked(name string, g *group) Summary {
	ids := make([]int64, 0, len(g.running))
	for id := range g.running {
		ids = append(ids, id)
	}
	return Summary{
		Name:      name,
		Running:   len(g.running),
		Max:       g.maxConcurrent,
		Available: g.maxConcurrent - len(g.running),
		RunIDs:    ids,
	}
}
