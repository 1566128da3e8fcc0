// Package queue is the admission-ordered priority queue runs wait in
// before a resource-group slot frees up (spec.md §4.5). Grounded on the
// "Next Task Heap" min-heap-of-next-run-time architecture documented in
// the victoriametrics-importer scheduler reference.
package queue

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/jobforge/scheduler/internal/models"
)

// Queue is a priority queue of pending runs ordered by
// (priority ASC, scheduled_for ASC, enqueued_at ASC, job_id ASC).
// Lower priority values run first, matching Job.Priority's "lower = higher
// priority" convention (spec.md §3).
type Queue struct {
	mu sync.Mutex
	h  innerHeap
}

// New builds an empty Queue.
func New() *Queue {
	q := &Queue{}
	heap.Init(&q.h)
	return q
}

// Push enqueues run.
func (q *Queue) Push(run *models.Run) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, run)
}

// Len reports how many runs are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// DrainAll empties the queue and returns every run it held, in priority
// order. Used by scheduler stop and AUTO→SINGLE mode transitions, which
// need to mark every still-pending run cancelled/preempted in bulk
// (spec.md §4.10).
func (q *Queue) DrainAll() []*models.Run {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Run, len(q.h))
	copy(out, q.h)
	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	q.h = q.h[:0]
	return out
}

// Remove drops runID from the queue if present, reporting whether it was
// found (spec.md §4.9 cancellation of a not-yet-started run).
func (q *Queue) Remove(runID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.h {
		if r.RunID == runID {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// PopBestAdmissible scans the queue in priority order and removes and
// returns the first run for which admit reports true. container/heap only
// guarantees the root is minimal, not that the backing slice is fully
// sorted, so this takes a throwaway sorted snapshot of indices rather than
// assuming slice order directly.
func (q *Queue) PopBestAdmissible(admit func(*models.Run) bool) (*models.Run, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	order := make([]int, len(q.h))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return less(q.h[order[a]], q.h[order[b]])
	})

	for _, idx := range order {
		run := q.h[idx]
		if admit(run) {
			heap.Remove(&q.h, idx)
			return run, true
		}
	}
	return nil, false
}

// Snapshot returns every queued run in priority order without removing
// any of them, for status reporting.
func (q *Queue) Snapshot() []*models.Run {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Run, len(q.h))
	copy(out, q.h)
	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	return out
}

func less(a, b *models.Run) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.JobID < b.JobID
}

// innerHeap implements container/heap.Interface over *models.Run.
type innerHeap []*models.Run

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x interface{}) {
	*h = append(*h, x.(*models.Run))
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
