// Package store holds the in-memory run bookkeeping the engine consults
// on every tick: which runs are live, and a bounded history of recent
// terminal runs per job (spec.md §4.4).
package store

import (
	"container/ring"
	"sync"

	"github.com/jobforge/scheduler/internal/models"
)

// DefaultHistoryPerJob bounds how many terminal runs are retained per job.
const DefaultHistoryPerJob = 50

// DefaultRecentEvents bounds the global recent-terminal-run feed served by
// the global log endpoint (GET /api/logs).
const DefaultRecentEvents = 200

// Store is the Run Record Store: a mutex-guarded index over live and
// recently-terminal runs. One lock, short hold, matching the teacher's
// Scheduler.mu / WorkerPool.mu pattern (spec.md §5).
type Store struct {
	mu sync.RWMutex

	live map[int64]*models.Run // pending or running

	historyPerJob int
	jobHistory    map[string]*ring.Ring // per-job ring of *models.Run, newest overwrites oldest

	recentEvents *ring.Ring // global ring of *models.Run, newest overwrites oldest

	nextRunID int64
}

// New builds an empty Store.
func New(historyPerJob, recentEvents int) *Store {
	if historyPerJob <= 0 {
		historyPerJob = DefaultHistoryPerJob
	}
	if recentEvents <= 0 {
		recentEvents = DefaultRecentEvents
	}
	return &Store{
		live:          make(map[int64]*models.Run),
		historyPerJob: historyPerJob,
		jobHistory:    make(map[string]*ring.Ring),
		recentEvents:  ring.New(recentEvents),
	}
}

// NextRunID hands out a monotonically increasing run identifier.
func (s *Store) NextRunID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	return s.nextRunID
}

// Put inserts or updates a live run.
func (s *Store) Put(run *models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.IsTerminal() {
		delete(s.live, run.RunID)
		s.recordHistoryLocked(run)
		return
	}
	s.live[run.RunID] = run
}

// Get returns the live run for runID, if any.
func (s *Store) Get(runID int64) (*models.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.live[runID]
	return r, ok
}

// LiveForJob returns every live run belonging to jobID.
func (s *Store) LiveForJob(jobID string) []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Run
	for _, r := range s.live {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// LiveAll returns every currently live run.
func (s *Store) LiveAll() []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0, len(s.live))
	for _, r := range s.live {
		out = append(out, r)
	}
	return out
}

// HistoryForJob returns up to historyPerJob most recent terminal runs for
// jobID, newest first.
func (s *Store) HistoryForJob(jobID string) []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobHistory[jobID]
	if !ok {
		return nil
	}
	return drainRing(r)
}

// RecentEvents returns the global recent-terminal-run feed, newest first.
func (s *Store) RecentEvents() []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return drainRing(s.recentEvents)
}

func (s *Store) recordHistoryLocked(run *models.Run) {
	r, ok := s.jobHistory[run.JobID]
	if !ok {
		r = ring.New(s.historyPerJob)
		s.jobHistory[run.JobID] = r
	}
	r.Value = run
	s.jobHistory[run.JobID] = r.Next()

	s.recentEvents.Value = run
	s.recentEvents = s.recentEvents.Next()
}

// drainRing walks a full ring and returns its non-nil values newest
// first. The cursor passed in always points at the slot that will be
// overwritten next, i.e. the oldest entry.
func drainRing(r *ring.Ring) []*models.Run {
	var out []*models.Run
	r.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(*models.Run))
	})
	// r.Do walks oldest-to-newest from the current cursor; reverse for
	// newest-first as callers expect.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
