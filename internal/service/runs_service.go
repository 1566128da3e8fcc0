package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jobforge/scheduler/internal/engine"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/resourcegroup"
)

// RunsService is the business-logic layer behind the Control API's run
// and scheduler-lifecycle handlers, adapted from the teacher's
// ExecutionService/HistoryService pair: where the teacher queried a
// Postgres-backed execution/history repository, this queries the
// engine's in-memory run store directly, since spec.md keeps run state
// in-process rather than durable (only the catalog is durable).
type RunsService struct {
	eng *engine.Engine
}

// NewRunsService builds a RunsService.
func NewRunsService(eng *engine.Engine) *RunsService {
	return &RunsService{eng: eng}
}

// Status reports the scheduler's current running/mode/queue summary.
func (s *RunsService) Status() engine.Status { return s.eng.Status() }

// Start starts the scheduler loop.
func (s *RunsService) Start(ctx context.Context) error { return s.eng.Start(ctx) }

// Stop stops the scheduler loop, waiting up to grace for in-flight runs.
func (s *RunsService) Stop(grace time.Duration) {
	s.eng.Stop(grace)
}

// ManualRun triggers jobID immediately with boosted priority.
func (s *RunsService) ManualRun(jobID string) (*models.Run, error) {
	return s.eng.ManualRun(jobID)
}

// CancelRun cancels a pending or running run.
func (s *RunsService) CancelRun(runID int64) error {
	return s.eng.CancelRun(runID)
}

// CancelLatestForJob cancels the most recently enqueued live run of
// jobID (spec.md §6 POST /api/tasks/{id}/cancel).
func (s *RunsService) CancelLatestForJob(jobID string) error {
	live := s.eng.LiveRuns(jobID)
	if len(live) == 0 {
		return fmt.Errorf("runs: no live run for job %q", jobID)
	}
	latest := live[0]
	for _, r := range live[1:] {
		if r.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = r
		}
	}
	return s.eng.CancelRun(latest.RunID)
}

// SetMode switches between AUTO and SINGLE admission modes.
func (s *RunsService) SetMode(mode string) error {
	switch mode {
	case string(engine.ModeAuto):
		return s.eng.SetMode(engine.ModeAuto)
	case string(engine.ModeSingle):
		return s.eng.SetMode(engine.ModeSingle)
	default:
		return fmt.Errorf("runs: unknown mode %q", mode)
	}
}

// History returns jobID's bounded terminal-run history, newest first.
func (s *RunsService) History(jobID string) []*models.Run {
	return s.eng.RunHistory(jobID)
}

// Live returns jobID's currently pending/running runs.
func (s *RunsService) Live(jobID string) []*models.Run {
	return s.eng.LiveRuns(jobID)
}

// RecentEvents returns the global bounded ring of recently-terminated
// runs across every job, newest first.
func (s *RunsService) RecentEvents() []*models.Run {
	return s.eng.RecentEvents()
}

// ResourceGroups reports the current occupancy of every declared group.
func (s *RunsService) ResourceGroups() []resourcegroup.Summary {
	return s.eng.ResourceGroups()
}

// TestNotification sends a synthetic notification through the
// configured sink, bypassing rate limiting.
func (s *RunsService) TestNotification(ctx context.Context, message string) error {
	return s.eng.TestNotify(ctx, message)
}
