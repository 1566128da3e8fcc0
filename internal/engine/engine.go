// Package engine is the Scheduler Loop (spec.md §4.5): it ties the
// clock, trigger evaluator, catalog, resource group table, run store,
// priority queue, subprocess supervisor, keyword scanner, notifier, and
// retry engine together into one tick-driven loop. Grounded on the
// teacher's Scheduler (internal/scheduler/scheduler.go): dedicated
// ctx/cancel/wg lifecycle, a ticker-driven loop goroutine, and a
// processJob-style per-run goroutine — reworked from a Redis-leader-
// elected, HTTP-executing loop into a single-host, subprocess-executing
// one with an explicit admission queue instead of an unbounded worker
// pool.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jobforge/scheduler/internal/archive"
	"github.com/jobforge/scheduler/internal/clock"
	"github.com/jobforge/scheduler/internal/keyword"
	"github.com/jobforge/scheduler/internal/metrics"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/notifier"
	"github.com/jobforge/scheduler/internal/queue"
	"github.com/jobforge/scheduler/internal/resourcegroup"
	"github.com/jobforge/scheduler/internal/retry"
	"github.com/jobforge/scheduler/internal/steps"
	"github.com/jobforge/scheduler/internal/store"
	"github.com/jobforge/scheduler/internal/supervisor"
	"github.com/jobforge/scheduler/internal/trigger"
)

// Mode selects whether the engine runs every due job (AUTO) or admits at
// most one live run system-wide (SINGLE), per spec.md §4.10.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeSingle Mode = "single"
)

const singleSlotGroup = "__single_mode__"

// Catalog is the slice of catalog.Store the engine depends on, kept as
// an interface so the scheduler loop can be tested against a fake
// catalog rather than a live Postgres connection.
type Catalog interface {
	Snapshot() map[string]*models.Job
	NewerVersionExists() (bool, error)
	Load() error
}

// Config configures engine behavior not already captured by its
// collaborators' own configs.
type Config struct {
	TickInterval time.Duration
	GraceKill    time.Duration
	NotifyRate   int
	Mode         Mode
}

// Status is the summary the Control API's /api/status endpoint reports.
type Status struct {
	Running     bool `json:"running"`
	Mode        Mode `json:"mode"`
	TotalJobs   int  `json:"total_jobs"`
	RunningRuns int  `json:"running_runs"`
	QueueDepth  int  `json:"queue_depth"`
}

// Engine is the scheduler loop and the sole owner of run lifecycle
// transitions.
type Engine struct {
	cfg    Config
	clk    clock.Clock
	log    *zap.Logger
	tracer trace.Tracer

	catalog    Catalog
	table      *resourcegroup.Table
	singleSlot *resourcegroup.Table
	runStore   *store.Store
	q          *queue.Queue
	sup        *supervisor.Supervisor
	stepExec   *steps.Executor
	notif      *notifier.Notifier
	archiveSnk archive.Sink

	mu      sync.Mutex
	running bool
	mode    Mode
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}

	lastFire  map[string]time.Time
	nextFire  map[string]time.Time
	runJobs   map[int64]*models.Job
	runCancel map[int64]context.CancelFunc
	finished  chan *models.Run
}

// New builds an Engine. table must already have every job's
// resource_group declared. tracer may be nil, in which case tick and run
// spans are started against the global otel tracer provider, which is a
// no-op unless a provider has been installed (telemetry.Init installs one
// only when tracing is enabled).
func New(cfg Config, clk clock.Clock, log *zap.Logger, tracer trace.Tracer, cat Catalog, table *resourcegroup.Table,
	runStore *store.Store, q *queue.Queue, sup *supervisor.Supervisor, notif *notifier.Notifier,
	archiveSnk archive.Sink) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if tracer == nil {
		tracer = otel.Tracer("jobforge/engine")
	}
	singleSlot := resourcegroup.NewTable(map[string]int{singleSlotGroup: 1})

	return &Engine{
		cfg:        cfg,
		clk:        clk,
		log:        log,
		tracer:     tracer,
		catalog:    cat,
		table:      table,
		singleSlot: singleSlot,
		runStore:   runStore,
		q:          q,
		sup:        sup,
		stepExec:   steps.New(steps.ExecAdbClient{}),
		notif:      notif,
		archiveSnk: archiveSnk,
		mode:       cfg.Mode,
		wake:       make(chan struct{}, 1),
		lastFire:   make(map[string]time.Time),
		nextFire:   make(map[string]time.Time),
		runJobs:    make(map[int64]*models.Job),
		runCancel:  make(map[int64]context.CancelFunc),
		finished:   make(chan *models.Run, 64),
	}
}

// Start launches the tick loop. Starting an already-running engine
// returns an error and leaves the running loop untouched.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop()

	e.notif.Notify(ctx, notifier.Event{Kind: notifier.EventSchedulerStarted, At: e.clk.Now()})
	return nil
}

// Stop cancels all pending runs, signals all running runs to stop, and
// waits up to grace for them to exit (spec.md §4.10).
func (e *Engine) Stop(grace time.Duration) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancelAllPending()
	e.signalAllRunning()

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(grace):
	}

	e.notif.Notify(context.Background(), notifier.Event{Kind: notifier.EventSchedulerStopped, At: e.clk.Now()})
}

// IsRunning reports whether the tick loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Mode reports the current admission mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode transitions AUTO<->SINGLE. AUTO->SINGLE leaves any
// currently-running run alone but marks every other pending run
// preempted (spec.md §4.10).
func (e *Engine) SetMode(m Mode) error {
	if m != ModeAuto && m != ModeSingle {
		return fmt.Errorf("engine: unknown mode %q", m)
	}
	e.mu.Lock()
	prev := e.mode
	e.mode = m
	e.mu.Unlock()

	if prev == ModeAuto && m == ModeSingle {
		for _, run := range e.q.DrainAll() {
			run.Status = models.RunPreempted
			e.runStore.Put(run)
			delete(e.runJobs, run.RunID)
		}
	}

	e.notif.Notify(context.Background(), notifier.Event{
		Kind: notifier.EventModeChanged, At: e.clk.Now(), Message: string(m),
	})
	e.signalWake()
	return nil
}

// RunHistory returns jobID's bounded terminal-run history, newest first.
func (e *Engine) RunHistory(jobID string) []*models.Run {
	return e.runStore.HistoryForJob(jobID)
}

// LiveRuns returns jobID's currently pending/running runs.
func (e *Engine) LiveRuns(jobID string) []*models.Run {
	return e.runStore.LiveForJob(jobID)
}

// RecentEvents returns the global bounded ring of recently-terminated
// runs across every job, newest first (spec.md §6 GET /api/logs).
func (e *Engine) RecentEvents() []*models.Run {
	return e.runStore.RecentEvents()
}

// ResourceGroups returns the current occupancy of every declared
// resource group (spec.md §6 GET /api/resource-groups).
func (e *Engine) ResourceGroups() []resourcegroup.Summary {
	return e.table.SummaryAll()
}

// TestNotify dispatches a synthetic notification through the configured
// sink (spec.md §6 POST /api/test-notification).
func (e *Engine) TestNotify(ctx context.Context, message string) error {
	return e.notif.Deliver(ctx, notifier.Event{
		Kind: notifier.EventTest, At: e.clk.Now(), Message: message,
	})
}

// Status reports a point-in-time summary for the Control API.
func (e *Engine) Status() Status {
	return Status{
		Running:     e.IsRunning(),
		Mode:        e.Mode(),
		TotalJobs:   len(e.catalog.Snapshot()),
		RunningRuns: len(e.runStore.LiveAll()) - e.q.Len(),
		QueueDepth:  e.q.Len(),
	}
}

// ManualRun creates an origin=manual run for jobID, priority-boosted to
// the highest priority value, and pushes it immediately. It refuses when
// mode=AUTO and the scheduler is running (spec.md §4.10).
func (e *Engine) ManualRun(jobID string) (*models.Run, error) {
	if e.Mode() == ModeAuto && e.IsRunning() {
		return nil, fmt.Errorf("engine: stop the scheduler or switch to single-task mode before a manual run")
	}

	snapshot := e.catalog.Snapshot()
	job, ok := snapshot[jobID]
	if !ok {
		return nil, fmt.Errorf("engine: unknown job %q", jobID)
	}

	now := e.clk.Now()
	run := &models.Run{
		RunID:         e.runStore.NextRunID(),
		JobID:         job.ID,
		Origin:        models.OriginManual,
		ScheduledFor:  now,
		EnqueuedAt:    now,
		Priority:      models.MinPriority,
		ResourceGroup: job.ResourceGroup,
		Status:        models.RunPending,
	}
	e.pushRun(run, job)
	return run, nil
}

// CancelRun cancels runID: if pending, it is removed from the queue and
// marked cancelled; if running, the supervisor is signalled to stop.
func (e *Engine) CancelRun(runID int64) error {
	if e.q.Remove(runID) {
		run, ok := e.runStore.Get(runID)
		if ok {
			run.Status = models.RunCancelled
			run.Cancelled.Store(true)
			e.runStore.Put(run)
		}
		delete(e.runJobs, runID)
		return nil
	}

	e.mu.Lock()
	cancel, ok := e.runCancel[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: run %d not live", runID)
	}
	if run, ok := e.runStore.Get(runID); ok {
		run.Cancelled.Store(true)
	}
	cancel()
	return nil
}

func (e *Engine) cancelAllPending() {
	for _, run := range e.q.DrainAll() {
		run.Status = models.RunCancelled
		e.runStore.Put(run)
		delete(e.runJobs, run.RunID)
	}
}

func (e *Engine) signalAllRunning() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.runCancel))
	for _, c := range e.runCancel {
		cancels = append(cancels, c)
	}
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// loop is the scheduler's dedicated worker (spec.md §5).
func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case run := <-e.finished:
			e.reap(run)
		case <-e.wake:
			e.tick()
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	ctx, span := e.tracer.Start(e.ctx, "engine.tick")
	defer span.End()

	metrics.TicksTotal.Inc()
	now := e.clk.Now()

	e.syncCatalog()
	e.planDueRuns(now)
	e.drainFinished()
	e.admitWhilePossible(ctx)

	depth := e.q.Len()
	span.SetAttributes(attribute.Int("queue.depth", depth))
	metrics.QueueDepth.Set(float64(depth))
}

// syncCatalog reloads the job catalog when a newer version has been
// published (e.g. by a Control API job upsert/delete) since the last
// load, rather than hitting Postgres on every tick.
func (e *Engine) syncCatalog() {
	newer, err := e.catalog.NewerVersionExists()
	if err != nil {
		e.log.Warn("engine: catalog version check failed", zap.Error(err))
		return
	}
	if !newer {
		return
	}
	if err := e.catalog.Load(); err != nil {
		e.log.Warn("engine: catalog reload failed", zap.Error(err))
	}
}

// drainFinished processes any completions that arrived since the last
// tick without blocking on the select in loop().
func (e *Engine) drainFinished() {
	for {
		select {
		case run := <-e.finished:
			e.reap(run)
		default:
			return
		}
	}
}

// planDueRuns implements spec.md §4.5 step 2: for each enabled job with
// no live run, ask the trigger evaluator for next_fire and push a run
// once that time has arrived.
//
// trigger.Next always returns a fire time strictly after the reference
// time it is given, so "is this job due" can't be answered by calling it
// against the current tick's now directly. Instead each job's upcoming
// fire is precomputed once and cached in nextFire; a tick only compares
// against that cached value and recomputes the following one after the
// cached fire is consumed.
func (e *Engine) planDueRuns(now time.Time) {
	snapshot := e.catalog.Snapshot()
	for _, job := range snapshot {
		if !job.Enabled {
			continue
		}
		if len(e.runStore.LiveForJob(job.ID)) > 0 {
			// Coalesce: a fire that comes due while the job still has a
			// live run is dropped, not deferred.
			if due, cached := e.nextFire[job.ID]; cached && !due.After(now) {
				e.log.Info("engine: skipping due fire, job has a live run",
					zap.String("job_id", job.ID), zap.Time("fire", due))
				metrics.CoalescedTotal.WithLabelValues(job.ID).Inc()
				e.lastFire[job.ID] = due
				delete(e.nextFire, job.ID)
				if following, err := trigger.Next(job.Trigger, now, due); err == nil && !following.Never {
					e.nextFire[job.ID] = following.Next
				}
			}
			continue
		}

		next, cached := e.nextFire[job.ID]
		if !cached {
			seed, err := trigger.Next(job.Trigger, now.Add(-time.Millisecond), e.lastFire[job.ID])
			if err != nil {
				e.log.Warn("engine: trigger evaluation failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			if seed.Never {
				continue
			}
			e.nextFire[job.ID] = seed.Next
			continue
		}
		if next.After(now) {
			continue
		}

		e.lastFire[job.ID] = next
		delete(e.nextFire, job.ID)

		run := &models.Run{
			RunID:         e.runStore.NextRunID(),
			JobID:         job.ID,
			Origin:        models.OriginScheduler,
			ScheduledFor:  next,
			EnqueuedAt:    now,
			Priority:      job.Priority,
			ResourceGroup: job.ResourceGroup,
			Status:        models.RunPending,
		}
		e.pushRun(run, job)

		if following, err := trigger.Next(job.Trigger, now, next); err == nil && !following.Never {
			e.nextFire[job.ID] = following.Next
		}
	}
}

func (e *Engine) pushRun(run *models.Run, job *models.Job) {
	e.mu.Lock()
	e.runJobs[run.RunID] = job
	e.mu.Unlock()
	e.runStore.Put(run)
	e.q.Push(run)
	e.signalWake()
}

// admitWhilePossible drains the queue of everything the resource group
// table (and, in SINGLE mode, the single-run slot) can presently admit.
func (e *Engine) admitWhilePossible(ctx context.Context) {
	for {
		run, ok := e.q.PopBestAdmissible(e.admit)
		if !ok {
			return
		}
		metrics.AdmissionLag.Observe(e.clk.Now().Sub(run.ScheduledFor).Seconds())
		e.launch(ctx, run)
	}
}

func (e *Engine) admit(run *models.Run) bool {
	if e.Mode() == ModeSingle {
		// Runs launched before a switch to SINGLE hold no single-mode
		// slot, so any run still executing blocks admission too.
		e.mu.Lock()
		busy := len(e.runCancel) > 0
		e.mu.Unlock()
		if busy {
			return false
		}
		ok, err := e.singleSlot.TryAcquire(singleSlotGroup, run.RunID)
		if err != nil || !ok {
			return false
		}
	}
	ok, err := e.table.TryAcquire(run.ResourceGroup, run.RunID)
	if err != nil || !ok {
		if e.Mode() == ModeSingle {
			e.singleSlot.Release(singleSlotGroup, run.RunID)
		}
		return false
	}
	return true
}

func (e *Engine) release(run *models.Run) {
	e.table.Release(run.ResourceGroup, run.RunID)
	e.singleSlot.Release(singleSlotGroup, run.RunID)
}

// launch starts run's subprocess on its own goroutine, matching the "one
// worker per running subprocess" model (spec.md §5).
func (e *Engine) launch(ctx context.Context, run *models.Run) {
	e.mu.Lock()
	job := e.runJobs[run.RunID]
	e.mu.Unlock()
	if job == nil {
		e.log.Error("engine: admitted run with no job snapshot", zap.Int64("run_id", run.RunID))
		e.release(run)
		return
	}

	now := e.clk.Now()
	started := now
	run.StartedAt = &started
	run.Status = models.RunRunning
	e.runStore.Put(run)
	metrics.RunningRuns.Inc()

	spanCtx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("job.id", job.ID), attribute.Int64("run.id", run.RunID)))
	runCtx, cancel := context.WithCancel(spanCtx)
	e.mu.Lock()
	e.runCancel[run.RunID] = cancel
	e.mu.Unlock()

	if notifier.ShouldNotify(job.Notify, notifier.EventRunStarted) {
		e.notif.Notify(runCtx, notifier.Event{Kind: notifier.EventRunStarted, JobID: job.ID, RunID: run.RunID, At: now})
	}

	go func() {
		defer span.End()
		defer cancel()
		res, err := e.sup.Run(runCtx, supervisor.Options{
			Job:     job,
			RunID:   run.RunID,
			Scanner: keyword.New(job.Keywords),
			Archive: e.archiveSnk,
			Steps:   e.stepExec,
		})
		finishedAt := e.clk.Now()
		run.FinishedAt = &finishedAt
		run.KeywordHits = res.KeywordHits
		run.LastLines = res.Lines

		switch {
		case err != nil:
			run.Status = models.RunFailed
			run.Reason = res.Reason
			if run.Reason == "" {
				run.Reason = models.ReasonSpawn
			}
		case run.Cancelled.Load() || res.Reason == models.ReasonCancel:
			run.Status = models.RunCancelled
			run.Reason = models.ReasonCancel
		case res.ExitCode == 0 && !hasFailureKeyword(res.KeywordHits):
			run.Status = models.RunCompleted
			run.Reason = models.ReasonNone
		case hasFailureKeyword(res.KeywordHits):
			run.Status = models.RunFailed
			run.Reason = models.ReasonKeyword
		default:
			run.Status = models.RunFailed
			run.Reason = res.Reason
			if run.Reason == "" {
				run.Reason = models.ReasonExit
			}
		}
		run.ExitCode = &res.ExitCode
		span.SetAttributes(
			attribute.String("run.status", string(run.Status)),
			attribute.String("run.reason", string(run.Reason)),
		)

		e.finished <- run
	}()
}

func hasFailureKeyword(hits []models.KeywordHit) bool {
	for _, h := range hits {
		if h.RuleKind == models.KeywordFailure {
			return true
		}
	}
	return false
}

// reap processes one terminal run: releases its resource slot, persists
// it, notifies, and asks the retry engine for a follow-up.
func (e *Engine) reap(run *models.Run) {
	e.release(run)
	e.runStore.Put(run)
	metrics.RunningRuns.Dec()

	e.mu.Lock()
	job := e.runJobs[run.RunID]
	delete(e.runJobs, run.RunID)
	delete(e.runCancel, run.RunID)
	e.mu.Unlock()
	if job == nil {
		return
	}

	if run.StartedAt != nil && run.FinishedAt != nil {
		metrics.RunDuration.WithLabelValues(job.ID).Observe(run.FinishedAt.Sub(*run.StartedAt).Seconds())
	}
	metrics.RunsTotal.WithLabelValues(job.ID, string(run.Status), string(run.Reason)).Inc()

	kind := notifier.EventRunSucceeded
	if run.Status == models.RunFailed {
		kind = notifier.EventRunFailed
	}
	if run.Status == models.RunCompleted || run.Status == models.RunFailed {
		if notifier.ShouldNotify(job.Notify, kind) {
			e.notif.Notify(context.Background(), notifier.Event{Kind: kind, JobID: job.ID, RunID: run.RunID, At: e.clk.Now()})
		}
	}
	for _, hit := range run.KeywordHits {
		if hit.RuleKind == models.KeywordAlert && notifier.ShouldNotify(job.Notify, notifier.EventKeywordHit) {
			h := hit
			e.notif.Notify(context.Background(), notifier.Event{
				Kind: notifier.EventKeywordHit, JobID: job.ID, RunID: run.RunID, At: e.clk.Now(), Keyword: &h,
			})
		}
	}

	if next, ok := retry.Decide(run, job, e.clk.Now()); ok {
		next.RunID = e.runStore.NextRunID()
		next.EnqueuedAt = e.clk.Now()
		if next.Origin == models.OriginFailureRetry {
			metrics.RetriesTotal.WithLabelValues(job.ID).Inc()
		} else {
			metrics.SuccessRepeatsTotal.WithLabelValues(job.ID).Inc()
		}
		e.pushRun(next, job)
	}

	e.notif.FlushOverflow(context.Background(), e.clk.Now())
}
