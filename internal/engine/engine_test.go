package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobforge/scheduler/internal/archive"
	"github.com/jobforge/scheduler/internal/clock"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/notifier"
	"github.com/jobforge/scheduler/internal/queue"
	"github.com/jobforge/scheduler/internal/resourcegroup"
	"github.com/jobforge/scheduler/internal/store"
	"github.com/jobforge/scheduler/internal/supervisor"
)

// fakeCatalog is an in-memory stand-in for *catalog.Store so the
// scheduler loop can be exercised without a live Postgres connection.
type fakeCatalog struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeCatalog(jobs ...*models.Job) *fakeCatalog {
	c := &fakeCatalog{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		c.jobs[j.ID] = j
	}
	return c
}

func (c *fakeCatalog) Snapshot() map[string]*models.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.Job, len(c.jobs))
	for k, v := range c.jobs {
		out[k] = v
	}
	return out
}

func (c *fakeCatalog) NewerVersionExists() (bool, error) { return false, nil }
func (c *fakeCatalog) Load() error                       { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (s *recordingSink) Deliver(_ context.Context, ev notifier.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testJob(id, resourceGroup string) *models.Job {
	return &models.Job{
		ID:            id,
		Name:          id,
		Enabled:       true,
		Priority:      0,
		ResourceGroup: resourceGroup,
		Trigger:       models.Trigger{Kind: models.TriggerInterval, Interval: time.Millisecond},
		Command:       []string{"sh", "-c", "echo hi"},
		Notify:        models.NotifyFlags{OnSuccess: true, OnFailure: true},
	}
}

func newTestEngine(t *testing.T, jobs ...*models.Job) (*Engine, *recordingSink) {
	t.Helper()
	cat := newFakeCatalog(jobs...)
	groups := map[string]int{}
	for _, j := range jobs {
		groups[j.ResourceGroup] = 1
	}
	table := resourcegroup.NewTable(groups)
	sink := &recordingSink{}
	notif := notifier.New(sink, zap.NewNop(), 100)
	e := New(
		Config{TickInterval: 20 * time.Millisecond, Mode: ModeAuto},
		clock.Real{},
		zap.NewNop(),
		nil,
		cat,
		table,
		store.New(store.DefaultHistoryPerJob, store.DefaultRecentEvents),
		queue.New(),
		supervisor.New(2*time.Second),
		notif,
		archive.Noop{},
	)
	return e, sink
}

func TestManualRun_RejectedWhileAutoAndRunning(t *testing.T) {
	job := testJob("job-a", "default")
	e, _ := newTestEngine(t, job)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(time.Second)

	_, err := e.ManualRun("job-a")
	assert.Error(t, err)
}

func TestManualRun_UnknownJob(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ManualRun("does-not-exist")
	assert.Error(t, err)
}

func TestManualRun_BoostsPriorityAndRuns(t *testing.T) {
	job := testJob("job-a", "default")
	e, sink := newTestEngine(t, job)

	run, err := e.ManualRun("job-a")
	require.NoError(t, err)
	assert.Equal(t, models.MinPriority, run.Priority)
	assert.Equal(t, models.OriginManual, run.Origin)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(time.Second)

	require.Eventually(t, func() bool {
		for _, got := range e.runStore.HistoryForJob("job-a") {
			if got.RunID == run.RunID {
				return got.IsTerminal()
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerTick_LaunchesDueJob(t *testing.T) {
	job := testJob("job-b", "default")
	e, _ := newTestEngine(t, job)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(time.Second)

	require.Eventually(t, func() bool {
		live := e.runStore.LiveForJob("job-b")
		if len(live) > 0 {
			return true
		}
		hist := e.runStore.HistoryForJob("job-b")
		return len(hist) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRun_RemovesPendingFromQueue(t *testing.T) {
	e, _ := newTestEngine(t, testJob("job-c", "default"))

	run := &models.Run{
		RunID:         e.runStore.NextRunID(),
		JobID:         "job-c",
		Origin:        models.OriginManual,
		Priority:      0,
		ResourceGroup: "default",
		Status:        models.RunPending,
	}
	e.pushRun(run, testJob("job-c", "default"))

	err := e.CancelRun(run.RunID)
	require.NoError(t, err)

	hist := e.runStore.HistoryForJob("job-c")
	require.Len(t, hist, 1)
	got := hist[0]
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, models.RunCancelled, got.Status)
	assert.Equal(t, 0, e.q.Len())
}

func TestCancelRun_UnknownRun(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.CancelRun(9999)
	assert.Error(t, err)
}

func TestSetMode_AutoToSinglePreemptsPendingRuns(t *testing.T) {
	e, _ := newTestEngine(t, testJob("job-d", "default"))

	run := &models.Run{
		RunID:         e.runStore.NextRunID(),
		JobID:         "job-d",
		Origin:        models.OriginScheduler,
		Priority:      0,
		ResourceGroup: "default",
		Status:        models.RunPending,
	}
	e.pushRun(run, testJob("job-d", "default"))

	require.NoError(t, e.SetMode(ModeSingle))

	hist := e.runStore.HistoryForJob("job-d")
	require.Len(t, hist, 1)
	got := hist[0]
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, models.RunPreempted, got.Status)
	assert.Equal(t, 0, e.q.Len())
}

func TestSetMode_RejectsUnknownMode(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.SetMode(Mode("bogus"))
	assert.Error(t, err)
}

func TestStatus_ReportsQueueDepthAndJobCount(t *testing.T) {
	e, _ := newTestEngine(t, testJob("job-e", "default"), testJob("job-f", "default"))

	run := &models.Run{
		RunID:         e.runStore.NextRunID(),
		JobID:         "job-e",
		Priority:      0,
		ResourceGroup: "default",
		Status:        models.RunPending,
	}
	e.pushRun(run, testJob("job-e", "default"))

	st := e.Status()
	assert.Equal(t, 2, st.TotalJobs)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, ModeAuto, st.Mode)
	assert.False(t, st.Running)
}

func TestStartStop_DrainsPendingOnStop(t *testing.T) {
	e, _ := newTestEngine(t, testJob("job-g", "default"))

	run := &models.Run{
		RunID:         e.runStore.NextRunID(),
		JobID:         "job-g",
		Priority:      0,
		ResourceGroup: "default",
		Status:        models.RunPending,
	}
	e.pushRun(run, testJob("job-g", "default"))

	require.NoError(t, e.Start(context.Background()))
	e.Stop(time.Second)

	assert.False(t, e.IsRunning())
}
