//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobforge/scheduler/internal/archive"
	"github.com/jobforge/scheduler/internal/clock"
	"github.com/jobforge/scheduler/internal/engine"
	"github.com/jobforge/scheduler/internal/handler"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/notifier"
	"github.com/jobforge/scheduler/internal/queue"
	"github.com/jobforge/scheduler/internal/resourcegroup"
	"github.com/jobforge/scheduler/internal/service"
	"github.com/jobforge/scheduler/internal/store"
	"github.com/jobforge/scheduler/internal/supervisor"
)

// fakeCatalog is an in-memory engine.Catalog, letting these tests drive
// the real Control API scheduler-lifecycle handlers end to end without a
// live Postgres connection (the catalog CRUD handlers stay DB-backed and
// are covered by the catalog/service unit tests instead).
type fakeCatalog struct {
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
	out := make(map[string]*models.Job, len(c.jobs))
	for k, v := range c.jobs {
		out[k] = v
	}
	return out
}

func (c *fakeCatalog) NewerVersionExists() (bool, error) { return false, nil }
func (c *fakeCatalog) Load() error                       { return nil }

type recordingSink struct {
	events []notifier.Event
}

func (s *recordingSink) Deliver(_ context.Context, ev notifier.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func newTestEngine(t *testing.T, jobs ...*models.Job) (*engine.Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	notif := notifier.New(sink, zap.NewNop(), 60)
	table := resourcegroup.NewTable(map[string]int{"default": 2})
	eng := engine.New(
		engine.Config{TickInterval: 20 * time.Millisecond, Mode: engine.ModeAuto},
		clock.Real{},
		zap.NewNop(),
		nil,
		newFakeCatalog(jobs...),
		table,
		store.New(50, 200),
		queue.New(),
		supervisor.New(2*time.Second),
		notif,
		archive.Noop{},
	)
	return eng, sink
}

// newTestApp mounts only the scheduler-lifecycle routes (spec.md §6
// top-level /api/* endpoints), the slice of the Control API that needs
// nothing beyond the engine itself.
func newTestApp(eng *engine.Engine) *fiber.App {
	app := fiber.New()
	runs := service.NewRunsService(eng)
	sched := handler.NewSchedulerHandler(runs)

	api := app.Group("/api")
	api.Get("/status", sched.Status)
	api.Post("/scheduler/start", sched.Start)
	api.Post("/scheduler/stop", sched.Stop)
	api.Post("/scheduler/mode", sched.Mode)
	api.Get("/logs", sched.Logs)
	api.Get("/resource-groups", sched.ResourceGroups)
	api.Post("/test-notification", sched.TestNotification)
	return app
}

func TestStatusEndpoint_ReportsStoppedByDefault(t *testing.T) {
	eng, _ := newTestEngine(t)
	app := newTestApp(eng)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data engine.Status `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Data.Running)
	assert.Equal(t, engine.ModeAuto, body.Data.Mode)
}

func TestSchedulerStartStop(t *testing.T) {
	eng, _ := newTestEngine(t)
	app := newTestApp(eng)

	startReq := httptest.NewRequest(http.MethodPost, "/api/scheduler/start", nil)
	resp, err := app.Test(startReq, 15000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, eng.IsRunning())

	stopReq := httptest.NewRequest(http.MethodPost, "/api/scheduler/stop", nil)
	resp, err = app.Test(stopReq, 15000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, eng.IsRunning())
}

func TestSchedulerMode_RejectsUnknown(t *testing.T) {
	eng, _ := newTestEngine(t)
	app := newTestApp(eng)

	body, _ := json.Marshal(map[string]string{"mode": "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/mode", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSchedulerMode_SwitchesToSingle(t *testing.T) {
	eng, _ := newTestEngine(t)
	app := newTestApp(eng)

	body, _ := json.Marshal(map[string]string{"mode": "single"})
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/mode", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, engine.ModeSingle, eng.Mode())
}

func TestResourceGroupsEndpoint(t *testing.T) {
	eng, _ := newTestEngine(t)
	app := newTestApp(eng)

	req := httptest.NewRequest(http.MethodGet, "/api/resource-groups", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []resourcegroup.Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "default", body.Data[0].Name)
	assert.Equal(t, 2, body.Data[0].Max)
}

func TestTestNotificationEndpoint(t *testing.T) {
	eng, sink := newTestEngine(t)
	app := newTestApp(eng)

	body, _ := json.Marshal(map[string]string{"message": "ping"})
	req := httptest.NewRequest(http.MethodPost, "/api/test-notification", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, sink.events, 1)
	assert.Equal(t, notifier.EventTest, sink.events[0].Kind)
	assert.Equal(t, "ping", sink.events[0].Message)
}

// TestManualRun_CompletesThroughSupervisor exercises the full
// admit -> launch -> supervise -> reap pipeline for a manually-triggered
// job, bypassing the HTTP layer for the run lifecycle itself (covered by
// unit tests in internal/engine) to focus on whether a real subprocess
// runs to completion under the wired-up collaborators.
func TestManualRun_CompletesThroughSupervisor(t *testing.T) {
	job := &models.Job{
		ID:            "echo-job",
		Name:          "echo",
		Enabled:       true,
		Priority:      0,
		ResourceGroup: "default",
		Trigger:       models.Trigger{Kind: models.TriggerInterval, Interval: time.Hour},
		Command:       []string{"true"},
	}
	eng, _ := newTestEngine(t, job)

	// ManualRun is refused while the engine runs in AUTO mode, so the run
	// is queued first and admitted once the loop starts.
	run, err := eng.ManualRun(job.ID)
	require.NoError(t, err)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop(2 * time.Second)

	require.Eventually(t, func() bool {
		for _, r := range eng.RunHistory(job.ID) {
			if r.RunID == run.RunID && r.Status == models.RunCompleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
