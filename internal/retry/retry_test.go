package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/scheduler/internal/models"
)

func TestDecide_FailureRetryScheduled(t *testing.T) {
	job := &models.Job{ID: "j1", Retry: models.RetryPolicy{MaxFailureRetries: 3, FailureRetryDelaySeconds: 30}}
	run := &models.Run{JobID: "j1", Status: models.RunFailed, Attempt: 0}
	now := time.Now()

	next, ok := Decide(run, job, now)
	require.True(t, ok)
	assert.Equal(t, models.OriginFailureRetry, next.Origin)
	assert.Equal(t, 1, next.Attempt)
	assert.Equal(t, now.Add(30*time.Second), next.ScheduledFor)
}

func TestDecide_FailureRetryExhausted(t *testing.T) {
	job := &models.Job{ID: "j1", Retry: models.RetryPolicy{MaxFailureRetries: 2}}
	run := &models.Run{JobID: "j1", Status: models.RunFailed, Attempt: 2}

	_, ok := Decide(run, job, time.Now())
	assert.False(t, ok)
}

func TestDecide_SuccessRepeatWithinWindow(t *testing.T) {
	job := &models.Job{
		ID: "j2",
		Trigger: models.Trigger{
			Kind:   models.TriggerRandom,
			Window: models.Window{Start: "09:00:00", End: "17:00:00"},
		},
		Retry: models.RetryPolicy{
			SuccessRepeatWithinWindow: true,
			SuccessRepeatDelaySeconds: 600,
			SuccessRepeatMax:          3,
		},
	}
	fire := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	run := &models.Run{JobID: "j2", Status: models.RunCompleted, ScheduledFor: fire}
	now := time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC)

	next, ok := Decide(run, job, now)
	require.True(t, ok)
	assert.Equal(t, models.OriginSuccessRepeat, next.Origin)
	assert.Equal(t, 1, next.SuccessRepeatCount)
	assert.Equal(t, fire, *next.WindowOriginFire)
}

func TestDecide_SuccessRepeatPastWindowEnd(t *testing.T) {
	job := &models.Job{
		ID: "j3",
		Trigger: models.Trigger{
			Kind:   models.TriggerRandom,
			Window: models.Window{Start: "09:00:00", End: "17:00:00"},
		},
		Retry: models.RetryPolicy{
			SuccessRepeatWithinWindow: true,
			SuccessRepeatDelaySeconds: 600,
			SuccessRepeatMax:          3,
		},
	}
	fire := time.Date(2026, 7, 31, 16, 55, 0, 0, time.UTC)
	run := &models.Run{JobID: "j3", Status: models.RunCompleted, ScheduledFor: fire}
	now := fire

	_, ok := Decide(run, job, now)
	assert.False(t, ok, "delay would push past window end")
}

func TestDecide_SuccessRepeatMaxReached(t *testing.T) {
	job := &models.Job{
		ID: "j4",
		Trigger: models.Trigger{
			Kind:   models.TriggerRandom,
			Window: models.Window{Start: "09:00:00", End: "23:59:59"},
		},
		Retry: models.RetryPolicy{
			SuccessRepeatWithinWindow: true,
			SuccessRepeatDelaySeconds: 60,
			SuccessRepeatMax:          1,
		},
	}
	fire := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	run := &models.Run{JobID: "j4", Status: models.RunCompleted, ScheduledFor: fire, SuccessRepeatCount: 1}

	_, ok := Decide(run, job, fire)
	assert.False(t, ok)
}

func TestDecide_NonWindowTriggerNoRepeat(t *testing.T) {
	job := &models.Job{
		ID:      "j5",
		Trigger: models.Trigger{Kind: models.TriggerCron, CronExpr: "* * * * *"},
		Retry:   models.RetryPolicy{SuccessRepeatWithinWindow: true},
	}
	run := &models.Run{JobID: "j5", Status: models.RunCompleted}

	_, ok := Decide(run, job, time.Now())
	assert.False(t, ok)
}
