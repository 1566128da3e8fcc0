// Package retry decides whether a just-terminated run yields a follow-up
// run: failure retry, or in-window success repeat (spec.md §4.8). Decide
// is a pure function, grounded on the teacher's handleExecutionFailure
// retry-scheduling shape but reworked so the follow-up run is returned to
// the caller instead of self-scheduled via a timer callback — that keeps
// retries visible in the run store and queue rather than hidden in a
// closure.
package retry

import (
	"time"

	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/trigger"
)

// Decide inspects a just-terminated run against its job's retry policy
// and returns the follow-up run to enqueue, if any.
func Decide(run *models.Run, job *models.Job, now time.Time) (*models.Run, bool) {
	switch run.Status {
	case models.RunFailed:
		return decideFailureRetry(run, job, now)
	case models.RunCompleted:
		return decideSuccessRepeat(run, job, now)
	default:
		return nil, false
	}
}

func decideFailureRetry(run *models.Run, job *models.Job, now time.Time) (*models.Run, bool) {
	if run.Attempt >= job.Retry.MaxFailureRetries {
		return nil, false
	}
	delay := time.Duration(job.Retry.FailureRetryDelaySeconds) * time.Second
	next := &models.Run{
		JobID:         job.ID,
		Origin:        models.OriginFailureRetry,
		Attempt:       run.Attempt + 1,
		ScheduledFor:  now.Add(delay),
		Priority:      job.Priority,
		ResourceGroup: job.ResourceGroup,
		Status:        models.RunPending,
	}
	return next, true
}

func decideSuccessRepeat(run *models.Run, job *models.Job, now time.Time) (*models.Run, bool) {
	if !job.Retry.SuccessRepeatWithinWindow || !job.Trigger.WindowBearing() {
		return nil, false
	}

	originFire := run.ScheduledFor
	if run.WindowOriginFire != nil {
		originFire = *run.WindowOriginFire
	}

	windowEnd, err := trigger.WindowEnd(job.Trigger, originFire)
	if err != nil {
		return nil, false
	}

	delay := time.Duration(job.Retry.SuccessRepeatDelaySeconds) * time.Second
	candidate := now.Add(delay)
	if candidate.After(windowEnd) {
		return nil, false
	}

	count := run.SuccessRepeatCount + 1
	if count > job.Retry.SuccessRepeatMax {
		return nil, false
	}

	next := &models.Run{
		JobID:              job.ID,
		Origin:             models.OriginSuccessRepeat,
		Attempt:            0,
		ScheduledFor:       candidate,
		Priority:           job.Priority,
		ResourceGroup:      job.ResourceGroup,
		Status:             models.RunPending,
		WindowOriginFire:   &originFire,
		SuccessRepeatCount: count,
	}
	return next, true
}
