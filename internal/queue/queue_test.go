package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/scheduler/internal/models"
)

func TestPopBestAdmissible_OrdersByPriority(t *testing.T) {
	q := New()
	now := time.Now()
	q.Push(&models.Run{RunID: 1, JobID: "b", Priority: 10, ScheduledFor: now})
	q.Push(&models.Run{RunID: 2, JobID: "a", Priority: 1, ScheduledFor: now})
	q.Push(&models.Run{RunID: 3, JobID: "c", Priority: 5, ScheduledFor: now})

	run, ok := q.PopBestAdmissible(func(*models.Run) bool { return true })
	require.True(t, ok)
	assert.Equal(t, int64(2), run.RunID)
	assert.Equal(t, 2, q.Len())
}

func TestPopBestAdmissible_SkipsInadmissible(t *testing.T) {
	q := New()
	now := time.Now()
	q.Push(&models.Run{RunID: 1, JobID: "a", Priority: 1, ResourceGroup: "full", ScheduledFor: now})
	q.Push(&models.Run{RunID: 2, JobID: "b", Priority: 2, ResourceGroup: "open", ScheduledFor: now})

	run, ok := q.PopBestAdmissible(func(r *models.Run) bool { return r.ResourceGroup == "open" })
	require.True(t, ok)
	assert.Equal(t, int64(2), run.RunID)
	assert.Equal(t, 1, q.Len(), "the inadmissible run stays queued")
}

func TestPopBestAdmissible_NoneAdmissible(t *testing.T) {
	q := New()
	q.Push(&models.Run{RunID: 1, JobID: "a", Priority: 1})

	_, ok := q.PopBestAdmissible(func(*models.Run) bool { return false })
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())
}

func TestRemove(t *testing.T) {
	q := New()
	q.Push(&models.Run{RunID: 1, JobID: "a"})
	q.Push(&models.Run{RunID: 2, JobID: "b"})

	assert.True(t, q.Remove(1))
	assert.False(t, q.Remove(1))
	assert.Equal(t, 1, q.Len())
}

func TestSnapshotOrderStable(t *testing.T) {
	q := New()
	now := time.Now()
	q.Push(&models.Run{RunID: 1, JobID: "z", Priority: 3, ScheduledFor: now})
	q.Push(&models.Run{RunID: 2, JobID: "a", Priority: 3, ScheduledFor: now})

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].JobID, "ties break on job_id")
}

func TestTieBreakOnEnqueuedAt(t *testing.T) {
	q := New()
	t0 := time.Now()
	q.Push(&models.Run{RunID: 1, JobID: "x", Priority: 1, ScheduledFor: t0, EnqueuedAt: t0.Add(time.Second)})
	q.Push(&models.Run{RunID: 2, JobID: "x", Priority: 1, ScheduledFor: t0, EnqueuedAt: t0})

	run, ok := q.PopBestAdmissible(func(*models.Run) bool { return true })
	require.True(t, ok)
	assert.Equal(t, int64(2), run.RunID)
}
