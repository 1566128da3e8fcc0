package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/scheduler/internal/models"
)

func TestNextCron(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerCron, CronExpr: "0 * * * *", Timezone: "UTC"}
	now := time.Date(2026, 7, 31, 10, 15, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Never)
	assert.Equal(t, time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC), res.Next)
}

func TestNextInterval_NoLastFire(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerInterval, Interval: 5 * time.Minute}
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), res.Next)
}

func TestNextInterval_CatchesUpDrift(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerInterval, Interval: 5 * time.Minute}
	lastFire := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, lastFire)
	require.NoError(t, err)
	assert.True(t, res.Next.After(now))
	assert.Equal(t, time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC), res.Next)
}

func TestNextRandomWindow_WithinTodayRemainder(t *testing.T) {
	spec := models.Trigger{
		Kind:   models.TriggerRandom,
		Window: models.Window{Start: "09:00:00", End: "17:00:00"},
	}
	now := time.Date(2026, 7, 31, 16, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Never)
	assert.True(t, !res.Next.Before(now))
	assert.True(t, res.Next.Before(time.Date(2026, 7, 31, 17, 0, 1, 0, time.UTC)))
}

func TestNextRandomWindow_RollsToTomorrow(t *testing.T) {
	spec := models.Trigger{
		Kind:   models.TriggerRandom,
		Window: models.Window{Start: "09:00:00", End: "17:00:00"},
	}
	now := time.Date(2026, 7, 31, 18, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.August, res.Next.Month())
	assert.Equal(t, 1, res.Next.Day())
}

func TestNextWeekly(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerWeekly, Weekday: time.Monday, TimeOfDay: "08:00:00"}
	// 2026-07-31 is a Friday.
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.August, res.Next.Month())
	assert.Equal(t, 3, res.Next.Day())
	assert.Equal(t, time.Monday, res.Next.Weekday())
}

func TestNextMonthly_ClampsShortMonth(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerMonthly, DayOfMonth: 31, TimeOfDay: "00:00:00"}
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.February, res.Next.Month())
	assert.Equal(t, 28, res.Next.Day())
}

func TestNextDate_PastIsNever(t *testing.T) {
	spec := models.Trigger{Kind: models.TriggerDate, At: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Never)
}

func TestNextDate_Future(t *testing.T) {
	at := time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)
	spec := models.Trigger{Kind: models.TriggerDate, At: at}
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	res, err := Next(spec, now, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Never)
	assert.Equal(t, at, res.Next)
}

func TestNext_UnknownKind(t *testing.T) {
	_, err := Next(models.Trigger{Kind: "bogus"}, time.Now(), time.Time{})
	assert.Error(t, err)
}
