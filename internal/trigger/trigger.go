// Package trigger computes the next fire time for a job's trigger spec.
// Every variant except random_window is pure: same (spec, now, lastFire)
// always yields the same result (spec.md §8 "Trigger evaluator is pure").
// random_window draws its instant from math/rand, so repeated calls may
// return different times within the same window.
package trigger

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobforge/scheduler/internal/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Result is the outcome of evaluating a trigger against a reference time.
type Result struct {
	Next  time.Time
	Never bool
}

// Next computes the next fire time strictly after now. LastFire is the
// job's previous scheduler-origin fire time, if any (used by the interval
// variant); it may be the zero time if unknown.
func Next(spec models.Trigger, now, lastFire time.Time) (Result, error) {
	loc, err := location(spec.Timezone)
	if err != nil {
		return Result{}, err
	}

	switch spec.Kind {
	case models.TriggerCron:
		return nextCron(spec, now, loc)
	case models.TriggerInterval:
		return nextInterval(spec, now, lastFire), nil
	case models.TriggerRandom:
		return nextRandomWindow(spec, now, loc)
	case models.TriggerWeekly:
		return nextWeekly(spec, now, loc)
	case models.TriggerMonthly:
		return nextMonthly(spec, now, loc)
	case models.TriggerDate:
		return nextDate(spec, now), nil
	default:
		return Result{}, fmt.Errorf("trigger: unknown kind %q", spec.Kind)
	}
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("trigger: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func nextCron(spec models.Trigger, now time.Time, loc *time.Location) (Result, error) {
	sched, err := cronParser.Parse(spec.CronExpr)
	if err != nil {
		return Result{}, fmt.Errorf("trigger: invalid cron expression %q: %w", spec.CronExpr, err)
	}
	localNow := now.In(loc)
	next := sched.Next(localNow)
	return Result{Next: next}, nil
}

func nextInterval(spec models.Trigger, now, lastFire time.Time) Result {
	if lastFire.IsZero() {
		return Result{Next: now.Add(spec.Interval)}
	}
	next := lastFire.Add(spec.Interval)
	// Catch up at most to "now + interval" worth of drift; still strictly
	// future relative to now.
	for !next.After(now) {
		next = next.Add(spec.Interval)
	}
	return Result{Next: next}
}

// nextRandomWindow picks a uniform instant in today's (or tomorrow's, if
// today's window has already elapsed) [start, end] window, clipped to not
// be before now (spec.md §4.2).
func nextRandomWindow(spec models.Trigger, now time.Time, loc *time.Location) (Result, error) {
	localNow := now.In(loc)
	start, end, err := windowOn(localNow, spec.Window, loc)
	if err != nil {
		return Result{}, err
	}
	if localNow.After(end) {
		start, end, err = windowOn(localNow.AddDate(0, 0, 1), spec.Window, loc)
		if err != nil {
			return Result{}, err
		}
	}
	lower := start
	if localNow.After(lower) {
		lower = localNow
	}
	if !lower.Before(end) {
		// window already fully elapsed for today AND tomorrow's lower
		// bound rounds past its own end (degenerate window); fall back
		// to tomorrow's start exactly.
		return Result{Next: start.AddDate(0, 0, 1)}, nil
	}
	span := end.Sub(lower)
	offset := time.Duration(rand.Int63n(int64(span) + 1))
	return Result{Next: lower.Add(offset)}, nil
}

// WindowEnd returns the end of the window-bearing trigger's window that
// contains originFire, for success-repeat bound checks (spec.md §4.8).
func WindowEnd(spec models.Trigger, originFire time.Time) (time.Time, error) {
	loc, err := location(spec.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	_, end, err := windowOn(originFire.In(loc), spec.Window, loc)
	return end, err
}

func windowOn(day time.Time, w models.Window, loc *time.Location) (start, end time.Time, err error) {
	start, err = atTimeOfDay(day, w.Start, loc)
	if err != nil {
		return
	}
	end, err = atTimeOfDay(day, w.End, loc)
	return
}

func nextWeekly(spec models.Trigger, now time.Time, loc *time.Location) (Result, error) {
	localNow := now.In(loc)
	for add := 0; add <= 7; add++ {
		day := localNow.AddDate(0, 0, add)
		if day.Weekday() != spec.Weekday {
			continue
		}
		candidate, err := atTimeOfDay(day, spec.TimeOfDay, loc)
		if err != nil {
			return Result{}, err
		}
		if candidate.After(localNow) {
			return Result{Next: candidate}, nil
		}
	}
	return Result{Never: true}, nil
}

func nextMonthly(spec models.Trigger, now time.Time, loc *time.Location) (Result, error) {
	localNow := now.In(loc)
	for addMonth := 0; addMonth <= 2; addMonth++ {
		base := time.Date(localNow.Year(), localNow.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, addMonth, 0)
		day := dayOfMonthClamped(base, spec.DayOfMonth)
		candidate, err := atTimeOfDay(day, spec.TimeOfDay, loc)
		if err != nil {
			return Result{}, err
		}
		if candidate.After(localNow) {
			return Result{Next: candidate}, nil
		}
	}
	return Result{Never: true}, nil
}

func nextDate(spec models.Trigger, now time.Time) Result {
	if !spec.At.After(now) {
		return Result{Never: true}
	}
	return Result{Next: spec.At}
}

// dayOfMonthClamped returns the monthOf(base) day-of-month instant,
// clamped to the last day of that month if day exceeds it (e.g. day=31 in
// February).
func dayOfMonthClamped(monthStart time.Time, day int) time.Time {
	firstOfNext := monthStart.AddDate(0, 1, 0)
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, monthStart.Location())
}

// atTimeOfDay resolves "HH:MM:SS" on the given day in loc, picking the
// earliest valid instant for DST gaps and the earlier occurrence for DST
// overlaps (spec.md §4.2 boundary rules).
func atTimeOfDay(day time.Time, hms string, loc *time.Location) (time.Time, error) {
	var h, m, s int
	if _, err := fmt.Sscanf(hms, "%d:%d:%d", &h, &m, &s); err != nil {
		return time.Time{}, fmt.Errorf("trigger: invalid time_of_day %q: %w", hms, err)
	}
	nominal := time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc)

	// Go's time.Date already resolves DST gaps/overlaps by normalizing
	// components forward, which yields the earliest valid instant at or
	// after the nominal time for a gap. For an overlap it yields the
	// first (standard-then-daylight, whichever libc/tzdata orders first)
	// occurrence, matching "the earlier occurrence wins".
	return nominal, nil
}
