// Package notifier dispatches typed scheduler events to an injected sink,
// rate-limited per (job_id, event_kind) (spec.md §4.9).
package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jobforge/scheduler/internal/models"
)

// EventKind identifies one of the typed events the engine can raise.
type EventKind string

const (
	EventRunStarted       EventKind = "run_started"
	EventRunSucceeded     EventKind = "run_succeeded"
	EventRunFailed        EventKind = "run_failed"
	EventKeywordHit       EventKind = "keyword_hit"
	EventSchedulerStarted EventKind = "scheduler_started"
	EventSchedulerStopped EventKind = "scheduler_stopped"
	EventModeChanged      EventKind = "mode_changed"
	EventTest             EventKind = "test"
)

// Event is the payload handed to a Sink.
type Event struct {
	Kind      EventKind      `json:"kind"`
	JobID     string         `json:"job_id,omitempty"`
	RunID     int64          `json:"run_id,omitempty"`
	At        time.Time      `json:"at"`
	Message   string         `json:"message,omitempty"`
	Keyword   *models.KeywordHit `json:"keyword,omitempty"`
	Overflow  int            `json:"overflowed_count,omitempty"` // set only on a rate-limit summary event
}

// Sink delivers an Event. Delivery failures are logged by Notifier but
// never propagate to the calling run (spec.md §4.9).
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// NoopSink discards every event, for deployments with no webhook configured.
type NoopSink struct{}

func (NoopSink) Deliver(context.Context, Event) error { return nil }

// DefaultRatePerMinute bounds notifications per (job_id, event_kind).
const DefaultRatePerMinute = 5

// Notifier rate-limits and forwards events to a Sink.
type Notifier struct {
	sink     Sink
	log      *zap.Logger
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	overflow map[string]int
}

// New builds a Notifier. ratePerMinute <= 0 uses DefaultRatePerMinute.
func New(sink Sink, log *zap.Logger, ratePerMinute int) *Notifier {
	if ratePerMinute <= 0 {
		ratePerMinute = DefaultRatePerMinute
	}
	return &Notifier{
		sink:     sink,
		log:      log,
		rate:     rate.Limit(float64(ratePerMinute) / 60.0),
		burst:    ratePerMinute,
		limiters: make(map[string]*rate.Limiter),
		overflow: make(map[string]int),
	}
}

// ShouldNotify consults a job's NotifyFlags for the given event kind.
func ShouldNotify(flags models.NotifyFlags, kind EventKind) bool {
	switch kind {
	case EventRunStarted:
		return flags.OnStart
	case EventRunSucceeded:
		return flags.OnSuccess
	case EventRunFailed:
		return flags.OnFailure
	case EventKeywordHit:
		return flags.OnKeyword
	default:
		return true // scheduler-lifecycle events are always notified
	}
}

// Notify delivers ev if the per-(job_id, event_kind) rate limit allows it;
// otherwise it counts the overflow silently (a summary event is emitted
// the next time the caller calls FlushOverflow).
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	key := string(ev.JobID) + "|" + string(ev.Kind)

	n.mu.Lock()
	lim, ok := n.limiters[key]
	if !ok {
		lim = rate.NewLimiter(n.rate, n.burst)
		n.limiters[key] = lim
	}
	allowed := lim.Allow()
	if !allowed {
		n.overflow[key]++
	}
	n.mu.Unlock()

	if !allowed {
		return
	}

	if err := n.sink.Deliver(ctx, ev); err != nil {
		n.log.Warn("notifier: delivery failed",
			zap.String("kind", string(ev.Kind)), zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

// Deliver bypasses rate limiting and forwards ev straight to the sink,
// for on-demand checks like a test-notification endpoint rather than
// run-lifecycle traffic.
func (n *Notifier) Deliver(ctx context.Context, ev Event) error {
	return n.sink.Deliver(ctx, ev)
}

// FlushOverflow emits one summary event per (job_id, event_kind) key that
// accumulated rate-limited drops since the last flush, then resets the
// counters. It flushes whenever it is called; it does not wait for the
// key's rate window to close or for its limiter to admit again.
func (n *Notifier) FlushOverflow(ctx context.Context, now time.Time) {
	n.mu.Lock()
	pending := n.overflow
	n.overflow = make(map[string]int)
	n.mu.Unlock()

	for key, count := range pending {
		if count == 0 {
			continue
		}
		jobID, kind := splitKey(key)
		ev := Event{Kind: EventKind(kind), JobID: jobID, At: now, Overflow: count,
			Message: "notification rate limit exceeded"}
		if err := n.sink.Deliver(ctx, ev); err != nil {
			n.log.Warn("notifier: overflow summary delivery failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

func splitKey(key string) (jobID, kind string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
