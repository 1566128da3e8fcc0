// Package models holds the declarative job catalog types and the run
// records the engine produces from them.
package models

import (
	"encoding/json"
	"time"
)

// TriggerKind identifies which trigger variant a Trigger carries.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerRandom   TriggerKind = "random_window"
	TriggerWeekly   TriggerKind = "weekly"
	TriggerMonthly  TriggerKind = "monthly"
	TriggerDate     TriggerKind = "date"
)

// Window bounds the wall-clock interval scheduled-trigger jobs may run in,
// and bounds success-repeats.
type Window struct {
	Start string `json:"start"` // "HH:MM:SS", local to Trigger.Timezone
	End   string `json:"end"`
}

// Trigger is a tagged variant over the six fire-time rules spec.md §4.2
// describes. Exactly one of the variant-specific fields is meaningful,
// selected by Kind.
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Timezone string      `json:"timezone,omitempty"` // IANA name; "" = system local

	CronExpr string `json:"cron_expr,omitempty"` // Kind=cron

	Interval time.Duration `json:"interval,omitempty"` // Kind=interval

	Window Window `json:"window,omitempty"` // Kind=random_window, or cron/weekly/monthly success-repeat bound

	Weekday   time.Weekday `json:"weekday,omitempty"`     // Kind=weekly
	TimeOfDay string       `json:"time_of_day,omitempty"` // Kind=weekly/monthly, "HH:MM:SS"

	DayOfMonth int `json:"day_of_month,omitempty"` // Kind=monthly

	At time.Time `json:"at,omitempty"` // Kind=date
}

// WindowBearing reports whether this trigger carries a window that bounds
// success-repeats (spec.md §4.8).
func (t Trigger) WindowBearing() bool {
	switch t.Kind {
	case TriggerCron, TriggerRandom, TriggerWeekly, TriggerMonthly:
		return t.Window.Start != "" && t.Window.End != ""
	default:
		return false
	}
}

// StepKind identifies a payload step variant (spec.md §9 design note).
type StepKind string

const (
	StepCommandExec   StepKind = "command-exec"
	StepFileWrite     StepKind = "file-write"
	StepFileRead      StepKind = "file-read"
	StepFileCopy      StepKind = "file-copy"
	StepFileDelete    StepKind = "file-delete"
	StepHTTPGet       StepKind = "http-get"
	StepHTTPPost      StepKind = "http-post"
	StepWebhookSend   StepKind = "webhook-send"
	StepAdbWake       StepKind = "adb-wake"
	StepAdbStartApp   StepKind = "adb-start-app"
	StepSleep         StepKind = "sleep"
	StepResolutionChk StepKind = "resolution-check"
)

// Step is one entry in a job's sequential command list. Params is
// interpreted according to Kind; see internal/steps for the executors.
type Step struct {
	Kind            StepKind        `json:"kind"`
	Params          json.RawMessage `json:"params,omitempty"`
	ContinueOnError bool            `json:"continue_on_error,omitempty"`
}

// KeywordKind classifies the side effect a keyword rule produces.
type KeywordKind string

const (
	KeywordSuccess KeywordKind = "success"
	KeywordFailure KeywordKind = "failure"
	KeywordAlert   KeywordKind = "alert"
)

// KeywordRule fires when any of Patterns matches a line of subprocess
// output (plain substring match, spec.md §4.7). Matching is case-sensitive
// unless CaseInsensitive is set.
type KeywordRule struct {
	Patterns         []string    `json:"patterns"`
	Kind             KeywordKind `json:"kind"`
	Message          string      `json:"message,omitempty"`
	CaseInsensitive  bool        `json:"case_insensitive,omitempty"`
	AbortOnHit       bool        `json:"abort_on_hit,omitempty"` // failure kind only
}

// RetryPolicy configures failure-retry and in-window success-repeat
// behavior (spec.md §3, §4.8).
type RetryPolicy struct {
	MaxFailureRetries        int `json:"max_failure_retries"`
	FailureRetryDelaySeconds int `json:"failure_retry_delay_seconds"`

	SuccessRepeatWithinWindow bool `json:"success_repeat_within_window"`
	SuccessRepeatDelaySeconds int  `json:"success_repeat_delay_seconds"`
	SuccessRepeatMax          int  `json:"success_repeat_max"`
}

// NotifyFlags controls which state transitions dispatch a notification.
type NotifyFlags struct {
	OnStart   bool `json:"notify_on_start"`
	OnSuccess bool `json:"notify_on_success"`
	OnFailure bool `json:"notify_on_failure"`
	OnKeyword bool `json:"notify_on_keyword"`
}

// EmulatorTask describes optional device pre-steps synthesized into a
// prelude ahead of the job's main command (spec.md §4.6). A nil
// EmulatorTask means no prelude.
type EmulatorTask struct {
	DeviceID         string `json:"device_id"`
	TargetResolution string `json:"target_resolution,omitempty"`
	AppPackage       string `json:"app_package,omitempty"`
}

// MinPriority and MaxPriority bound Job.Priority; lower numbers run
// first, so MinPriority is the highest-priority value (spec.md §3, §4.10
// "priority boosted to the minimum-numerical (highest) priority").
const (
	MinPriority = -100
	MaxPriority = 100
)

// Job is the declarative, reloadable definition of a runnable task.
type Job struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Enabled       bool    `json:"enabled"`
	Priority      int     `json:"priority"` // lower = higher priority, -100..100
	ResourceGroup string  `json:"resource_group"`
	Trigger       Trigger `json:"trigger"`

	Command          []string          `json:"command,omitempty"`
	Steps            []Step            `json:"steps,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	Emulator         *EmulatorTask     `json:"emulator_task,omitempty"`

	Retry    RetryPolicy   `json:"retry"`
	Keywords []KeywordRule `json:"keywords,omitempty"`
	Notify   NotifyFlags   `json:"notify"`

	NextFire *time.Time `json:"next_fire,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants spec.md §3 lists for a Job against a
// set of known resource-group names.
func (j *Job) Validate(knownGroups map[string]bool) error {
	if j.ID == "" {
		return &ConfigError{Reason: "job id must not be empty"}
	}
	if !knownGroups[j.ResourceGroup] {
		return &ConfigError{Reason: "unknown resource_group: " + j.ResourceGroup}
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return &ConfigError{Reason: "priority out of range -100..100"}
	}
	if j.Retry.MaxFailureRetries < 0 {
		return &ConfigError{Reason: "max_failure_retries must be >= 0"}
	}
	if j.Retry.SuccessRepeatWithinWindow && !j.Trigger.WindowBearing() {
		return &ConfigError{Reason: "success_repeat_within_window requires a window-bearing trigger"}
	}
	return nil
}

// ConfigError marks a rejected job-catalog publish (spec.md §7).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }
