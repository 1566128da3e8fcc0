// Package steps executes the tagged payload steps a job may carry in
// addition to, or instead of, a single subprocess command (spec.md §9
// design note). Each models.StepKind gets one executor function; Params
// is decoded into the shape that kind expects.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/jobforge/scheduler/internal/models"
)

// AdbClient abstracts the device shell interface emulator-task steps and
// prelude synthesis need (spec.md §4.6 "application launch via the
// device's shell interface"). A thin os/exec wrapper invoking an external
// adb binary implements this in production; tests supply a fake.
type AdbClient interface {
	Wake(ctx context.Context, deviceID string) error
	StartApp(ctx context.Context, deviceID, appPackage string) error
	Resolution(ctx context.Context, deviceID string) (string, error)
}

// Executor runs one Step at a time against a shared HTTP client and
// device client.
type Executor struct {
	HTTP *resty.Client
	Adb  AdbClient
}

// New builds an Executor with a fresh resty client.
func New(adb AdbClient) *Executor {
	return &Executor{HTTP: resty.New(), Adb: adb}
}

// Execute runs one step. A non-nil error means the step failed; the
// caller decides whether ContinueOnError papers over that.
func (e *Executor) Execute(ctx context.Context, step models.Step, deviceID string) error {
	switch step.Kind {
	case models.StepCommandExec:
		return errors.New("steps: command-exec is handled by the subprocess supervisor, not this executor")
	case models.StepFileWrite:
		return e.fileWrite(step.Params)
	case models.StepFileRead:
		return e.fileRead(step.Params)
	case models.StepFileCopy:
		return e.fileCopy(step.Params)
	case models.StepFileDelete:
		return e.fileDelete(step.Params)
	case models.StepHTTPGet:
		return e.httpGet(ctx, step.Params)
	case models.StepHTTPPost:
		return e.httpPost(ctx, step.Params)
	case models.StepWebhookSend:
		return e.webhookSend(ctx, step.Params)
	case models.StepAdbWake:
		return e.Adb.Wake(ctx, deviceID)
	case models.StepAdbStartApp:
		return e.adbStartApp(ctx, step.Params, deviceID)
	case models.StepSleep:
		return e.sleep(ctx, step.Params)
	case models.StepResolutionChk:
		return e.resolutionCheck(ctx, step.Params, deviceID)
	default:
		return fmt.Errorf("steps: unknown kind %q", step.Kind)
	}
}

type fileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    uint32 `json:"mode,omitempty"`
}

func (e *Executor) fileWrite(raw json.RawMessage) error {
	var p fileWriteParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode file-write params")
	}
	mode := os.FileMode(0o644)
	if p.Mode != 0 {
		mode = os.FileMode(p.Mode)
	}
	if err := os.WriteFile(p.Path, []byte(p.Content), mode); err != nil {
		return errors.Wrap(err, "steps: file-write")
	}
	return nil
}

type fileReadParams struct {
	Path string `json:"path"`
}

func (e *Executor) fileRead(raw json.RawMessage) error {
	var p fileReadParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode file-read params")
	}
	if _, err := os.ReadFile(p.Path); err != nil {
		return errors.Wrap(err, "steps: file-read")
	}
	return nil
}

type fileCopyParams struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (e *Executor) fileCopy(raw json.RawMessage) error {
	var p fileCopyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode file-copy params")
	}
	src, err := os.Open(p.Src)
	if err != nil {
		return errors.Wrap(err, "steps: file-copy open source")
	}
	defer src.Close()

	dst, err := os.Create(p.Dst)
	if err != nil {
		return errors.Wrap(err, "steps: file-copy create destination")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, "steps: file-copy")
	}
	return nil
}

type fileDeleteParams struct {
	Path string `json:"path"`
}

func (e *Executor) fileDelete(raw json.RawMessage) error {
	var p fileDeleteParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode file-delete params")
	}
	if err := os.Remove(p.Path); err != nil {
		return errors.Wrap(err, "steps: file-delete")
	}
	return nil
}

type httpParams struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

func (e *Executor) httpGet(ctx context.Context, raw json.RawMessage) error {
	var p httpParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode http-get params")
	}
	resp, err := e.HTTP.R().SetContext(ctx).SetHeaders(p.Headers).Get(p.URL)
	return checkHTTP(resp, err, "http-get")
}

func (e *Executor) httpPost(ctx context.Context, raw json.RawMessage) error {
	var p httpParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode http-post params")
	}
	resp, err := e.HTTP.R().SetContext(ctx).SetHeaders(p.Headers).SetBody(p.Body).Post(p.URL)
	return checkHTTP(resp, err, "http-post")
}

func (e *Executor) webhookSend(ctx context.Context, raw json.RawMessage) error {
	var p httpParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode webhook-send params")
	}
	resp, err := e.HTTP.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(p.Headers).
		SetBody(p.Body).
		Post(p.URL)
	return checkHTTP(resp, err, "webhook-send")
}

func checkHTTP(resp *resty.Response, err error, step string) error {
	if err != nil {
		return errors.Wrapf(err, "steps: %s request", step)
	}
	if resp.IsError() {
		return errors.Errorf("steps: %s returned %s", step, resp.Status())
	}
	return nil
}

type adbStartAppParams struct {
	AppPackage string `json:"app_package"`
}

func (e *Executor) adbStartApp(ctx context.Context, raw json.RawMessage, deviceID string) error {
	var p adbStartAppParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode adb-start-app params")
	}
	return e.Adb.StartApp(ctx, deviceID, p.AppPackage)
}

type sleepParams struct {
	Seconds int `json:"seconds"`
}

func (e *Executor) sleep(ctx context.Context, raw json.RawMessage) error {
	var p sleepParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode sleep params")
	}
	timer := time.NewTimer(time.Duration(p.Seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type resolutionCheckParams struct {
	Expect string `json:"expect"`
}

func (e *Executor) resolutionCheck(ctx context.Context, raw json.RawMessage, deviceID string) error {
	var p resolutionCheckParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "steps: decode resolution-check params")
	}
	actual, err := e.Adb.Resolution(ctx, deviceID)
	if err != nil {
		return errors.Wrap(err, "steps: resolution-check query")
	}
	if p.Expect != "" && actual != p.Expect {
		return errors.Errorf("steps: resolution mismatch: want %q, got %q", p.Expect, actual)
	}
	return nil
}
