package steps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/scheduler/internal/models"
)

type fakeAdb struct {
	resolution string
	woke       bool
	started    string
}

func (f *fakeAdb) Wake(context.Context, string) error { f.woke = true; return nil }
func (f *fakeAdb) StartApp(_ context.Context, _ string, pkg string) error {
	f.started = pkg
	return nil
}
func (f *fakeAdb) Resolution(context.Context, string) (string, error) { return f.resolution, nil }

func TestExecute_FileWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	e := New(&fakeAdb{})
	writeParams, _ := json.Marshal(map[string]string{"path": path, "content": "hello"})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepFileWrite, Params: writeParams}, "")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestExecute_FileCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	e := New(&fakeAdb{})
	params, _ := json.Marshal(map[string]string{"src": src, "dst": dst})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepFileCopy, Params: params}, "")
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestExecute_FileDeleteMissing(t *testing.T) {
	e := New(&fakeAdb{})
	params, _ := json.Marshal(map[string]string{"path": "/nonexistent/path/xyz"})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepFileDelete, Params: params}, "")
	assert.Error(t, err)
}

func TestExecute_AdbWake(t *testing.T) {
	adb := &fakeAdb{}
	e := New(adb)
	err := e.Execute(context.Background(), models.Step{Kind: models.StepAdbWake}, "device-1")
	require.NoError(t, err)
	assert.True(t, adb.woke)
}

func TestExecute_AdbStartApp(t *testing.T) {
	adb := &fakeAdb{}
	e := New(adb)
	params, _ := json.Marshal(map[string]string{"app_package": "com.example.app"})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepAdbStartApp, Params: params}, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", adb.started)
}

func TestExecute_ResolutionCheckMismatch(t *testing.T) {
	adb := &fakeAdb{resolution: "1080x1920"}
	e := New(adb)
	params, _ := json.Marshal(map[string]string{"expect": "720x1280"})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepResolutionChk, Params: params}, "device-1")
	assert.Error(t, err)
}

func TestExecute_ResolutionCheckMatch(t *testing.T) {
	adb := &fakeAdb{resolution: "1080x1920"}
	e := New(adb)
	params, _ := json.Marshal(map[string]string{"expect": "1080x1920"})
	err := e.Execute(context.Background(), models.Step{Kind: models.StepResolutionChk, Params: params}, "device-1")
	assert.NoError(t, err)
}

func TestExecute_UnknownKind(t *testing.T) {
	e := New(&fakeAdb{})
	err := e.Execute(context.Background(), models.Step{Kind: "bogus"}, "")
	assert.Error(t, err)
}
