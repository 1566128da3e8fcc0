package steps

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// ExecAdbClient shells out to an external adb binary, reused from the
// supervisor's process-spawning idiom (os/exec) rather than adding a new
// dependency for what spec.md frames as "the device's shell interface".
type ExecAdbClient struct {
	Binary string // defaults to "adb" if empty
}

func (c ExecAdbClient) binary() string {
	if c.Binary == "" {
		return "adb"
	}
	return c.Binary
}

// Wake sends a keep-awake key event to the device.
func (c ExecAdbClient) Wake(ctx context.Context, deviceID string) error {
	return c.run(ctx, deviceID, "shell", "input", "keyevent", "KEYCODE_WAKEUP")
}

// StartApp launches appPackage's default activity via monkey.
func (c ExecAdbClient) StartApp(ctx context.Context, deviceID, appPackage string) error {
	return c.run(ctx, deviceID, "shell", "monkey", "-p", appPackage, "-c",
		"android.intent.category.LAUNCHER", "1")
}

// Resolution reports the device's current display size as reported by
// `wm size`.
func (c ExecAdbClient) Resolution(ctx context.Context, deviceID string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary(), "-s", deviceID, "shell", "wm", "size")
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "steps: adb wm size")
	}
	return strings.TrimSpace(string(out)), nil
}

func (c ExecAdbClient) run(ctx context.Context, deviceID string, args ...string) error {
	full := append([]string{"-s", deviceID}, args...)
	cmd := exec.CommandContext(ctx, c.binary(), full...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "steps: adb %s: %s", strings.Join(args, " "), string(out))
	}
	return nil
}
