package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrTriggerFailed is wrapped by every script failure
var ErrTriggerFailed = errors.New("trigger failed")

// EnvTriggerDir is set for every script to the directory being run
const EnvTriggerDir = "BOOTSYNCD_TRIGGER_DIR"

const waitDelay = 2 * time.Second

// Runner executes all trigger scripts in a directory
type Runner interface {
	Run(ctx context.Context, dir string) error
}

// ScriptError describes a trigger script that could not run or exited non-zero
type ScriptError struct {
	Script   string
	ExitCode int
	Output   string
	Err      error
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("trigger %s failed", e.Script)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ScriptError) Unwrap() []error {
	return []error{ErrTriggerFailed, e.Err}
}

// ExecRunner implements Runner by running each script as a subprocess
type ExecRunner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewExecRunner creates a runner. A zero timeout lets scripts run to completion.
func NewExecRunner(logger *slog.Logger, timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		logger:  logger,
		timeout: timeout,
	}
}

// Run executes every executable file in dir in lexical order and stops at
// the first failure. A missing directory has nothing to run.
func (r *ExecRunner) Run(ctx context.Context, dir string) error {
	scripts, err := Discover(dir)
	if err != nil {
		return err
	}

	for _, script := range scripts {
		r.logger.Debug("running trigger", "script", script)
		if err := r.runScript(ctx, dir, script); err != nil {
			return err
		}
	}

	return nil
}

// runScript runs a single script and folds its output into the error
func (r *ExecRunner) runScript(ctx context.Context, dir, script string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), EnvTriggerDir+"="+dir)
	// Grandchildren holding the output pipe must not outlive a cancelled script
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err == nil {
		if len(output) > 0 {
			r.logger.Debug("trigger output", "script", script, "output", strings.TrimSpace(string(output)))
		}
		return nil
	}

	scriptErr := &ScriptError{
		Script: script,
		Output: strings.TrimSpace(string(output)),
		Err:    err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		scriptErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		scriptErr.Err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return scriptErr
}

// Discover returns the executable regular files in dir sorted by name.
// Hidden files and non-executable files are skipped.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read trigger directory %s: %w", dir, err)
	}

	var scripts []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks so linked scripts are run
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat trigger %s: %w", path, err)
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
			continue
		}
		scripts = append(scripts, path)
	}

	sort.Strings(scripts)
	return scripts, nil
}
