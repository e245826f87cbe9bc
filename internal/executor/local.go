package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultInterpreter is used when LocalRunner is given no interpreter.
const DefaultInterpreter = "python3"

// LocalRunner runs scripts as local OS processes through an interpreter.
type LocalRunner struct {
	interpreter string
	logger      *slog.Logger
}

// NewLocalRunner creates a LocalRunner. If interpreter is empty,
// DefaultInterpreter is used.
func NewLocalRunner(interpreter string, logger *slog.Logger) *LocalRunner {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &LocalRunner{
		interpreter: interpreter,
		logger:      logger.With("component", "local-runner"),
	}
}

// Interpreter returns the program scripts are run with.
func (r *LocalRunner) Interpreter() string { return r.interpreter }

// Run executes `<interpreter> <script>` in the script's directory.
func (r *LocalRunner) Run(ctx context.Context, script string) (Result, error) {
	abs, err := filepath.Abs(script)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("resolve %s: %w", script, err)
	}
	res, err := r.exec(ctx, filepath.Dir(abs), abs)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", script, err)
	}
	r.logger.Debug("script finished",
		"script", script,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)
	return res, nil
}

// Check compiles script with `<interpreter> -m py_compile` and reports the
// result. A syntax error shows up as a non-zero exit code.
func (r *LocalRunner) Check(ctx context.Context, script string) (Result, error) {
	res, err := r.exec(ctx, "", "-m", "py_compile", script)
	if err != nil {
		return res, fmt.Errorf("check %s: %w", script, err)
	}
	return res, nil
}

func (r *LocalRunner) exec(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, r.interpreter, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()

	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	switch err := runErr.(type) {
	case nil:
	case *exec.ExitError:
		res.ExitCode = err.ExitCode()
	default:
		// Non-exit errors (e.g. interpreter not found) are returned directly.
		res.ExitCode = -1
		return res, runErr
	}
	return res, nil
}
