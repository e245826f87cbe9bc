// Package executor runs external scripts on behalf of role workers.
package executor

import (
	"context"
	"time"
)

// Result is the outcome of one external process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the process exited zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// ScriptRunner runs a script to completion.
type ScriptRunner interface {
	// Run executes script and waits for it. A non-zero exit is reported in
	// Result, not as an error; errors mean the process could not run.
	Run(ctx context.Context, script string) (Result, error)
}

// Checker validates a script without running it.
type Checker interface {
	Check(ctx context.Context, script string) (Result, error)
}
