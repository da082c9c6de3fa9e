// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"deploywatch/pkg/cmdutil"
)

// Call is one recorded command invocation.
type Call struct {
	Dir            string
	RequireSuccess bool
	Args           []string
}

// String returns the command line of the call.
func (c Call) String() string {
	return strings.Join(c.Args, " ")
}

// HasPrefix reports whether the call's arguments start with prefix.
func (c Call) HasPrefix(prefix ...string) bool {
	if len(prefix) > len(c.Args) {
		return false
	}
	for i, p := range prefix {
		if c.Args[i] != p {
			return false
		}
	}
	return true
}

// FakeRunner is a spy cmdutil.Runner. Every call is recorded; Handler, when
// set, decides the output. Like the real runner, a failure is swallowed for
// calls that do not require success.
type FakeRunner struct {
	Handler func(call Call) (string, error)

	mu    sync.Mutex
	calls []Call
}

var _ cmdutil.Runner = (*FakeRunner)(nil)

// Run implements cmdutil.Runner.
func (f *FakeRunner) Run(ctx context.Context, dir string, requireSuccess bool, args ...string) (string, error) {
	call := Call{Dir: dir, RequireSuccess: requireSuccess, Args: append([]string(nil), args...)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.Handler
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if handler == nil {
		return "", nil
	}

	out, err := handler(call)
	if err != nil && !requireSuccess {
		return out, nil
	}
	return out, err
}

// Calls returns a copy of every recorded call.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Matching returns the recorded calls whose arguments start with prefix.
func (f *FakeRunner) Matching(prefix ...string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.HasPrefix(prefix...) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many recorded calls start with prefix.
func (f *FakeRunner) Count(prefix ...string) int {
	return len(f.Matching(prefix...))
}

// Reset forgets every recorded call.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Fail returns the error a real runner reports for a non-zero exit.
func Fail(call Call, exitCode int, output string) error {
	return &cmdutil.CommandFailedError{
		ExitCode: exitCode,
		Command:  cmdutil.FormatCommand(call.Args),
		Output:   output,
	}
}
