// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package executil

import (
	"context"
	"fmt"
	"strings"
)

// CodedError is an error carrying an exit code, used by FakeRunner to
// imitate tool failures without spawning a process.
type CodedError struct {
	Code int
	Msg  string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s (exit status %d)", e.Msg, e.Code)
}

// FakeResponse is the scripted result for one command prefix.
type FakeResponse struct {
	Output string
	Err    error
}

// FakeRunner is a Runner for tests. Responses are matched by the longest
// key that is a prefix of the space-joined command line. Unmatched
// commands succeed with empty output.
type FakeRunner struct {
	Responses map[string]FakeResponse
	// Calls records every command line, in invocation order.
	Calls []string
	// Inputs records the stdin script of each RunInput call, keyed by
	// the command line it was fed to.
	Inputs map[string]string
	// OnCall, when set, observes every dispatched command line. Tests
	// use it to imitate a tool's filesystem side effects.
	OnCall func(line string)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses: map[string]FakeResponse{},
		Inputs:    map[string]string{},
	}
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return f.dispatch(name, args)
}

func (f *FakeRunner) RunInput(_ context.Context, input, name string, args ...string) (string, error) {
	line := commandLine(name, args)
	f.Inputs[line] = input
	return f.dispatch(name, args)
}

func (f *FakeRunner) dispatch(name string, args []string) (string, error) {
	line := commandLine(name, args)
	f.Calls = append(f.Calls, line)
	if f.OnCall != nil {
		f.OnCall(line)
	}
	best := ""
	for k := range f.Responses {
		if strings.HasPrefix(line, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return "", nil
	}
	resp := f.Responses[best]
	if resp.Err != nil {
		return resp.Output, fmt.Errorf("failed to run %q: %w", line, resp.Err)
	}
	return resp.Output, nil
}

// CalledWith reports whether any recorded call starts with prefix.
func (f *FakeRunner) CalledWith(prefix string) bool {
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
