// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package executil runs the external disk tools the pipelines depend on.
// Every invocation is logged at debug level and blocks until the tool
// returns; there is no timeout and no retry.
package executil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes an external command and returns its combined output.
// The concrete implementation shells out; tests substitute a FakeRunner.
type Runner interface {
	// Run executes name with args and returns combined stdout+stderr.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// RunInput is Run with the given string fed to the command's stdin,
	// for tools driven by a line-oriented command protocol.
	RunInput(ctx context.Context, input, name string, args ...string) (string, error)
}

type execRunner struct{}

// New returns the Runner backed by os/exec.
func New() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return run(ctx, "", name, args...)
}

func (execRunner) RunInput(ctx context.Context, input, name string, args ...string) (string, error) {
	return run(ctx, input, name, args...)
}

func run(ctx context.Context, input, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	logrus.Debugf("running %v", cmd.Args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("failed to run %v: %q: %w", cmd.Args, string(out), err)
	}
	return string(out), nil
}

// ExitCode extracts the exit code from an error returned by a Runner.
// Returns -1 when the error does not carry one.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return -1
}

// Available reports whether name can be found in PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
