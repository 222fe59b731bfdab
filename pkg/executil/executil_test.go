// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package executil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, -1, ExitCode(errors.New("plain")))
	assert.Equal(t, -1, ExitCode(nil))

	coded := fmt.Errorf("wrapped: %w", &CodedError{Code: 4, Msg: "exit status 4"})
	assert.Equal(t, 4, ExitCode(coded))
}

func TestRunCapturesOutput(t *testing.T) {
	r := New()
	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	assert.NilError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRunInputFeedsStdin(t *testing.T) {
	r := New()
	out, err := r.RunInput(context.Background(), "a\nb\n", "sh", "-c", "cat")
	assert.NilError(t, err)
	assert.Equal(t, "a\nb\n", out)
}

func TestRunErrorCarriesExitCode(t *testing.T) {
	r := New()
	_, err := r.Run(context.Background(), "sh", "-c", "exit 3")
	assert.Check(t, err != nil)
	assert.Equal(t, 3, ExitCode(err))
}

func TestFakeRunnerLongestPrefixWins(t *testing.T) {
	f := NewFakeRunner()
	f.Responses["lsblk"] = FakeResponse{Output: "short"}
	f.Responses["lsblk --json"] = FakeResponse{Output: "long"}

	out, err := f.Run(context.Background(), "lsblk", "--json", "/dev/sda")
	assert.NilError(t, err)
	assert.Equal(t, "long", out)
}
