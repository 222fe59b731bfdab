// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package ext4

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/go-units"
	"gotest.tools/v3/assert"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

func TestTargetGiB(t *testing.T) {
	// 100 GB partition: half is 50 GB, floored to whole GiB.
	assert.Equal(t, int64(46), TargetGiB(100*units.GB))
	// Exact power-of-two sizes halve cleanly.
	assert.Equal(t, int64(50), TargetGiB(100*units.GiB))
	assert.Equal(t, int64(0), TargetGiB(units.GiB))
}

func TestTargetGiBNeverExceedsHalf(t *testing.T) {
	for _, size := range []int64{3 * units.GiB, 100 * units.GB, 512 * units.GiB, 999999999999} {
		target := TargetGiB(size) * units.GiB
		assert.Check(t, target <= size/2, "target %d for size %d", target, size)
	}
}

func TestCheckAcceptsRepaired(t *testing.T) {
	r := executil.NewFakeRunner()
	r.Responses["e2fsck"] = executil.FakeResponse{
		Output: "/dev/sda3: 12/655360 files (0.0% non-contiguous), 101234/2621440 blocks",
		Err:    &executil.CodedError{Code: 1, Msg: "exit status 1"},
	}
	assert.NilError(t, Check(context.Background(), r, "/dev/sda3"))
}

func TestCheckFatalOnUncorrected(t *testing.T) {
	r := executil.NewFakeRunner()
	r.Responses["e2fsck"] = executil.FakeResponse{
		Output: "/dev/sda3: UNEXPECTED INCONSISTENCY; RUN fsck MANUALLY.",
		Err:    &executil.CodedError{Code: 4, Msg: "exit status 4"},
	}
	err := Check(context.Background(), r, "/dev/sda3")
	assert.Check(t, errors.Is(err, ErrInconsistent))
}

func TestShrink(t *testing.T) {
	r := executil.NewFakeRunner()
	assert.NilError(t, Shrink(context.Background(), r, "/dev/sda3", 50))
	assert.Check(t, r.CalledWith("resize2fs /dev/sda3 50G"))

	err := Shrink(context.Background(), r, "/dev/sda3", 0)
	assert.ErrorContains(t, err, "refusing to shrink")
}
