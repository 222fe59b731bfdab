// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package ext4 wraps the source filesystem's check and resize tools.
package ext4

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/docker/go-units"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// ErrInconsistent is returned when the consistency check does not come
// back clean or repaired. Resizing a dirty filesystem loses data, so the
// caller must treat this as fatal.
var ErrInconsistent = errors.New("filesystem inconsistent")

// Check runs a forced, preen-mode consistency check. Exit code 0 is a
// clean filesystem, 1 means errors were corrected; both satisfy the
// check. Everything else is ErrInconsistent.
func Check(ctx context.Context, r executil.Runner, dev string) error {
	out, err := r.Run(ctx, "e2fsck", "-f", "-p", dev)
	if err != nil {
		if executil.ExitCode(err) == 1 {
			return nil
		}
		return fmt.Errorf("%w: e2fsck on %s: %s", ErrInconsistent, dev, out)
	}
	return nil
}

// TargetGiB computes the shrink target from a partition's byte size:
// half the size, rounded down to whole gibibytes. The halving ratio is a
// fixed policy, not a tunable.
func TargetGiB(sizeBytes int64) int64 {
	return sizeBytes / 2 / units.GiB
}

// Shrink resizes the filesystem's data footprint down to gib gibibytes.
// This must complete before the partition table entry is shrunk; the
// filesystem has to fit inside the new boundary first.
func Shrink(ctx context.Context, r executil.Runner, dev string, gib int64) error {
	if gib <= 0 {
		return fmt.Errorf("refusing to shrink %s to %d GiB", dev, gib)
	}
	if _, err := r.Run(ctx, "resize2fs", dev, strconv.FormatInt(gib, 10)+"G"); err != nil {
		return fmt.Errorf("failed to shrink %s to %dG: %w", dev, gib, err)
	}
	return nil
}
