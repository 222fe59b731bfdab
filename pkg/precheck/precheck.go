// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package precheck gates the destructive pipeline: everything here must
// pass before any device is touched, and nothing here mutates state.
package precheck

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/btrfsmig/btrfsmig/pkg/blockdev"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/mountutil"
)

var (
	// ErrPermissionDenied is returned when not running as the super-user.
	ErrPermissionDenied = errors.New("permission denied, super-user privilege required")
	// ErrInsufficientFreeSpace is returned when the source filesystem is
	// too full for the halving policy.
	ErrInsufficientFreeSpace = errors.New("insufficient free space")
	// ErrUsageQueryFailed is returned when usage cannot be determined.
	ErrUsageQueryFailed = errors.New("usage query failed")
)

// statfs is swapped out in tests.
var statfs = unix.Statfs

// RequireRoot fails unless the effective user is root. No side effects.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return ErrPermissionDenied
	}
	return nil
}

// SpaceCheck verifies the source filesystem uses strictly less than
// maxUsedPercent of its capacity. The filesystem is mounted at a scratch
// directory when not already mounted, and that mount is released on
// every path out of this function.
func SpaceCheck(ctx context.Context, r executil.Runner, part blockdev.Partition, maxUsedPercent int) error {
	scratch, err := mountutil.AcquireScratch(ctx, r, part.Path, part.Mountpoint)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUsageQueryFailed, err)
	}
	defer scratch.Release(ctx)

	used, err := usedPercent(scratch.Dir)
	if err != nil {
		return err
	}
	if used >= maxUsedPercent {
		return fmt.Errorf("%w: %s is %d%% used, need < %d%%", ErrInsufficientFreeSpace, part.Path, used, maxUsedPercent)
	}
	return nil
}

func usedPercent(dir string) (int, error) {
	var sf unix.Statfs_t
	if err := statfs(dir, &sf); err != nil {
		return 0, fmt.Errorf("%w: statfs %s: %s", ErrUsageQueryFailed, dir, err)
	}
	if sf.Blocks == 0 {
		return 0, fmt.Errorf("%w: %s reports zero blocks", ErrUsageQueryFailed, dir)
	}
	used := sf.Blocks - sf.Bfree
	// df semantics: capacity available to unprivileged users.
	capacity := used + sf.Bavail
	if capacity == 0 {
		return 0, fmt.Errorf("%w: %s reports zero capacity", ErrUsageQueryFailed, dir)
	}
	return int(used * 100 / capacity), nil
}
