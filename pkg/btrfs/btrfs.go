// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package btrfs wraps the target filesystem's formatting, subvolume,
// snapshot and balance tools.
package btrfs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

var (
	// ErrFormatFailed is returned when the formatter itself reports an
	// error.
	ErrFormatFailed = errors.New("format failed")
	// ErrFormatVerification is returned when the freshly formatted
	// partition does not probe as btrfs.
	ErrFormatVerification = errors.New("format verification failed")
	// ErrSubvolumeCreate is returned when a subvolume cannot be created,
	// including the case where it already exists. An existing subvolume
	// is never silently accepted.
	ErrSubvolumeCreate = errors.New("subvolume create failed")
)

// Mkfs formats dev, overwriting any residual signature.
func Mkfs(ctx context.Context, r executil.Runner, dev string) error {
	if _, err := r.Run(ctx, "mkfs.btrfs", "-f", dev); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrFormatFailed, dev, err)
	}
	return nil
}

// SubvolumeCreate creates one named subvolume at path.
func SubvolumeCreate(ctx context.Context, r executil.Runner, path string) error {
	if _, err := r.Run(ctx, "btrfs", "subvolume", "create", path); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSubvolumeCreate, path, err)
	}
	return nil
}

// SubvolumeDelete removes a subvolume.
func SubvolumeDelete(ctx context.Context, r executil.Runner, path string) error {
	if _, err := r.Run(ctx, "btrfs", "subvolume", "delete", path); err != nil {
		return fmt.Errorf("failed to delete subvolume %s: %w", path, err)
	}
	return nil
}

// SubvolumeExists reports whether path is a btrfs subvolume.
func SubvolumeExists(ctx context.Context, r executil.Runner, path string) bool {
	_, err := r.Run(ctx, "btrfs", "subvolume", "show", path)
	return err == nil
}

// Snapshot creates a writable snapshot of src at dst.
func Snapshot(ctx context.Context, r executil.Runner, src, dst string) error {
	if _, err := r.Run(ctx, "btrfs", "subvolume", "snapshot", src, dst); err != nil {
		return fmt.Errorf("failed to snapshot %s to %s: %w", src, dst, err)
	}
	return nil
}

// Balance reclaims blocks whose usage is at or below usagePercent.
func Balance(ctx context.Context, r executil.Runner, mount string, usagePercent int) error {
	arg := "-dusage=" + strconv.Itoa(usagePercent)
	if _, err := r.Run(ctx, "btrfs", "balance", "start", arg, mount); err != nil {
		return fmt.Errorf("failed to balance %s: %w", mount, err)
	}
	return nil
}
