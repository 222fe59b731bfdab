// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountutil mounts and unmounts filesystems through the external
// mount tools, so that option strings behave exactly as they will in the
// persisted mount table.
package mountutil

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// Mount mounts src at target, creating target first. opts may be empty.
func Mount(ctx context.Context, r executil.Runner, src, target, opts string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", target, err)
	}
	args := []string{}
	if opts != "" {
		args = append(args, "-o", opts)
	}
	args = append(args, src, target)
	if _, err := r.Run(ctx, "mount", args...); err != nil {
		return fmt.Errorf("failed to mount %s at %s: %w", src, target, err)
	}
	return nil
}

// Unmount unmounts target.
func Unmount(ctx context.Context, r executil.Runner, target string) error {
	if _, err := r.Run(ctx, "umount", target); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", target, err)
	}
	return nil
}

// Scratch is a temporary mount used for an inspection that must restore
// the pre-existing mount state exactly: Release unmounts if and only if
// Acquire performed the mount, on success and error paths alike.
type Scratch struct {
	// Dir is where the filesystem is reachable for the inspection.
	Dir string

	r       executil.Runner
	tmp     string
	mounted bool
}

// AcquireScratch makes dev readable at some directory. When dev is
// already mounted, its existing mount point is reused and nothing is
// touched; otherwise dev is mounted read-only at a fresh temporary
// directory.
func AcquireScratch(ctx context.Context, r executil.Runner, dev, existingMountpoint string) (*Scratch, error) {
	if existingMountpoint != "" {
		return &Scratch{Dir: existingMountpoint, r: r}, nil
	}
	tmp, err := os.MkdirTemp("", "btrfsmig-scratch-")
	if err != nil {
		return nil, err
	}
	if err := Mount(ctx, r, dev, tmp, "ro"); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return &Scratch{Dir: tmp, r: r, tmp: tmp, mounted: true}, nil
}

// Release restores the pre-acquire mount state.
func (s *Scratch) Release(ctx context.Context) {
	if !s.mounted {
		return
	}
	if err := Unmount(ctx, s.r, s.Dir); err != nil {
		logrus.WithError(err).Warnf("leaking scratch mount at %s", s.Dir)
		return
	}
	_ = os.Remove(s.tmp)
	s.mounted = false
}
