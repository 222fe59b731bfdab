// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package fdisk drives the interactive partition table editor through
// its line-oriented command protocol. A Session collects typed
// operations and renders them into the stdin script fdisk expects, so
// the destructive command sequence can be inspected (and tested) before
// anything touches the disk.
package fdisk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// LinuxType is the plain Linux filesystem partition type code.
const LinuxType = "83"

// ErrUnsupportedLabel is returned for disks whose partition table label
// the scripted dialog cannot drive. The session's answers (the primary
// prompt, MBR type codes) only match the prompts of a dos label; on any
// other label they would desynchronize mid-write.
var ErrUnsupportedLabel = errors.New("unsupported partition table label")

// Session is a queued sequence of fdisk commands against one disk.
// Nothing is written until Apply; Write must be the last queued command.
type Session struct {
	disk  string
	lines []string
}

func NewSession(disk string) *Session {
	return &Session{disk: disk}
}

// Delete queues deletion of the table entry for the given partition
// number. The entry's start sector is lost once this runs; callers must
// have read it back beforehand.
func (s *Session) Delete(index int) *Session {
	s.lines = append(s.lines, "d", strconv.Itoa(index))
	return s
}

// CreatePrimary queues creation of a primary partition. endSector <= 0
// accepts fdisk's default, extending to the end of the device.
func (s *Session) CreatePrimary(index int, startSector, endSector int64) *Session {
	s.lines = append(s.lines, "n", "p", strconv.Itoa(index), strconv.FormatInt(startSector, 10))
	if endSector > 0 {
		s.lines = append(s.lines, strconv.FormatInt(endSector, 10))
	} else {
		s.lines = append(s.lines, "")
	}
	return s
}

// SetType queues a partition type change.
func (s *Session) SetType(index int, code string) *Session {
	s.lines = append(s.lines, "t", strconv.Itoa(index), code)
	return s
}

// Write queues writing the table to disk.
func (s *Session) Write() *Session {
	s.lines = append(s.lines, "w")
	return s
}

// Script renders the queued commands as fdisk stdin input.
func (s *Session) Script() string {
	return strings.Join(s.lines, "\n") + "\n"
}

// Apply feeds the script to fdisk. When the disk is in use, fdisk writes
// the table but exits nonzero because the kernel refuses to reread it;
// that case is reported as success so the caller can re-probe explicitly.
// Any other failure is fatal.
func (s *Session) Apply(ctx context.Context, r executil.Runner) error {
	if len(s.lines) == 0 || s.lines[len(s.lines)-1] != "w" {
		return fmt.Errorf("fdisk session for %s does not end with a write", s.disk)
	}
	out, err := r.RunInput(ctx, s.Script(), "fdisk", "--wipe-partitions", "never", s.disk)
	if err != nil {
		if strings.Contains(out, "Re-reading the partition table failed") {
			logrus.Warnf("kernel did not reread the table of %s; re-probe required", s.disk)
			return nil
		}
		return fmt.Errorf("fdisk failed on %s: %w", s.disk, err)
	}
	return nil
}

// Reprobe forces the kernel to reread a disk's partition table. Must run
// after every table write, before any later geometry query, or those
// queries return stale boundaries.
func Reprobe(ctx context.Context, r executil.Runner, disk string) error {
	if _, err := r.Run(ctx, "partprobe", disk); err != nil {
		return fmt.Errorf("failed to re-probe %s: %w", disk, err)
	}
	return nil
}
