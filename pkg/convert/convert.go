// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package convert is the migration orchestrator: a linear, checkpointed
// pipeline that shrinks a live ext4 root, reshapes the partition table,
// builds a btrfs filesystem in the reclaimed space, migrates the data
// and rewires boot. Steps run strictly in order, are never retried, and
// any failure halts the whole pipeline for operator intervention.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/blockdev"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/ext4"
	"github.com/btrfsmig/btrfsmig/pkg/journal"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
	"github.com/btrfsmig/btrfsmig/pkg/precheck"
)

var (
	// ErrStepFailed marks a destructive step failure; the wrapped error
	// names the step.
	ErrStepFailed = errors.New("step failed")
	// ErrPostResizeCorruption is returned when the consistency check
	// fails after the shrink. The pipeline must not lay a new partition
	// over potentially corrupt boundaries.
	ErrPostResizeCorruption = errors.New("filesystem corrupt after resize")
	// ErrCopyFailed is returned when the data migration copy fails. Both
	// trees are left mounted for inspection.
	ErrCopyFailed = errors.New("data copy failed")
	// ErrInterrupted reports a journal from an unfinished previous run.
	ErrInterrupted = errors.New("previous conversion did not complete")
)

// Step identifiers, journaled on completion.
const (
	StepCheckSource  = "check-source-filesystem"
	StepShrink       = "shrink-filesystem"
	StepRewriteTable = "rewrite-partition-table"
	StepPostCheck    = "post-shrink-check"
	StepCreateTarget = "create-target-partition"
	StepFormat       = "format-target"
	StepSubvolumes   = "create-subvolumes"
	StepCopy         = "copy-data"
	StepFstab        = "write-fstab"
	StepBootloader   = "rewrite-bootloader"
	StepInitramfs    = "regenerate-initramfs"
	StepComplete     = "complete"
)

// Mount roots used during the migration.
const (
	NewRoot = "/mnt/btrfsmig/newroot"
	OldRoot = "/mnt/btrfsmig/oldroot"
)

// Options configures one pipeline invocation.
type Options struct {
	// Resume continues from the checkpoint journal of an interrupted
	// run. Geometry is still re-resolved fresh; only completed steps are
	// skipped.
	Resume bool
	// AssumeYes skips the point-of-no-return confirmation.
	AssumeYes bool
}

// Pipeline owns the migration plan for the lifetime of one invocation.
type Pipeline struct {
	r    executil.Runner
	cfg  *policy.Config
	j    *journal.Journal
	opts Options

	device string

	// Plan state, threaded through the steps and always derived fresh
	// from the live system, never from a previous run.
	src     blockdev.Partition
	boot    blockdev.Partition
	swap    blockdev.Partition
	newPart blockdev.Partition
	tgtGiB  int64
}

func New(r executil.Runner, cfg *policy.Config, opts Options) *Pipeline {
	return &Pipeline{r: r, cfg: cfg, opts: opts}
}

// Run converts the root partition at devicePath. Any error halts the
// pipeline; there is no automatic rollback.
func (p *Pipeline) Run(ctx context.Context, devicePath string) error {
	if err := precheck.RequireRoot(); err != nil {
		return err
	}
	p.device = devicePath

	j, err := journal.Open(p.cfg.JournalFile)
	if err != nil {
		return err
	}
	p.j = j
	if !j.Empty() {
		switch {
		case j.Done(StepComplete):
			if err := j.Rotate(); err != nil {
				return err
			}
		case !p.opts.Resume:
			return fmt.Errorf("%w: inspect it with 'btrfsmig journal' or rerun with --resume", ErrInterrupted)
		}
	}

	if err := p.resolvePlan(ctx); err != nil {
		return err
	}
	if err := p.spaceGate(ctx); err != nil {
		return err
	}
	if err := p.confirm(); err != nil {
		return err
	}

	if err := p.step(StepCheckSource, func() error {
		return ext4.Check(ctx, p.r, p.src.Path)
	}); err != nil {
		return err
	}

	p.tgtGiB = ext4.TargetGiB(p.src.SizeBytes)
	logrus.Infof("shrink target: %s (half of %s, whole GiB)",
		units.BytesSize(float64(p.tgtGiB)*units.GiB), units.BytesSize(float64(p.src.SizeBytes)))

	if err := p.step(StepShrink, func() error {
		return ext4.Shrink(ctx, p.r, p.src.Path, p.tgtGiB)
	}); err != nil {
		return err
	}

	if err := p.step(StepRewriteTable, func() error {
		return p.rewriteTable(ctx)
	}); err != nil {
		return err
	}
	// The table changed on disk; refresh the plan's view of it before
	// anything reads boundaries again.
	if err := p.refreshSource(ctx); err != nil {
		return err
	}

	if err := p.step(StepPostCheck, func() error {
		if err := ext4.Check(ctx, p.r, p.src.Path); err != nil {
			return fmt.Errorf("%w: %s", ErrPostResizeCorruption, err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := p.step(StepCreateTarget, func() error {
		return p.createTarget(ctx)
	}); err != nil {
		return err
	}
	if err := p.resolveTarget(ctx); err != nil {
		return err
	}

	if err := p.step(StepFormat, func() error {
		return p.format(ctx)
	}); err != nil {
		return err
	}

	if err := p.step(StepSubvolumes, func() error {
		return p.createSubvolumes(ctx)
	}); err != nil {
		return err
	}

	// Mount assembly is re-executed on every run; later steps need the
	// trees mounted regardless of what the journal says.
	if err := p.assembleMounts(ctx); err != nil {
		return err
	}

	if err := p.step(StepCopy, func() error {
		return p.copyData(ctx)
	}); err != nil {
		return err
	}

	if err := p.step(StepFstab, func() error {
		return p.writeFstab(ctx)
	}); err != nil {
		return err
	}

	if err := p.step(StepBootloader, func() error {
		return p.rewriteBootloader(ctx)
	}); err != nil {
		return err
	}

	if err := p.step(StepInitramfs, func() error {
		if err := p.regenerateInitramfs(ctx); err != nil {
			return fmt.Errorf("%w; the new root is not bootable until the initramfs is regenerated manually", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := p.j.Record(StepComplete, p.device); err != nil {
		return err
	}
	logrus.Infof("conversion complete; the new root is at %s, reboot to select it", p.newPart.Path)
	return nil
}

// spaceGate enforces the usage ceiling before the shrink. Halving the
// filesystem roughly doubles its usage percentage, so once the shrink is
// journaled the pre-shrink ceiling no longer applies and a resumed run
// must not be rejected by it.
func (p *Pipeline) spaceGate(ctx context.Context) error {
	if p.j.Done(StepShrink) {
		logrus.Info("filesystem already shrunk, skipping the free-space check")
		return nil
	}
	return precheck.SpaceCheck(ctx, p.r, p.src, p.cfg.MaxUsedPercent)
}

func (p *Pipeline) step(id string, fn func() error) error {
	if p.j.Done(id) {
		logrus.Infof("[%s] already completed, skipping", id)
		return nil
	}
	logrus.Infof("[%s]", id)
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStepFailed, id, err)
	}
	return p.j.Record(id, p.device)
}

func (p *Pipeline) confirm() error {
	if p.opts.AssumeYes {
		return nil
	}
	msg := fmt.Sprintf("About to irreversibly shrink %s and rewrite the partition table of %s. Continue?",
		p.src.Path, p.src.Disk)
	yes := false
	if err := survey.AskOne(&survey.Confirm{Message: msg}, &yes); err != nil {
		return err
	}
	if !yes {
		return errors.New("aborted by operator")
	}
	return nil
}
