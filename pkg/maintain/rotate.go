// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package maintain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/btrfs"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/fstab"
)

// Snapshot roles. At any time exactly one role is bootable as the live
// root; the others are fallbacks.
const (
	RolePrevious = "previous"
	RoleCurrent  = "current"
	RoleStaged   = "staged"
)

// bootImages are the kernel/initramfs pairs duplicated under
// role-qualified names during rotation.
var bootImages = []string{"vmlinuz-linux", "initramfs-linux.img"}

// Rotator maintains the bounded snapshot history.
type Rotator struct {
	r executil.Runner
	// Dir is where the role subvolumes live, normally /.snapshots.
	Dir string
	// BootDir is where kernel/initramfs images live, normally /boot.
	BootDir string
}

func NewRotator(r executil.Runner, dir, bootDir string) *Rotator {
	return &Rotator{r: r, Dir: dir, BootDir: bootDir}
}

// Rotate runs one cycle with snapshot-first ordering: the live root is
// snapshotted into STAGED before anything is deleted, so an interruption
// at any point leaves at least one bootable snapshot. Then PREVIOUS is
// dropped, CURRENT becomes PREVIOUS, and STAGED becomes CURRENT. Each
// renamed snapshot's internal mount table is rewritten to mount the
// snapshot itself as root.
func (ro *Rotator) Rotate(ctx context.Context) error {
	staged := filepath.Join(ro.Dir, RoleStaged)
	current := filepath.Join(ro.Dir, RoleCurrent)
	previous := filepath.Join(ro.Dir, RolePrevious)

	if btrfs.SubvolumeExists(ctx, ro.r, staged) {
		logrus.Warnf("removing staged snapshot left by an interrupted rotation: %s", staged)
		if err := btrfs.SubvolumeDelete(ctx, ro.r, staged); err != nil {
			return err
		}
	}
	if err := btrfs.Snapshot(ctx, ro.r, "/", staged); err != nil {
		return err
	}
	if err := fstab.RewriteRootSubvolFile(filepath.Join(staged, "etc/fstab"), ro.subvolRef(RoleCurrent)); err != nil {
		return err
	}

	if btrfs.SubvolumeExists(ctx, ro.r, previous) {
		if err := btrfs.SubvolumeDelete(ctx, ro.r, previous); err != nil {
			return err
		}
	}
	if btrfs.SubvolumeExists(ctx, ro.r, current) {
		if err := os.Rename(current, previous); err != nil {
			return fmt.Errorf("failed to demote %s: %w", current, err)
		}
		if err := fstab.RewriteRootSubvolFile(filepath.Join(previous, "etc/fstab"), ro.subvolRef(RolePrevious)); err != nil {
			return err
		}
	}
	if err := os.Rename(staged, current); err != nil {
		return fmt.Errorf("failed to promote %s: %w", staged, err)
	}

	return ro.rotateBootImages()
}

// subvolRef is the subvolume path of a role as referenced from the
// filesystem root, e.g. "@snapshots/current".
func (ro *Rotator) subvolRef(role string) string {
	return path.Join("@snapshots", role)
}

// rotateBootImages demotes the current role-qualified kernel/initramfs
// copies to previous, then copies the live images under the current
// names. Demotion is a rename, so the previous pair stays usable even if
// the copy is interrupted.
func (ro *Rotator) rotateBootImages() error {
	for _, img := range bootImages {
		live := filepath.Join(ro.BootDir, img)
		cur := filepath.Join(ro.BootDir, roleImageName(img, RoleCurrent))
		prev := filepath.Join(ro.BootDir, roleImageName(img, RolePrevious))

		if _, err := os.Stat(cur); err == nil {
			if err := os.Rename(cur, prev); err != nil {
				return fmt.Errorf("failed to demote %s: %w", cur, err)
			}
		}
		if err := copyFile(cur, live); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", live, cur, err)
		}
	}
	return nil
}

// roleImageName qualifies an image name with a role, keeping the .img
// suffix last so the bootloader still recognizes it.
func roleImageName(img, role string) string {
	if strings.HasSuffix(img, ".img") {
		return strings.TrimSuffix(img, ".img") + "-" + role + ".img"
	}
	return img + "-" + role
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
