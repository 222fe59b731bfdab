// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/continuity/fs"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/blockdev"
	"github.com/btrfsmig/btrfsmig/pkg/bootcfg"
	"github.com/btrfsmig/btrfsmig/pkg/btrfs"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/fdisk"
	"github.com/btrfsmig/btrfsmig/pkg/fstab"
	"github.com/btrfsmig/btrfsmig/pkg/mountutil"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

// resolvePlan derives the migration plan from the live system: source
// partition geometry plus the boot and swap roles on the same disk.
func (p *Pipeline) resolvePlan(ctx context.Context) error {
	src, err := blockdev.ResolvePartition(ctx, p.r, p.device)
	if err != nil {
		return err
	}
	p.src = src

	parts, err := blockdev.ListPartitions(ctx, p.r, src.Disk)
	if err != nil {
		return err
	}
	var haveBoot, haveSwap bool
	for _, part := range parts {
		switch part.FSType {
		case "vfat":
			p.boot, haveBoot = part, true
		case "swap":
			p.swap, haveSwap = part, true
		}
	}
	if !haveBoot {
		return fmt.Errorf("%w: no boot (vfat) partition on %s", blockdev.ErrGeometryUnresolved, src.Disk)
	}
	if !haveSwap {
		return fmt.Errorf("%w: no swap partition on %s", blockdev.ErrGeometryUnresolved, src.Disk)
	}
	logrus.Infof("plan: root=%s (#%d, %d sectors from %d), boot=%s, swap=%s, disk=%s",
		src.Path, src.Index, src.SizeSectors, src.StartSector, p.boot.Path, p.swap.Path, src.Disk)
	return nil
}

// refreshSource re-resolves the source partition after a table write.
func (p *Pipeline) refreshSource(ctx context.Context) error {
	src, err := blockdev.ResolvePartition(ctx, p.r, p.device)
	if err != nil {
		return err
	}
	p.src = src
	return nil
}

// rewriteTable deletes the source partition's table entry and recreates
// it at the same start sector with the shrunk size. The start sector is
// read back from the table first; it is gone once the entry is deleted.
func (p *Pipeline) rewriteTable(ctx context.Context) error {
	table, err := blockdev.ReadTable(ctx, p.r, p.src.Disk)
	if err != nil {
		return err
	}
	if err := requireDOSLabel(table); err != nil {
		return err
	}
	entry, ok := table.Entry(p.src.Path)
	if !ok {
		return fmt.Errorf("%w: %s disappeared from the table of %s", blockdev.ErrGeometryUnresolved, p.src.Path, p.src.Disk)
	}
	start := entry.Start
	sectors := p.tgtGiB * units.GiB / table.SectorSize
	end := start + sectors - 1

	session := fdisk.NewSession(p.src.Disk).
		Delete(p.src.Index).
		CreatePrimary(p.src.Index, start, end).
		SetType(p.src.Index, fdisk.LinuxType).
		Write()
	if err := session.Apply(ctx, p.r); err != nil {
		return err
	}
	return fdisk.Reprobe(ctx, p.r, p.src.Disk)
}

// createTarget creates the new partition right after the shrunk one,
// extending to the end of the disk, and verifies the written table with
// an independent read before anything formats it.
func (p *Pipeline) createTarget(ctx context.Context) error {
	table, err := blockdev.ReadTable(ctx, p.r, p.src.Disk)
	if err != nil {
		return err
	}
	if err := requireDOSLabel(table); err != nil {
		return err
	}
	entry, ok := table.Entry(p.src.Path)
	if !ok {
		return fmt.Errorf("%w: %s disappeared from the table of %s", blockdev.ErrGeometryUnresolved, p.src.Path, p.src.Disk)
	}
	// The reclaimed space begins right after the shrunk partition, so
	// nothing else may be allocated beyond it. A trailing entry here
	// means the layout is not the one the plan was derived from.
	if last := table.LastUsableSector(); last != entry.End() {
		return fmt.Errorf("%w: %s is not the last allocated region of %s, the table extends to sector %d",
			blockdev.ErrGeometryUnresolved, p.src.Path, p.src.Disk, last)
	}
	newIndex := 0
	for _, e := range table.Entries {
		idx, err := blockdev.PartitionIndex(table.Device, e.Node)
		if err != nil {
			return err
		}
		if idx > newIndex {
			newIndex = idx
		}
	}
	newIndex++
	start := entry.End() + 1

	session := fdisk.NewSession(p.src.Disk).
		CreatePrimary(newIndex, start, 0).
		SetType(newIndex, fdisk.LinuxType).
		Write()
	if err := session.Apply(ctx, p.r); err != nil {
		return err
	}
	if err := fdisk.Reprobe(ctx, p.r, p.src.Disk); err != nil {
		return err
	}

	spans, err := blockdev.ReadSpans(p.src.Disk)
	if err != nil {
		return err
	}
	return blockdev.VerifyDisjoint(spans)
}

// resolveTarget locates the newly created partition and checks that it
// does not overlap the shrunk source.
func (p *Pipeline) resolveTarget(ctx context.Context) error {
	table, err := blockdev.ReadTable(ctx, p.r, p.src.Disk)
	if err != nil {
		return err
	}
	newIndex := p.src.Index
	for _, e := range table.Entries {
		idx, err := blockdev.PartitionIndex(table.Device, e.Node)
		if err != nil {
			return err
		}
		if idx > newIndex {
			newIndex = idx
		}
	}
	if newIndex == p.src.Index {
		return fmt.Errorf("%w: no partition after %s in the table of %s", blockdev.ErrGeometryUnresolved, p.src.Path, p.src.Disk)
	}
	newPath := blockdev.PartitionPath(p.src.Disk, newIndex)
	newPart, err := blockdev.ResolvePartition(ctx, p.r, newPath)
	if err != nil {
		return err
	}
	if newPart.StartSector <= p.src.EndSector() {
		return fmt.Errorf("%w: %s starts at sector %d, inside %s which ends at %d",
			blockdev.ErrGeometryUnresolved, newPart.Path, newPart.StartSector, p.src.Path, p.src.EndSector())
	}
	p.newPart = newPart
	return nil
}

// format creates the btrfs filesystem and verifies the result by probing
// the partition, never by the formatter's exit code alone.
func (p *Pipeline) format(ctx context.Context) error {
	if err := btrfs.Mkfs(ctx, p.r, p.newPart.Path); err != nil {
		return err
	}
	probe, err := blockdev.ProbeFS(ctx, p.r, p.newPart.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", btrfs.ErrFormatVerification, err)
	}
	if probe.Type != "btrfs" {
		return fmt.Errorf("%w: %s probes as %q after formatting", btrfs.ErrFormatVerification, p.newPart.Path, probe.Type)
	}
	return nil
}

// createSubvolumes mounts the new filesystem at a scratch point, creates
// the fixed subvolume set in order, and unmounts. A partial set on
// failure is left in place for inspection; cleaning it up automatically
// would mask the cause.
func (p *Pipeline) createSubvolumes(ctx context.Context) error {
	tmp, err := mountTemp(ctx, p.r, p.newPart.Path, "")
	if err != nil {
		return err
	}
	for _, sv := range policy.Subvolumes() {
		if err := btrfs.SubvolumeCreate(ctx, p.r, filepath.Join(tmp, sv.Name)); err != nil {
			_ = mountutil.Unmount(ctx, p.r, tmp)
			return err
		}
	}
	return mountutil.Unmount(ctx, p.r, tmp)
}

// assembleMounts builds the migration tree: root subvolume first, its
// children into it, the whole-device view, the old source, and finally
// the boot partition once its directory exists under the new root.
func (p *Pipeline) assembleMounts(ctx context.Context) error {
	dev := p.newPart.Path
	if err := mountutil.Mount(ctx, p.r, dev, NewRoot, p.cfg.SubvolMountOptions("@")); err != nil {
		return err
	}
	for _, sv := range policy.Subvolumes() {
		if sv.Target == "/" {
			continue
		}
		target := filepath.Join(NewRoot, sv.Target)
		if err := mountutil.Mount(ctx, p.r, dev, target, p.cfg.SubvolMountOptions(sv.Name)); err != nil {
			return err
		}
	}
	if err := mountutil.Mount(ctx, p.r, dev, filepath.Join(NewRoot, "btrfsroot"), p.cfg.MountOptions+",subvolid=5"); err != nil {
		return err
	}
	if err := mountutil.Mount(ctx, p.r, p.src.Path, OldRoot, "ro"); err != nil {
		return err
	}
	return mountutil.Mount(ctx, p.r, p.boot.Path, filepath.Join(NewRoot, "boot"), "")
}

// copyData archives the old tree into the new one, preserving ownership,
// permissions and extended attributes. On failure both trees stay
// mounted; an incomplete copy must not silently disappear from view.
func (p *Pipeline) copyData(ctx context.Context) error {
	if executil.Available("rsync") {
		if _, err := p.r.Run(ctx, "rsync", "-aAX", OldRoot+"/", NewRoot+"/"); err != nil {
			return fmt.Errorf("%w: %s", ErrCopyFailed, err)
		}
		return nil
	}
	logrus.Warn("rsync not found, using built-in archive copy")
	if err := fs.CopyDir(NewRoot, OldRoot); err != nil {
		return fmt.Errorf("%w: %s", ErrCopyFailed, err)
	}
	return nil
}

// writeFstab regenerates the new system's mount table from scratch,
// keyed by the resolved UUIDs.
func (p *Pipeline) writeFstab(ctx context.Context) error {
	rootUUID, err := p.requireUUID(ctx, p.newPart)
	if err != nil {
		return err
	}
	bootUUID, err := p.requireUUID(ctx, p.boot)
	if err != nil {
		return err
	}
	swapUUID, err := p.requireUUID(ctx, p.swap)
	if err != nil {
		return err
	}
	entries := fstab.ForMigration(p.cfg, rootUUID, bootUUID, swapUUID)
	return fstab.WriteFile(filepath.Join(NewRoot, "etc/fstab"), entries)
}

// rewriteBootloader points the bootloader at the new filesystem.
func (p *Pipeline) rewriteBootloader(ctx context.Context) error {
	rootUUID, err := p.requireUUID(ctx, p.newPart)
	if err != nil {
		return err
	}
	grubCfg := filepath.Join(NewRoot, "boot/grub/grub.cfg")
	return bootcfg.RewriteGrub(grubCfg, rootUUID, p.cfg.SubvolMountOptions("@"))
}

// regenerateInitramfs wires the filesystem driver into the new root's
// initramfs: hook insertion (guarded against duplicates), chrooted tool
// install, then regeneration inside the chroot.
func (p *Pipeline) regenerateInitramfs(ctx context.Context) error {
	changed, err := bootcfg.EnsureInitramfsHook(filepath.Join(NewRoot, "etc/mkinitcpio.conf"), "btrfs")
	if err != nil {
		return err
	}
	if !changed {
		logrus.Info("initramfs hook already present")
	}
	if err := bootcfg.InstallTooling(ctx, p.r, NewRoot, "btrfs-progs"); err != nil {
		return err
	}
	return bootcfg.RegenerateInitramfs(ctx, p.r, NewRoot)
}

// requireDOSLabel refuses any table the scripted fdisk dialog cannot
// drive safely.
func requireDOSLabel(table *blockdev.Table) error {
	if table.Label != "dos" {
		return fmt.Errorf("%w: %s has label %q, only \"dos\" is supported",
			fdisk.ErrUnsupportedLabel, table.Device, table.Label)
	}
	return nil
}

func (p *Pipeline) requireUUID(ctx context.Context, part blockdev.Partition) (string, error) {
	if part.UUID != "" {
		return part.UUID, nil
	}
	probe, err := blockdev.ProbeFS(ctx, p.r, part.Path)
	if err != nil || probe.UUID == "" {
		return "", fmt.Errorf("%w: %s", bootcfg.ErrUUIDResolution, part.Path)
	}
	return probe.UUID, nil
}

// mountTemp mounts dev read-write at a fresh temporary directory and
// returns the directory.
func mountTemp(ctx context.Context, r executil.Runner, dev, opts string) (string, error) {
	tmp, err := os.MkdirTemp("", "btrfsmig-")
	if err != nil {
		return "", err
	}
	if err := mountutil.Mount(ctx, r, dev, tmp, opts); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
