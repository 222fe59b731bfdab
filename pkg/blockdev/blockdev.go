// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockdev resolves partition paths into typed geometry by
// querying the table-listing tools. All queries are read-only and the
// result is derived fresh on every call; geometry from an earlier run is
// never trusted.
package blockdev

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// ErrGeometryUnresolved is returned whenever a device, table entry or
// sector number cannot be derived from tool output. The pipelines halt
// on it; guessing is not permitted before destructive steps.
var ErrGeometryUnresolved = errors.New("geometry unresolved")

// Partition is one resolved partition table entry plus its probed
// filesystem attributes.
type Partition struct {
	Path        string
	Disk        string
	Index       int
	StartSector int64
	SizeSectors int64
	SectorSize  int64
	SizeBytes   int64
	FSType      string
	UUID        string
	Mountpoint  string
}

// EndSector is the last sector occupied by the partition.
func (p Partition) EndSector() int64 {
	return p.StartSector + p.SizeSectors - 1
}

// ResolvePartition maps a partition path to its backing disk and table
// geometry. The backing device must itself be listed as a whole disk.
func ResolvePartition(ctx context.Context, r executil.Runner, partPath string) (Partition, error) {
	dev, err := lsblkDevice(ctx, r, partPath)
	if err != nil {
		return Partition{}, err
	}
	if dev.Type != "part" {
		return Partition{}, fmt.Errorf("%w: %s is a %q, not a partition", ErrGeometryUnresolved, partPath, dev.Type)
	}
	if dev.PkName == "" {
		return Partition{}, fmt.Errorf("%w: no parent device reported for %s", ErrGeometryUnresolved, partPath)
	}
	diskPath := path.Join("/dev", dev.PkName)
	parent, err := lsblkDevice(ctx, r, diskPath)
	if err != nil {
		return Partition{}, err
	}
	if parent.Type != "disk" {
		return Partition{}, fmt.Errorf("%w: backing device %s is a %q, not a block disk", ErrGeometryUnresolved, diskPath, parent.Type)
	}
	idx, err := PartitionIndex(diskPath, partPath)
	if err != nil {
		return Partition{}, err
	}
	table, err := ReadTable(ctx, r, diskPath)
	if err != nil {
		return Partition{}, err
	}
	entry, ok := table.Entry(partPath)
	if !ok {
		return Partition{}, fmt.Errorf("%w: %s has no entry in the table of %s", ErrGeometryUnresolved, partPath, diskPath)
	}
	return Partition{
		Path:        partPath,
		Disk:        diskPath,
		Index:       idx,
		StartSector: entry.Start,
		SizeSectors: entry.Size,
		SectorSize:  table.SectorSize,
		SizeBytes:   entry.Size * table.SectorSize,
		FSType:      dev.FSType,
		UUID:        dev.UUID,
		Mountpoint:  dev.Mountpoint,
	}, nil
}

// ListPartitions resolves every partition of a disk, in table order.
func ListPartitions(ctx context.Context, r executil.Runner, diskPath string) ([]Partition, error) {
	parent, err := lsblkDevice(ctx, r, diskPath)
	if err != nil {
		return nil, err
	}
	table, err := ReadTable(ctx, r, diskPath)
	if err != nil {
		return nil, err
	}
	byPath := map[string]lsblkEntry{}
	for _, c := range parent.Children {
		p := c.Path
		if p == "" {
			p = path.Join("/dev", c.Name)
		}
		byPath[p] = c
	}
	var parts []Partition
	for _, entry := range table.Entries {
		idx, err := PartitionIndex(diskPath, entry.Node)
		if err != nil {
			return nil, err
		}
		child := byPath[entry.Node]
		parts = append(parts, Partition{
			Path:        entry.Node,
			Disk:        diskPath,
			Index:       idx,
			StartSector: entry.Start,
			SizeSectors: entry.Size,
			SectorSize:  table.SectorSize,
			SizeBytes:   entry.Size * table.SectorSize,
			FSType:      child.FSType,
			UUID:        child.UUID,
			Mountpoint:  child.Mountpoint,
		})
	}
	return parts, nil
}

// PartitionIndex extracts the 1-based partition number from a partition
// path, tolerating the "p" separator used by devices whose disk name
// ends in a digit (nvme0n1p3, mmcblk0p1) as well as plain suffixes
// (sda3, vdb1).
func PartitionIndex(diskPath, partPath string) (int, error) {
	if !strings.HasPrefix(partPath, diskPath) {
		return 0, fmt.Errorf("%w: %s is not a partition of %s", ErrGeometryUnresolved, partPath, diskPath)
	}
	suffix := strings.TrimPrefix(partPath, diskPath)
	suffix = strings.TrimPrefix(suffix, "p")
	if suffix == "" {
		return 0, fmt.Errorf("%w: %s carries no partition number", ErrGeometryUnresolved, partPath)
	}
	for _, r := range suffix {
		if !unicode.IsDigit(r) {
			return 0, fmt.Errorf("%w: cannot parse partition number from %s", ErrGeometryUnresolved, partPath)
		}
	}
	return strconv.Atoi(suffix)
}

// PartitionPath is the inverse of PartitionIndex under the same naming
// convention.
func PartitionPath(diskPath string, index int) string {
	if len(diskPath) > 0 && unicode.IsDigit(rune(diskPath[len(diskPath)-1])) {
		return fmt.Sprintf("%sp%d", diskPath, index)
	}
	return fmt.Sprintf("%s%d", diskPath, index)
}
