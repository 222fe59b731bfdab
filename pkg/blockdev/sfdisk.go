// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// Table is a disk's partition table as declared by sfdisk. Entries keep
// table order, which is not necessarily creation order; callers must use
// the declared start/size fields, never positional assumptions.
type Table struct {
	Device     string
	Label      string
	SectorSize int64
	Entries    []TableEntry
}

// TableEntry is one declared partition: sectors, not bytes.
type TableEntry struct {
	Node  string
	Start int64
	Size  int64
	Type  string
}

// End is the entry's last occupied sector.
func (e TableEntry) End() int64 {
	return e.Start + e.Size - 1
}

// Entry finds the table entry for a partition path.
func (t *Table) Entry(node string) (TableEntry, bool) {
	for _, e := range t.Entries {
		if e.Node == node {
			return e, true
		}
	}
	return TableEntry{}, false
}

type sfdiskPartition struct {
	Node  string `json:"node"`
	Start int64  `json:"start"`
	Size  int64  `json:"size"`
	Type  string `json:"type"`
}

type sfdiskTable struct {
	Label      string            `json:"label"`
	Device     string            `json:"device"`
	Unit       string            `json:"unit"`
	SectorSize int64             `json:"sectorsize"`
	Partitions []sfdiskPartition `json:"partitions"`
}

type sfdiskOutput struct {
	PartitionTable sfdiskTable `json:"partitiontable"`
}

// ReadTable queries sfdisk for the current partition table of a disk.
func ReadTable(ctx context.Context, r executil.Runner, diskPath string) (*Table, error) {
	out, err := r.Run(ctx, "sfdisk", "--json", diskPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGeometryUnresolved, err)
	}
	return parseSfdisk([]byte(out))
}

func parseSfdisk(b []byte) (*Table, error) {
	var out sfdiskOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: cannot parse sfdisk output: %s", ErrGeometryUnresolved, err)
	}
	pt := out.PartitionTable
	if pt.Device == "" {
		return nil, fmt.Errorf("%w: sfdisk reported no device", ErrGeometryUnresolved)
	}
	if pt.Unit != "" && pt.Unit != "sectors" {
		return nil, fmt.Errorf("%w: unexpected sfdisk unit %q", ErrGeometryUnresolved, pt.Unit)
	}
	t := &Table{
		Device:     pt.Device,
		Label:      pt.Label,
		SectorSize: pt.SectorSize,
	}
	if t.SectorSize == 0 {
		t.SectorSize = 512
	}
	for _, p := range pt.Partitions {
		if p.Node == "" || p.Size <= 0 {
			return nil, fmt.Errorf("%w: malformed table entry %+v", ErrGeometryUnresolved, p)
		}
		t.Entries = append(t.Entries, TableEntry{
			Node:  p.Node,
			Start: p.Start,
			Size:  p.Size,
			Type:  p.Type,
		})
	}
	return t, nil
}

// LastUsableSector returns the end of the highest-ending entry in the
// table. The highest numbered partition is not necessarily the last one
// on disk, so every entry is considered.
func (t *Table) LastUsableSector() int64 {
	var end int64
	for _, e := range t.Entries {
		if e.End() > end {
			end = e.End()
		}
	}
	return end
}
