// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
)

// Span is a partition extent in bytes, as read directly from the on-disk
// table by go-diskfs, independent of the sfdisk/lsblk text adapters.
type Span struct {
	Start int64
	Size  int64
}

// End is the first byte past the span.
func (s Span) End() int64 {
	return s.Start + s.Size
}

// ReadSpans opens the disk read-only and returns the byte extents of its
// partitions. It is the second-opinion read used to verify that a table
// rewrite landed where the pipeline intended.
func ReadSpans(diskPath string) ([]Span, error) {
	d, err := diskfs.Open(diskPath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %s", ErrGeometryUnresolved, diskPath, err)
	}
	defer d.Close()
	table, err := d.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read table of %s: %s", ErrGeometryUnresolved, diskPath, err)
	}
	var spans []Span
	for _, p := range table.GetPartitions() {
		spans = append(spans, Span{Start: p.GetStart(), Size: p.GetSize()})
	}
	return spans, nil
}

// VerifyDisjoint checks that no two spans overlap. Returns the offending
// pair in the error.
func VerifyDisjoint(spans []Span) error {
	for i, a := range spans {
		for _, b := range spans[i+1:] {
			if a.Start < b.End() && b.Start < a.End() {
				return fmt.Errorf("%w: partitions overlap: [%d,%d) and [%d,%d)",
					ErrGeometryUnresolved, a.Start, a.End(), b.Start, b.End())
			}
		}
	}
	return nil
}
