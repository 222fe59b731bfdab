// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package fstab renders the persisted mount table. The table is always
// written whole; patching an existing table risks leaving stale entries
// that conflict with the new layout.
package fstab

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

// Entry is one mount table line.
type Entry struct {
	Spec    string
	File    string
	VFSType string
	Options string
	Freq    int
	Passno  int
}

// ForMigration builds the converted system's full mount table: the four
// subvolumes plus the whole-device view, keyed by the new filesystem's
// UUID, then the pre-existing boot and swap partitions.
func ForMigration(cfg *policy.Config, rootUUID, bootUUID, swapUUID string) []Entry {
	var entries []Entry
	for _, sv := range policy.Subvolumes() {
		entries = append(entries, Entry{
			Spec:    "UUID=" + rootUUID,
			File:    sv.Target,
			VFSType: "btrfs",
			Options: cfg.SubvolMountOptions(sv.Name),
		})
	}
	entries = append(entries,
		Entry{
			Spec:    "UUID=" + rootUUID,
			File:    "/btrfsroot",
			VFSType: "btrfs",
			Options: cfg.MountOptions + ",subvolid=5",
		},
		Entry{
			Spec:    "UUID=" + bootUUID,
			File:    "/boot",
			VFSType: "vfat",
			Options: "defaults",
			Passno:  2,
		},
		Entry{
			Spec:    "UUID=" + swapUUID,
			File:    "none",
			VFSType: "swap",
			Options: "defaults",
		},
	)
	return entries
}

// Render formats entries as an fstab file.
func Render(entries []Entry) string {
	var b strings.Builder
	b.WriteString("# generated by btrfsmig; this file is rewritten whole, do not patch\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d %d\n", e.Spec, e.File, e.VFSType, e.Options, e.Freq, e.Passno)
	}
	return b.String()
}

// WriteFile overwrites path with the rendered table.
func WriteFile(path string, entries []Entry) error {
	return os.WriteFile(path, []byte(Render(entries)), 0o644)
}

var rootSubvolRef = regexp.MustCompile(`subvol=@(?:snapshots/[^,\s]+)?([,\s])`)

// RewriteRootSubvol retargets a mount table's root subvolume reference
// to a different subvolume path. It matches subvol=@ and role-qualified
// subvol=@snapshots/... references; @home and friends are left alone.
// Used when a snapshot changes role and its internal table must mount
// the snapshot itself as root.
func RewriteRootSubvol(content, newSubvol string) string {
	return rootSubvolRef.ReplaceAllString(content, "subvol="+newSubvol+"$1")
}

// RewriteRootSubvolFile applies RewriteRootSubvol to a file in place.
func RewriteRootSubvolFile(path, newSubvol string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(RewriteRootSubvol(string(b), newSubvol)), 0o644)
}
