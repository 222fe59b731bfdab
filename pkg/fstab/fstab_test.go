// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package fstab

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

const (
	rootUUID = "8f4eacbc-b156-4e69-b25a-8e4bb47d1b6c"
	bootUUID = "C156-16F7"
	swapUUID = "f3c4f77e-4a37-4c2b-a05e-c7b7b53a44a0"
)

func TestForMigration(t *testing.T) {
	entries := ForMigration(policy.Default(), rootUUID, bootUUID, swapUUID)
	assert.Equal(t, 7, len(entries))

	keyed := 0
	for _, e := range entries {
		if e.Spec == "UUID="+rootUUID {
			keyed++
			assert.Equal(t, "btrfs", e.VFSType)
			assert.Check(t, strings.Contains(e.Options, "compress=zstd"), e.Options)
		}
	}
	// Four subvolumes plus the whole-device view.
	assert.Equal(t, 5, keyed)

	assert.Equal(t, "/boot", entries[5].File)
	assert.Equal(t, "vfat", entries[5].VFSType)
	assert.Equal(t, "swap", entries[6].VFSType)
}

func TestRenderWholeFile(t *testing.T) {
	out := Render(ForMigration(policy.Default(), rootUUID, bootUUID, swapUUID))
	assert.Check(t, strings.Contains(out, "UUID="+rootUUID+"\t/\tbtrfs\tnoatime,compress=zstd,space_cache=v2,ssd,subvol=@\t0 0"))
	assert.Check(t, strings.Contains(out, "subvolid=5"))
	assert.Check(t, strings.Contains(out, "UUID="+bootUUID+"\t/boot\tvfat"))
}

func TestRewriteRootSubvol(t *testing.T) {
	const table = "UUID=x\t/\tbtrfs\tnoatime,compress=zstd,space_cache=v2,ssd,subvol=@\t0 0\n" +
		"UUID=x\t/home\tbtrfs\tnoatime,compress=zstd,space_cache=v2,ssd,subvol=@home\t0 0\n"

	got := RewriteRootSubvol(table, "@snapshots/current")
	assert.Check(t, strings.Contains(got, "subvol=@snapshots/current\t"))
	// Only the root reference changes; @home is untouched.
	assert.Check(t, strings.Contains(got, "subvol=@home\t"))
}

func TestRewriteRootSubvolRetargetsRoles(t *testing.T) {
	const table = "UUID=x\t/\tbtrfs\tnoatime,subvol=@snapshots/current\t0 0\n"
	got := RewriteRootSubvol(table, "@snapshots/previous")
	assert.Check(t, strings.Contains(got, "subvol=@snapshots/previous\t"))
	assert.Check(t, !strings.Contains(got, "subvol=@snapshots/current"))
}
