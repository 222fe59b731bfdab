// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, MountOptions, cfg.MountOptions)
	assert.Equal(t, 50, cfg.MaxUsedPercent)
	assert.Equal(t, 10, cfg.BalanceUsagePercent)
	assert.Equal(t, 24*time.Hour, cfg.UpdateLogWindow)
}

func TestSubvolumesOrderedRootFirst(t *testing.T) {
	svs := Subvolumes()
	assert.Equal(t, 4, len(svs))
	assert.Equal(t, "@", svs[0].Name)
	assert.Equal(t, "/", svs[0].Target)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NilError(t, err)
	assert.Equal(t, MountOptions, cfg.MountOptions)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btrfsmig.yaml")
	assert.NilError(t, os.WriteFile(path, []byte("balanceUsagePercent: 25\nsnapshotDir: /snap\n"), 0o644))
	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, 25, cfg.BalanceUsagePercent)
	assert.Equal(t, "/snap", cfg.SnapshotDir)
	// Untouched keys keep their defaults.
	assert.Equal(t, 50, cfg.MaxUsedPercent)
}

func TestSubvolMountOptions(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "noatime,compress=zstd,space_cache=v2,ssd,subvol=@home", cfg.SubvolMountOptions("@home"))
}
