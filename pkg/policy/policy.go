// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy holds the constants shared by subvolume creation, fstab
// generation and runtime mounts. The three consumers must agree on the
// mount options or the converted system boots with inconsistent
// semantics, so the options live here and nowhere else.
package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// DefaultConfigFile is consulted when it exists; otherwise compiled-in
// defaults apply.
const DefaultConfigFile = "/etc/btrfsmig/btrfsmig.yaml"

// MountOptions is the shared btrfs mount option policy. A subvol= option
// is appended per subvolume by the consumers.
const MountOptions = "noatime,compress=zstd,space_cache=v2,ssd"

// Subvolume is one entry of the fixed subvolume set.
type Subvolume struct {
	// Name is the on-disk subvolume name, e.g. "@home".
	Name string
	// Target is the mount point relative to the new root, "/" for the
	// root subvolume itself.
	Target string
}

// Subvolumes returns the fixed, ordered subvolume set. Order matters:
// the root subvolume must be first so that its children can be mounted
// into it.
func Subvolumes() []Subvolume {
	return []Subvolume{
		{Name: "@", Target: "/"},
		{Name: "@home", Target: "/home"},
		{Name: "@pkg", Target: "/var/cache/pacman"},
		{Name: "@snapshots", Target: "/.snapshots"},
	}
}

// Config carries the tunables an operator may override. Everything has a
// working default; the migration geometry policy (halving) is not
// configurable on purpose.
type Config struct {
	// MountOptions overrides the btrfs mount option policy.
	MountOptions string `yaml:"mountOptions"`
	// SnapshotDir is where the rotation roles live on the running system.
	SnapshotDir string `yaml:"snapshotDir"`
	// BalanceUsagePercent is the -dusage threshold for the maintenance
	// balance run.
	BalanceUsagePercent int `yaml:"balanceUsagePercent"`
	// UpdateLogWindow is how far back the pacman log is scanned for
	// install/upgrade events before offering a reboot.
	UpdateLogWindow time.Duration `yaml:"updateLogWindow"`
	// MaxUsedPercent is the space-check threshold; usage at or above it
	// aborts the conversion.
	MaxUsedPercent int `yaml:"maxUsedPercent"`
	// JournalFile is where the conversion checkpoint journal is kept.
	JournalFile string `yaml:"journalFile"`
}

func Default() *Config {
	return &Config{
		MountOptions:        MountOptions,
		SnapshotDir:         "/.snapshots",
		BalanceUsagePercent: 10,
		UpdateLogWindow:     24 * time.Hour,
		MaxUsedPercent:      50,
		JournalFile:         "/var/lib/btrfsmig/convert.journal",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// SubvolMountOptions renders the full option string for one subvolume.
func (c *Config) SubvolMountOptions(name string) string {
	return fmt.Sprintf("%s,subvol=%s", c.MountOptions, name)
}
