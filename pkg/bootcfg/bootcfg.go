// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootcfg makes the converted filesystem bootable: bootloader
// root reference, initramfs driver hook, and the chrooted regeneration.
package bootcfg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

var (
	// ErrBootConfigNotFound is returned when the bootloader
	// configuration is absent or carries no root device reference.
	ErrBootConfigNotFound = errors.New("bootloader configuration not found")
	// ErrUUIDResolution is returned when the new filesystem's UUID
	// cannot be retrieved.
	ErrUUIDResolution = errors.New("UUID resolution failed")
)

var rootRef = regexp.MustCompile(`root=UUID=[0-9a-fA-F-]+(\s+rootflags=[^\s]+)?`)

// RewriteGrub replaces every root device reference in the bootloader
// configuration with the new filesystem's UUID and the rootflags needed
// to mount the root subvolume with the shared option policy.
func RewriteGrub(path, newUUID, rootflags string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBootConfigNotFound, path)
		}
		return err
	}
	if !rootRef.Match(b) {
		return fmt.Errorf("%w: no root=UUID reference in %s", ErrBootConfigNotFound, path)
	}
	replacement := fmt.Sprintf("root=UUID=%s rootflags=%s", newUUID, rootflags)
	out := rootRef.ReplaceAllString(string(b), replacement)
	return os.WriteFile(path, []byte(out), 0o644)
}

var hooksLine = regexp.MustCompile(`(?m)^HOOKS=\((.*)\)`)

// EnsureInitramfsHook inserts hook into the initramfs configuration's
// HOOKS line, before the filesystems hook when present. Insertion is
// guarded: a hook that is already listed is left alone, so a resumed
// conversion does not duplicate it. Reports whether the file changed.
func EnsureInitramfsHook(confPath, hook string) (bool, error) {
	b, err := os.ReadFile(confPath)
	if err != nil {
		return false, err
	}
	m := hooksLine.FindSubmatch(b)
	if m == nil {
		return false, fmt.Errorf("no HOOKS line in %s", confPath)
	}
	hooks := strings.Fields(string(m[1]))
	for _, h := range hooks {
		if h == hook {
			return false, nil
		}
	}
	inserted := false
	var out []string
	for _, h := range hooks {
		if h == "filesystems" && !inserted {
			out = append(out, hook)
			inserted = true
		}
		out = append(out, h)
	}
	if !inserted {
		out = append(out, hook)
	}
	newLine := "HOOKS=(" + strings.Join(out, " ") + ")"
	content := hooksLine.ReplaceAllLiteralString(string(b), newLine)
	if err := os.WriteFile(confPath, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// InstallTooling installs packages inside the new root via the chrooted
// package manager. The filesystem tools must exist inside the new root
// before its initramfs can include them.
func InstallTooling(ctx context.Context, r executil.Runner, newRoot string, pkgs ...string) error {
	args := append([]string{newRoot, "pacman", "-S", "--noconfirm"}, pkgs...)
	if _, err := r.Run(ctx, "arch-chroot", args...); err != nil {
		return fmt.Errorf("failed to install %v in %s: %w", pkgs, newRoot, err)
	}
	return nil
}

// RegenerateInitramfs rebuilds all initramfs images inside the new root.
// A failure leaves the new root unbootable if it is ever selected, so
// callers must treat it as fatal and surface the recovery requirement.
func RegenerateInitramfs(ctx context.Context, r executil.Runner, newRoot string) error {
	if _, err := r.Run(ctx, "arch-chroot", newRoot, "mkinitcpio", "-P"); err != nil {
		return fmt.Errorf("failed to regenerate initramfs in %s: %w", newRoot, err)
	}
	return nil
}
