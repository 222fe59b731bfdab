// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package bootcfg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

const grubCfg = `menuentry 'Arch Linux' {
	linux /vmlinuz-linux root=UUID=0b1489b6-f246-4f38-9582-91b9a3e532ba rw quiet
	initrd /initramfs-linux.img
}
menuentry 'Arch Linux (fallback)' {
	linux /vmlinuz-linux root=UUID=0b1489b6-f246-4f38-9582-91b9a3e532ba rw quiet
	initrd /initramfs-linux-fallback.img
}
`

func TestRewriteGrub(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	assert.NilError(t, os.WriteFile(path, []byte(grubCfg), 0o644))

	const newUUID = "8f4eacbc-b156-4e69-b25a-8e4bb47d1b6c"
	assert.NilError(t, RewriteGrub(path, newUUID, "subvol=@,noatime,compress=zstd"))

	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	got := string(b)
	assert.Check(t, !strings.Contains(got, "0b1489b6"))
	assert.Equal(t, 2, strings.Count(got, "root=UUID="+newUUID+" rootflags=subvol=@,noatime,compress=zstd"))
}

func TestRewriteGrubReplacesExistingRootflags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	const line = "linux /vmlinuz-linux root=UUID=0b1489b6-f246-4f38-9582-91b9a3e532ba rootflags=subvol=@snapshots/old rw\n"
	assert.NilError(t, os.WriteFile(path, []byte(line), 0o644))

	assert.NilError(t, RewriteGrub(path, "aaaa-bbbb", "subvol=@"))
	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, "linux /vmlinuz-linux root=UUID=aaaa-bbbb rootflags=subvol=@ rw\n", string(b))
}

func TestRewriteGrubMissingFile(t *testing.T) {
	err := RewriteGrub(filepath.Join(t.TempDir(), "grub.cfg"), "uuid", "subvol=@")
	assert.Check(t, errors.Is(err, ErrBootConfigNotFound))
}

func TestRewriteGrubNoRootReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	assert.NilError(t, os.WriteFile(path, []byte("set timeout=5\n"), 0o644))
	err := RewriteGrub(path, "uuid", "subvol=@")
	assert.Check(t, errors.Is(err, ErrBootConfigNotFound))
}

func TestEnsureInitramfsHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mkinitcpio.conf")
	const conf = "MODULES=()\nHOOKS=(base udev autodetect modconf block filesystems keyboard fsck)\n"
	assert.NilError(t, os.WriteFile(path, []byte(conf), 0o644))

	changed, err := EnsureInitramfsHook(path, "btrfs")
	assert.NilError(t, err)
	assert.Check(t, changed)

	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Check(t, strings.Contains(string(b), "block btrfs filesystems"))

	// Inserting again is a guarded no-op, not a duplicate.
	changed, err = EnsureInitramfsHook(path, "btrfs")
	assert.NilError(t, err)
	assert.Check(t, !changed)

	b2, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(b), string(b2))
}

func TestEnsureInitramfsHookNoHooksLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mkinitcpio.conf")
	assert.NilError(t, os.WriteFile(path, []byte("MODULES=()\n"), 0o644))
	_, err := EnsureInitramfsHook(path, "btrfs")
	assert.ErrorContains(t, err, "no HOOKS line")
}
