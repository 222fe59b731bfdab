// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package maintain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

func TestScanUpdateLog(t *testing.T) {
	const log = `[2026-08-28T05:59:00+0000] [PACMAN] Running 'pacman -Syu --noconfirm'
[2026-08-28T06:00:01+0000] [ALPM] upgraded linux (6.15.1-1 -> 6.15.2-1)
[2026-08-28T06:00:02+0000] [ALPM] installed btrfs-progs (6.15-1)
[2026-08-28T06:00:03+0000] [ALPM] transaction completed
garbage line
[2026-08-29T06:00:01+0000] [ALPM] upgraded zlib (1.3-1 -> 1.3-2)
`
	since, err := time.Parse(time.RFC3339, "2026-08-29T00:00:00Z")
	assert.NilError(t, err)

	events := scanUpdateLog(log, since)
	assert.Equal(t, 1, len(events))
	assert.Check(t, strings.Contains(events[0], "zlib"))

	all := scanUpdateLog(log, time.Time{})
	assert.Equal(t, 3, len(all))
}

func TestRoleImageName(t *testing.T) {
	assert.Equal(t, "vmlinuz-linux-current", roleImageName("vmlinuz-linux", RoleCurrent))
	assert.Equal(t, "initramfs-linux-previous.img", roleImageName("initramfs-linux.img", RolePrevious))
}

// rotationFixture lays out a snapshot dir with a current snapshot and a
// boot dir with live plus current-role images, as left by an earlier
// rotation cycle.
func rotationFixture(t *testing.T) (snapDir, bootDir string) {
	t.Helper()
	snapDir = t.TempDir()
	bootDir = t.TempDir()

	const table = "UUID=x\t/\tbtrfs\tnoatime,subvol=@snapshots/current\t0 0\n"
	assert.NilError(t, os.MkdirAll(filepath.Join(snapDir, RoleCurrent, "etc"), 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(snapDir, RoleCurrent, "etc/fstab"), []byte(table), 0o644))

	assert.NilError(t, os.WriteFile(filepath.Join(bootDir, "vmlinuz-linux"), []byte("kernel-v2"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(bootDir, "initramfs-linux.img"), []byte("initrd-v2"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(bootDir, "vmlinuz-linux-current"), []byte("kernel-v1"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(bootDir, "initramfs-linux-current.img"), []byte("initrd-v1"), 0o644))
	return snapDir, bootDir
}

func TestRotate(t *testing.T) {
	snapDir, bootDir := rotationFixture(t)

	r := executil.NewFakeRunner()
	// No staged or previous snapshot yet; the snapshot command has to
	// produce the staged tree, which the fake imitates via a hook.
	r.Responses["btrfs subvolume show "+filepath.Join(snapDir, RoleStaged)] = executil.FakeResponse{
		Err: &executil.CodedError{Code: 1, Msg: "not a subvolume"},
	}
	r.Responses["btrfs subvolume show "+filepath.Join(snapDir, RolePrevious)] = executil.FakeResponse{
		Err: &executil.CodedError{Code: 1, Msg: "not a subvolume"},
	}
	r.OnCall = func(line string) {
		if strings.HasPrefix(line, "btrfs subvolume snapshot / ") {
			staged := filepath.Join(snapDir, RoleStaged)
			if err := os.MkdirAll(filepath.Join(staged, "etc"), 0o755); err != nil {
				t.Fatal(err)
			}
			table := "UUID=x\t/\tbtrfs\tnoatime,subvol=@\t0 0\n"
			if err := os.WriteFile(filepath.Join(staged, "etc/fstab"), []byte(table), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	ro := NewRotator(r, snapDir, bootDir)
	assert.NilError(t, ro.Rotate(context.Background()))

	// The live root was snapshotted before anything was deleted.
	var snapshotAt, deleteAt int
	for i, call := range r.Calls {
		if strings.HasPrefix(call, "btrfs subvolume snapshot /") {
			snapshotAt = i
		}
		if strings.HasPrefix(call, "btrfs subvolume delete") {
			deleteAt = i
		}
	}
	assert.Check(t, deleteAt == 0 || snapshotAt < deleteAt)

	// CURRENT is the fresh snapshot, retargeted at its own role path.
	b, err := os.ReadFile(filepath.Join(snapDir, RoleCurrent, "etc/fstab"))
	assert.NilError(t, err)
	assert.Check(t, strings.Contains(string(b), "subvol=@snapshots/current"))

	// The old CURRENT became PREVIOUS and mounts itself as root.
	b, err = os.ReadFile(filepath.Join(snapDir, RolePrevious, "etc/fstab"))
	assert.NilError(t, err)
	assert.Check(t, strings.Contains(string(b), "subvol=@snapshots/previous"))

	// Boot images rotated: current carries the live pair, previous the
	// demoted one.
	for name, want := range map[string]string{
		"vmlinuz-linux-current":        "kernel-v2",
		"vmlinuz-linux-previous":       "kernel-v1",
		"initramfs-linux-current.img":  "initrd-v2",
		"initramfs-linux-previous.img": "initrd-v1",
	} {
		b, err := os.ReadFile(filepath.Join(bootDir, name))
		assert.NilError(t, err)
		assert.Equal(t, want, string(b), name)
	}
}

func TestRotateCleansInterruptedStage(t *testing.T) {
	snapDir, bootDir := rotationFixture(t)
	staged := filepath.Join(snapDir, RoleStaged)
	assert.NilError(t, os.MkdirAll(filepath.Join(staged, "etc"), 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(staged, "etc/fstab"), []byte("UUID=x\t/\tbtrfs\tsubvol=@\t0 0\n"), 0o644))

	r := executil.NewFakeRunner()
	r.Responses["btrfs subvolume show "+filepath.Join(snapDir, RolePrevious)] = executil.FakeResponse{
		Err: &executil.CodedError{Code: 1, Msg: "not a subvolume"},
	}

	ro := NewRotator(r, snapDir, bootDir)
	assert.NilError(t, ro.Rotate(context.Background()))
	assert.Check(t, r.CalledWith("btrfs subvolume delete "+staged))
}
