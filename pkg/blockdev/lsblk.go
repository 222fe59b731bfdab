// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// lsblkEntry corresponds to one device of `lsblk --json --bytes` output.
type lsblkEntry struct {
	Name       string       `json:"name"`
	Path       string       `json:"path"`
	Type       string       `json:"type"`
	Size       int64        `json:"size"`
	FSType     string       `json:"fstype"`
	UUID       string       `json:"uuid"`
	Mountpoint string       `json:"mountpoint"`
	PkName     string       `json:"pkname"`
	Children   []lsblkEntry `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkEntry `json:"blockdevices"`
}

const lsblkColumns = "NAME,PATH,TYPE,SIZE,FSTYPE,UUID,MOUNTPOINT,PKNAME"

func lsblkDevice(ctx context.Context, r executil.Runner, devPath string) (lsblkEntry, error) {
	out, err := r.Run(ctx, "lsblk", "--json", "--bytes", "--output", lsblkColumns, devPath)
	if err != nil {
		return lsblkEntry{}, fmt.Errorf("%w: %s", ErrGeometryUnresolved, err)
	}
	dev, err := parseLsblk([]byte(out), devPath)
	if err != nil {
		return lsblkEntry{}, err
	}
	return dev, nil
}

func parseLsblk(b []byte, devPath string) (lsblkEntry, error) {
	var out lsblkOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return lsblkEntry{}, fmt.Errorf("%w: cannot parse lsblk output: %s", ErrGeometryUnresolved, err)
	}
	for _, dev := range out.BlockDevices {
		// Older lsblk releases omit the path column; derive it from the
		// name instead of accepting whatever entry came first.
		p := dev.Path
		if p == "" {
			p = path.Join("/dev", dev.Name)
		}
		if p == devPath {
			dev.Path = p
			return dev, nil
		}
	}
	return lsblkEntry{}, fmt.Errorf("%w: %s not reported by lsblk", ErrGeometryUnresolved, devPath)
}
