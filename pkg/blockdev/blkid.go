// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"context"
	"fmt"
	"strings"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
)

// Probe is the blkid view of one device.
type Probe struct {
	Type string
	UUID string
}

// ProbeFS reads a device's filesystem type and UUID with blkid. Used as
// the read-back verification after formatting; the formatter's exit code
// alone is never trusted.
func ProbeFS(ctx context.Context, r executil.Runner, devPath string) (Probe, error) {
	out, err := r.Run(ctx, "blkid", "-o", "export", devPath)
	if err != nil {
		return Probe{}, fmt.Errorf("%w: %s", ErrGeometryUnresolved, err)
	}
	return parseBlkidExport(out)
}

func parseBlkidExport(out string) (Probe, error) {
	var p Probe
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "TYPE":
			p.Type = v
		case "UUID":
			p.UUID = v
		}
	}
	if p.Type == "" && p.UUID == "" {
		return Probe{}, fmt.Errorf("%w: blkid reported no TYPE or UUID", ErrGeometryUnresolved)
	}
	return p, nil
}
