// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package maintain is the recurring maintenance orchestrator: snapshot
// rotation, system update, space-reclamation balance, and a conditional
// operator-confirmed reboot.
package maintain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/sirupsen/logrus"

	"github.com/btrfsmig/btrfsmig/pkg/btrfs"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
	"github.com/btrfsmig/btrfsmig/pkg/precheck"
)

const (
	mirrorlist = "/etc/pacman.d/mirrorlist"
	updateLog  = "/var/log/pacman.log"
)

// Options configures one maintenance run.
type Options struct {
	// NoReboot suppresses the reboot prompt even when updates landed.
	NoReboot bool
	// SkipUpdate rotates snapshots and balances but applies no updates.
	SkipUpdate bool
}

// Maintainer runs the pipeline strictly in sequence.
type Maintainer struct {
	r    executil.Runner
	cfg  *policy.Config
	opts Options
}

func New(r executil.Runner, cfg *policy.Config, opts Options) *Maintainer {
	return &Maintainer{r: r, cfg: cfg, opts: opts}
}

func (m *Maintainer) Run(ctx context.Context) error {
	if err := precheck.RequireRoot(); err != nil {
		return err
	}

	rotator := NewRotator(m.r, m.cfg.SnapshotDir, "/boot")
	logrus.Info("rotating snapshots")
	if err := rotator.Rotate(ctx); err != nil {
		return err
	}

	if !m.opts.SkipUpdate {
		m.refreshMirrors(ctx)
		logrus.Info("applying system updates")
		out, err := m.r.Run(ctx, "pacman", "-Syu", "--noconfirm")
		logOutput(out)
		if err != nil {
			return fmt.Errorf("system update failed: %w", err)
		}
	}

	logrus.Infof("balancing with usage threshold %d%%", m.cfg.BalanceUsagePercent)
	if err := btrfs.Balance(ctx, m.r, "/", m.cfg.BalanceUsagePercent); err != nil {
		return err
	}

	return m.maybeReboot(ctx)
}

// refreshMirrors fetches an updated mirror list. Stale mirrors still
// work, so a failure here is a warning, not a halt.
func (m *Maintainer) refreshMirrors(ctx context.Context) {
	if out, err := m.r.Run(ctx, "reflector", "--save", mirrorlist); err != nil {
		logrus.WithError(err).Warnf("mirror refresh failed, keeping the existing list: %s", strings.TrimSpace(out))
	}
}

// maybeReboot scans the recent update log window for install/upgrade
// events and, when any are found, asks the operator before rebooting.
func (m *Maintainer) maybeReboot(ctx context.Context) error {
	b, err := os.ReadFile(updateLog)
	if err != nil {
		logrus.WithError(err).Warn("cannot read the update log, skipping reboot check")
		return nil
	}
	events := scanUpdateLog(string(b), time.Now().Add(-m.cfg.UpdateLogWindow))
	if len(events) == 0 {
		logrus.Info("no recent package changes, no reboot needed")
		return nil
	}
	logrus.Infof("%d package change(s) in the last %s", len(events), m.cfg.UpdateLogWindow)
	if m.opts.NoReboot {
		logrus.Info("reboot suppressed, reboot manually to pick up the changes")
		return nil
	}
	yes := false
	if err := survey.AskOne(&survey.Confirm{Message: "Updates were installed. Reboot now?"}, &yes); err != nil {
		return err
	}
	if !yes {
		logrus.Info("reboot declined")
		return nil
	}
	if _, err := m.r.Run(ctx, "systemctl", "reboot"); err != nil {
		return fmt.Errorf("reboot failed: %w", err)
	}
	return nil
}

// scanUpdateLog returns the install/upgrade lines stamped after since.
// Log lines look like:
//
//	[2026-08-29T06:00:01+0000] [ALPM] upgraded linux (6.15.1-1 -> 6.15.2-1)
func scanUpdateLog(content string, since time.Time) []string {
	var events []string
	for _, line := range strings.Split(content, "\n") {
		ts, rest, ok := splitLogLine(line)
		if !ok || ts.Before(since) {
			continue
		}
		if strings.HasPrefix(rest, "[ALPM] installed ") || strings.HasPrefix(rest, "[ALPM] upgraded ") {
			events = append(events, line)
		}
	}
	return events
}

func splitLogLine(line string) (time.Time, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return time.Time{}, "", false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, "", false
	}
	ts, err := time.Parse("2006-01-02T15:04:05-0700", line[1:end])
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, strings.TrimSpace(line[end+1:]), true
}

func logOutput(out string) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			logrus.Info(line)
		}
	}
}
