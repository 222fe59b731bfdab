// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/maintain"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

func newMaintainCommand() *cobra.Command {
	maintainCommand := &cobra.Command{
		Use:   "maintain",
		Short: "Rotate snapshots, apply updates and reclaim space",
		Example: `  Full maintenance cycle:
  $ btrfsmig maintain

  Rotate snapshots only:
  $ btrfsmig maintain --skip-update --no-reboot`,
		Args:          WrapArgsError(cobra.NoArgs),
		RunE:          maintainAction,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	maintainCommand.Flags().Bool("no-reboot", false, "never prompt for a reboot")
	maintainCommand.Flags().Bool("skip-update", false, "skip mirror refresh and system update")
	return maintainCommand
}

func maintainAction(cmd *cobra.Command, _ []string) error {
	noReboot, err := cmd.Flags().GetBool("no-reboot")
	if err != nil {
		return err
	}
	skipUpdate, err := cmd.Flags().GetBool("skip-update")
	if err != nil {
		return err
	}
	cfg, err := policy.Load(policy.DefaultConfigFile)
	if err != nil {
		return err
	}
	m := maintain.New(executil.New(), cfg, maintain.Options{
		NoReboot:   noReboot,
		SkipUpdate: skipUpdate,
	})
	return m.Run(cmd.Context())
}
