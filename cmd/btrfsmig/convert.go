// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/btrfsmig/btrfsmig/pkg/convert"
	"github.com/btrfsmig/btrfsmig/pkg/executil"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

func newConvertCommand() *cobra.Command {
	convertCommand := &cobra.Command{
		Use:   "convert --device DEVICE",
		Short: "Convert the ext4 root partition to btrfs in place",
		Example: `  Convert /dev/sda3:
  $ btrfsmig convert --device /dev/sda3`,
		Args:          WrapArgsError(cobra.NoArgs),
		RunE:          convertAction,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	convertCommand.Flags().String("device", "", "root partition to convert")
	_ = convertCommand.MarkFlagRequired("device")
	convertCommand.Flags().Bool("resume", false, "resume an interrupted conversion from the checkpoint journal")
	convertCommand.Flags().BoolP("assume-yes", "y", false, "do not ask for confirmation before the destructive steps")
	return convertCommand
}

func convertAction(cmd *cobra.Command, _ []string) error {
	device, err := cmd.Flags().GetString("device")
	if err != nil {
		return err
	}
	resume, err := cmd.Flags().GetBool("resume")
	if err != nil {
		return err
	}
	assumeYes, err := cmd.Flags().GetBool("assume-yes")
	if err != nil {
		return err
	}
	cfg, err := policy.Load(policy.DefaultConfigFile)
	if err != nil {
		return err
	}
	p := convert.New(executil.New(), cfg, convert.Options{
		Resume:    resume,
		AssumeYes: assumeYes,
	})
	return p.Run(cmd.Context(), device)
}
