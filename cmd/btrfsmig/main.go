// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/btrfsmig/btrfsmig/pkg/version"
)

func main() {
	if err := newApp().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "btrfsmig",
		Short:   "btrfsmig: in-place ext4 to btrfs root conversion and snapshot maintenance",
		Version: strings.TrimPrefix(version.Version, "v"),
		Example: `  Convert the root partition:
  $ btrfsmig convert --device /dev/sda3

  Resume an interrupted conversion:
  $ btrfsmig convert --device /dev/sda3 --resume

  Rotate snapshots, update and balance:
  $ btrfsmig maintain`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "debug mode")
	rootCmd.PersistentFlags().String("log-level", "", "set the logging level [trace, debug, info, warn, error]")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return processGlobalFlags(cmd.Root())
	}
	rootCmd.AddCommand(
		newConvertCommand(),
		newMaintainCommand(),
		newJournalCommand(),
	)
	return rootCmd
}

func processGlobalFlags(rootCmd *cobra.Command) error {
	if debug, _ := rootCmd.Flags().GetBool("debug"); debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	l, _ := rootCmd.Flags().GetString("log-level")
	if l != "" {
		lvl, err := logrus.ParseLevel(l)
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		formatter := new(logrus.TextFormatter)
		formatter.ForceColors = true
		logrus.StandardLogger().SetFormatter(formatter)
	}
	return nil
}

// WrapArgsError annotates cobra args error with some context, so the
// error message is more user-friendly.
func WrapArgsError(argFn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		err := argFn(cmd, args)
		if err == nil {
			return nil
		}

		return fmt.Errorf("%q %s.\nSee '%s --help'.\n\nUsage:  %s\n\n%s",
			cmd.CommandPath(), err.Error(),
			cmd.CommandPath(),
			cmd.UseLine(), cmd.Short,
		)
	}
}
