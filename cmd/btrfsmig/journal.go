// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/btrfsmig/btrfsmig/pkg/journal"
	"github.com/btrfsmig/btrfsmig/pkg/policy"
)

func newJournalCommand() *cobra.Command {
	journalCommand := &cobra.Command{
		Use:           "journal",
		Short:         "Show the checkpoint journal of the last conversion run",
		Args:          WrapArgsError(cobra.NoArgs),
		RunE:          journalAction,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return journalCommand
}

func journalAction(cmd *cobra.Command, _ []string) error {
	cfg, err := policy.Load(policy.DefaultConfigFile)
	if err != nil {
		return err
	}
	j, err := journal.Open(cfg.JournalFile)
	if err != nil {
		return err
	}
	if j.Empty() {
		fmt.Fprintln(cmd.OutOrStdout(), "no conversion journal")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 4, 8, 4, ' ', 0)
	fmt.Fprintln(w, "STEP\tDEVICE\tCOMPLETED AT")
	for _, rec := range j.Records() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Step, rec.Device, rec.At.Format("2006-01-02 15:04:05 MST"))
	}
	return w.Flush()
}
