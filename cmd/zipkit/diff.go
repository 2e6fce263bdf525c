package main

import (
	"github.com/spf13/cobra"

	"zipkit/job"
)

func buildDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff ZIPPATH FOLDER",
		Short: "Report mismatches between archive and a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectWildcard("ZIPPATH", args[0]); err != nil {
				return err
			}
			if err := rejectWildcard("FOLDER", args[1]); err != nil {
				return err
			}
			j := baseJob(job.Diff, args[0])
			j.BaseFolder = args[1]
			return runJob(cmd.Context(), j)
		},
	}
}
