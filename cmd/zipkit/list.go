package main

import (
	"github.com/spf13/cobra"

	"zipkit/job"
)

func buildListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list ZIPPATH",
		Short: "Enumerate archive contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectWildcard("ZIPPATH", args[0]); err != nil {
				return err
			}
			j := baseJob(job.List, args[0])
			return runJob(cmd.Context(), j)
		},
	}
}
