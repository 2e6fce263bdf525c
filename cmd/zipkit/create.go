package main

import (
	"github.com/spf13/cobra"

	"zipkit/deflate"
	"zipkit/job"
)

func buildCreateCommand() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "create ZIPPATH FOLDER",
		Short: "Build a new archive from a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectWildcard("ZIPPATH", args[0]); err != nil {
				return err
			}
			if err := rejectWildcard("FOLDER", args[1]); err != nil {
				return err
			}
			j := baseJob(job.Create, args[0])
			j.BaseFolder = args[1]
			j.Level = level
			return runJob(cmd.Context(), j)
		},
	}
	cmd.Flags().IntVar(&level, "level", deflate.DefaultLevel, "deflate level (-1..9)")
	return cmd
}
