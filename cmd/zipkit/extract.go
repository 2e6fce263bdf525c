package main

import (
	"github.com/spf13/cobra"

	"zipkit/job"
)

func buildExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract ZIPPATH FOLDER",
		Short: "Decompress entries to disk, unconditionally overwriting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectWildcard("ZIPPATH", args[0]); err != nil {
				return err
			}
			if err := rejectWildcard("FOLDER", args[1]); err != nil {
				return err
			}
			j := baseJob(job.Extract, args[0])
			j.BaseFolder = args[1]
			return runJob(cmd.Context(), j)
		},
	}
}

func buildUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update ZIPPATH FOLDER",
		Short: "Extract only entries missing or differing by size/CRC",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectWildcard("ZIPPATH", args[0]); err != nil {
				return err
			}
			if err := rejectWildcard("FOLDER", args[1]); err != nil {
				return err
			}
			j := baseJob(job.Update, args[0])
			j.BaseFolder = args[1]
			return runJob(cmd.Context(), j)
		},
	}
}
