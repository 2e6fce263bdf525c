package main

import "os"

func main() {
	rootCmd := buildRootCommand()
	rootCmd.AddCommand(buildListCommand())
	rootCmd.AddCommand(buildCreateCommand())
	rootCmd.AddCommand(buildExtractCommand())
	rootCmd.AddCommand(buildUpdateCommand())
	rootCmd.AddCommand(buildDiffCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
