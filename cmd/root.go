package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "Per-session sandbox orchestration server",
	Long:  `sandboxd provisions an isolated execution environment per chat session and runs the plan/build/submit/deploy job pipeline against it.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
