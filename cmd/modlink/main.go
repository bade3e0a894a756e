package main

import (
	"os"

	"github.com/modlink/core/cli"
	"github.com/modlink/core/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"modlink",
		"Bridge between editor item libraries and a live game mod",
	)

	rootCmd.AddCommand(cmd.NewDaemonCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
