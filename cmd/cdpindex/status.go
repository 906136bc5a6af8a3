package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdpedia/cdpindex/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured index",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cdpindex version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, versionCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.close()
	engine, err := openEngine(cmd, env)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return cli.WriteStats(cmd.OutOrStdout(), stats, env.format)
}
