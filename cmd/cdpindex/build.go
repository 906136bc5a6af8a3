package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cdpedia/cdpindex/internal/cli"
)

var (
	flagBuildInput  string
	flagBuildFormat string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a fresh index from a document list",
	Long: `Build reads documents and replaces the index in the index directory.

With --format jsonl each line is {"title","link","record_type","score"};
with --format lines each line is a title that is also its own link.
Use --input - to read from standard input.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&flagBuildInput, "input", "i", "", "input file, or - for stdin")
	buildCmd.Flags().StringVar(&flagBuildFormat, "format", string(cli.InputJSONL), "input format: jsonl or lines")
	_ = buildCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	format, err := cli.ParseInputFormat(flagBuildFormat)
	if err != nil {
		return err
	}
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.close()

	var in io.Reader = cmd.InOrStdin()
	if flagBuildInput != "-" {
		f, err := os.Open(flagBuildInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	if err := env.store.Create(ctx, cli.ReadEntries(in, format)); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	idx, err := env.store.Open(ctx)
	if err != nil {
		return fmt.Errorf("built index does not open: %w", err)
	}
	defer idx.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "Built %s index with %d documents at %s\n",
		env.store.Backend.Name(), idx.Len(), env.store.Path())
	return nil
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove what interrupted builds left in the index directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()
		freed, err := env.store.Clean()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "freed %d bytes\n", freed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
