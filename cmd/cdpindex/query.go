package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cdpedia/cdpindex/internal/cli"
	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/search"
)

var (
	flagSearchPartial bool
	flagSearchLimit   int
	flagSearchOffset  int
	flagKeysCount     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [flags] <terms...>",
	Short: "Find titles containing every term",
	Long: `Search prints the titles that contain every term as a word. With
--partial each term only has to appear inside a word. Multi-word queries work with
or without quotes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Print a random document",
	Args:  cobra.NoArgs,
	RunE:  runRandom,
}

var containsCmd = &cobra.Command{
	Use:   "contains <token>",
	Short: "Report whether a word is in the index vocabulary",
	Args:  cobra.ExactArgs(1),
	RunE:  runContains,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the index vocabulary",
	Args:  cobra.NoArgs,
	RunE:  runKeys,
}

func init() {
	searchCmd.Flags().BoolVarP(&flagSearchPartial, "partial", "p", false, "match terms anywhere inside words")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 0, "number of results (default from config)")
	searchCmd.Flags().IntVar(&flagSearchOffset, "offset", 0, "results to skip")
	keysCmd.Flags().BoolVar(&flagKeysCount, "count", false, "print only the number of distinct tokens")
	rootCmd.AddCommand(searchCmd, randomCmd, containsCmd, keysCmd)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// openEngine loads the configured index into a query engine.
func openEngine(cmd *cobra.Command, env *runtimeEnv) (*search.Engine, error) {
	engine := search.NewEngine(env.store, &env.cfg.Search, search.WithLogger(env.logger))
	if err := engine.Reload(cmd.Context()); err != nil {
		return nil, err
	}
	return engine, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	response, err := engine.Search(cmd.Context(), &models.SearchQuery{
		Query:   buildSearchQuery(args),
		Partial: flagSearchPartial,
		Limit:   flagSearchLimit,
		Offset:  flagSearchOffset,
	})
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), response, env.format)
}

func runRandom(cmd *cobra.Command, _ []string) error {
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

	doc, err := engine.Random(cmd.Context())
	if err != nil {
		return err
	}
	return cli.WriteDocument(cmd.OutOrStdout(), doc, env.format)
}

func runContains(cmd *cobra.Command, args []string) error {
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

	ok, err := engine.Contains(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	return nil
}

func runKeys(cmd *cobra.Command, _ []string) error {
	env, err := setup(false)
	if err != nil {
		return err
	}
	defer env.close()
	idx, err := env.store.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer idx.Close()

	out := cmd.OutOrStdout()
	n := 0
	for token, err := range idx.Keys(cmd.Context()) {
		if err != nil {
			return err
		}
		n++
		if !flagKeysCount {
			fmt.Fprintln(out, token)
		}
	}
	if flagKeysCount {
		fmt.Fprintln(out, n)
	}
	return nil
}
