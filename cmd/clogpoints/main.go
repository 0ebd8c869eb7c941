package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clogpoints",
		Short:         "Score collection log completions by rarity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(suggestCmd())
	root.AddCommand(detailCmd())
	root.AddCommand(recalcCmd())
	root.AddCommand(clampCmd())
	root.AddCommand(whitelistCmd())
	root.AddCommand(awardCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the collection log table and refresh the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <item>",
		Short: "Show the points an item is worth",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), joinArgs(args))
		},
	}
}

func suggestCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:       "suggest items|categories [partial]",
		Short:     "Autocomplete item or category names",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"items", "categories"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggest(cmd.Context(), args[0], joinArgs(args[1:]), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max suggestions (default: from config)")
	return cmd
}

func detailCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "detail <item>",
		Short: "Show stored data, clamp state and award statistics for an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetail(cmd.Context(), joinArgs(args), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func recalcCmd() *cobra.Command {
	var (
		actor      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Correct previously awarded points for stale items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalc(cmd.Context(), actor, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "who triggered the run, for the action log")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func clampCmd() *cobra.Command {
	var (
		off   bool
		actor string
	)

	cmd := &cobra.Command{
		Use:   "clamp <category>",
		Short: "Cap points for every item in a category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClamp(cmd.Context(), joinArgs(args), !off, actor)
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "remove the clamp instead")
	cmd.Flags().StringVar(&actor, "actor", "cli", "who made the change, for the action log")
	return cmd
}

func whitelistCmd() *cobra.Command {
	var (
		off   bool
		actor string
	)

	cmd := &cobra.Command{
		Use:   "whitelist <item>",
		Short: "Exempt an item from its category clamp",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhitelist(cmd.Context(), joinArgs(args), !off, actor)
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "remove the exemption instead")
	cmd.Flags().StringVar(&actor, "actor", "cli", "who made the change, for the action log")
	return cmd
}

func awardCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "award <player-id> <item>",
		Short: "Record a completion and credit its points",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAward(cmd.Context(), args[0], joinArgs(args[1:]), name)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "player display name")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		port       int
		skipIngest bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, skipIngest)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	cmd.Flags().BoolVar(&skipIngest, "skip-ingest", false, "serve the stored catalog without fetching the wiki first")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with revision watcher and HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
