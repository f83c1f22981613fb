package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolusask/indra-db/cmd/indradb/commands"
	"github.com/kolusask/indra-db/logger"
)

var rootCmd = &cobra.Command{
	Use:   "indradb",
	Short: "indradb - Query the readonly statement store",
	Long: `indradb - Query the readonly INDRA statement store.

Run boolean queries over preassembled statements: filter by agent
mentions, statement type, evidence sources, papers and MeSH annotations,
and fetch hashes, full statements, or grouped relation views.

Available commands:
  query   - Run a JSON query against the store
  stats   - Show store statistics
  version - Show version information

Examples:
  indradb query q.json                         # Hashes matching the query
  indradb query q.json --view statements       # Full statement JSON
  indradb query q.json --view relations        # Grouped by type and agents
  indradb stats                                # Table counts and sources`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to TOML config file")

	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
