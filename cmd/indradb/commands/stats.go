package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
	"github.com/kolusask/indra-db/store"
)

// StatsCmd represents the stats command
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long:  "Display statement, evidence and reading counts for the readonly store.",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	var statements, totalEv int
	err = db.QueryRow(fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(ev_count), 0) FROM %s",
		schema.TableEvidenceCounts)).Scan(&statements, &totalEv)
	if err != nil {
		return errors.Wrap(err, "failed to query statement counts")
	}

	var mentions, readings, meshLinks int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.TableNameMeta)).Scan(&mentions); err != nil {
		return errors.Wrap(err, "failed to query mention counts")
	}
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.TableReadingRefLink)).Scan(&readings); err != nil {
		return errors.Wrap(err, "failed to query reading counts")
	}
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.TableMeshMeta)).Scan(&meshLinks); err != nil {
		return errors.Wrap(err, "failed to query mesh counts")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Store Statistics\n")
	fmt.Fprintf(cmd.OutOrStdout(), "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Database Path:    %s\n", cfg.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "Statements:       %d\n", statements)
	fmt.Fprintf(cmd.OutOrStdout(), "Total Evidence:   %d\n", totalEv)
	fmt.Fprintf(cmd.OutOrStdout(), "Agent Mentions:   %d\n", mentions)
	fmt.Fprintf(cmd.OutOrStdout(), "Readings:         %d\n", readings)
	fmt.Fprintf(cmd.OutOrStdout(), "MeSH Annotations: %d\n", meshLinks)
	fmt.Fprintln(cmd.OutOrStdout())

	// Per-source statement counts.
	fmt.Fprintf(cmd.OutOrStdout(), "Statements by source:\n")
	for _, src := range schema.Sources() {
		var n int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "%s" > 0`, schema.TableSourceMeta, src)
		if err := db.QueryRow(q).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to query source %s", src)
		}
		if n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", src, n)
		}
	}
	return nil
}
