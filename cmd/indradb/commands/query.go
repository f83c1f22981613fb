package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/logger"
	"github.com/kolusask/indra-db/query"
	"github.com/kolusask/indra-db/store"
)

var (
	queryView      string
	queryLimit     int
	queryOffset    int
	queryBestFirst bool
	queryEvLimit   int
	queryHashes    bool
)

// QueryCmd represents the query command
var QueryCmd = &cobra.Command{
	Use:   "query [FILE]",
	Short: "Run a JSON query against the store",
	Long: `Run a boolean statement query expressed as JSON.

The query is read from FILE, or from stdin when FILE is omitted or "-".

Examples:
  indradb query q.json                       # Matching hashes
  indradb query q.json --view statements     # Full statement JSON
  indradb query q.json --view interactions   # Per-hash metadata
  indradb query q.json --view relations      # Grouped by type and agents
  indradb query q.json --view agents         # Grouped by agents alone
  echo '{"constraint": {"agent_query": {"agent_id": "BRAF"}}}' | indradb query`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	QueryCmd.Flags().StringVar(&queryView, "view", "hashes",
		"Result view (hashes/statements/interactions/relations/agents)")
	QueryCmd.Flags().IntVarP(&queryLimit, "limit", "l", 100, "Maximum number of results (0 for all)")
	QueryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Number of results to skip")
	QueryCmd.Flags().BoolVar(&queryBestFirst, "best-first", true, "Order by evidence count, most supported first")
	QueryCmd.Flags().IntVarP(&queryEvLimit, "evidence", "e", 10,
		"Evidence entries per statement (-1 for all, statements view only)")
	QueryCmd.Flags().BoolVar(&queryHashes, "hashes", false, "Include member hashes in grouped views")
}

func runQuery(cmd *cobra.Command, args []string) error {
	raw, err := readQueryInput(args)
	if err != nil {
		return err
	}
	q, err := query.Parse(raw)
	if err != nil {
		if errors.IsInvalidConstraint(err) {
			return errors.WithHint(err,
				"check the constraint names and value shapes in the query JSON")
		}
		return errors.Wrap(err, "failed to parse query")
	}

	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ex := query.NewExecutor(db, logger.Logger)
	opts := query.PageOpts{Limit: queryLimit, Offset: queryOffset, BestFirst: queryBestFirst}
	ctx := cmd.Context()

	var out any
	switch queryView {
	case "hashes":
		out, err = ex.Hashes(ctx, q, opts)
	case "statements":
		out, err = ex.Statements(ctx, q, query.FetchOpts{
			PageOpts:      opts,
			EvidenceLimit: queryEvLimit,
		})
	case "interactions":
		out, err = ex.Interactions(ctx, q, opts)
	case "relations":
		out, err = ex.Relations(ctx, q, opts, queryHashes)
	case "agents":
		out, err = ex.Agents(ctx, q, opts, queryHashes)
	default:
		return errors.NewInvalidConstraintError("unknown view %q", queryView)
	}
	if err != nil {
		if errors.IsInvariantViolated(err) {
			return errors.WithHint(errors.Wrap(err, "query failed"),
				"this is a canonicalization bug; please report the query JSON")
		}
		return errors.Wrap(err, "query failed")
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func readQueryInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read query from stdin")
		}
		return raw, nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read query file %s", args[0])
	}
	return raw, nil
}

func openStore(cmd *cobra.Command) (*sql.DB, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	db, err := store.Open(cfg, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
