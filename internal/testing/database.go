package testing

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kolusask/indra-db/schema"
)

// CreateTestDB creates an in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// The in-memory database vanishes when the pool opens a second
	// connection, so pin it to one.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// CreateReadonlyDB creates an in-memory database with the full readonly
// schema applied.
func CreateReadonlyDB(t *testing.T) *sql.DB {
	t.Helper()

	db := CreateTestDB(t)
	if err := schema.Create(db); err != nil {
		t.Fatalf("Failed to create readonly schema: %v", err)
	}
	return db
}

// Statement describes one statement's worth of fixture rows across the
// readonly relations.
type Statement struct {
	Hash       int64
	EvCount    int
	Type       string
	AgentCount int
	OnlySrc    string
	HasRd      bool
	HasDb      bool
	// SourceCounts maps source name to evidence count; keys also fill
	// the per-source columns and the src_json blob.
	SourceCounts map[string]int
	// Agents maps position to name; mention rows are written to
	// name_meta.
	Agents map[int]string
	// MeshNums annotates the statement's papers.
	MeshNums []int
}

// InsertStatements writes fixture statements into the meta relations.
func InsertStatements(t *testing.T, db *sql.DB, stmts []Statement) {
	t.Helper()

	for _, s := range stmts {
		typeNum, err := schema.TypeNum(s.Type)
		if err != nil {
			t.Fatalf("Bad fixture type %q: %v", s.Type, err)
		}

		srcJSON, err := json.Marshal(s.SourceCounts)
		if err != nil {
			t.Fatalf("Failed to encode source counts: %v", err)
		}

		cols := []string{"mk_hash", "ev_count", "type_num", "agent_count",
			"only_src", "has_rd", "has_db", "src_json"}
		args := []any{s.Hash, s.EvCount, typeNum, s.AgentCount,
			nullIfEmpty(s.OnlySrc), s.HasRd, s.HasDb, string(srcJSON)}
		for src, n := range s.SourceCounts {
			cols = append(cols, `"`+src+`"`)
			args = append(args, n)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			schema.TableSourceMeta, strings.Join(cols, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("Failed to insert source_meta fixture: %v", err)
		}

		if _, err := db.Exec(
			fmt.Sprintf("INSERT INTO %s (mk_hash, ev_count) VALUES (?, ?)",
				schema.TableEvidenceCounts),
			s.Hash, s.EvCount); err != nil {
			t.Fatalf("Failed to insert ev_counts fixture: %v", err)
		}

		for num, name := range s.Agents {
			if _, err := db.Exec(
				fmt.Sprintf("INSERT INTO %s (mk_hash, ev_count, db_name, db_id,"+
					" role_num, ag_num, type_num, agent_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
					schema.TableNameMeta),
				s.Hash, s.EvCount, "NAME", name, roleForPosition(num), num,
				typeNum, s.AgentCount); err != nil {
				t.Fatalf("Failed to insert name_meta fixture: %v", err)
			}
		}

		for _, mn := range s.MeshNums {
			if _, err := db.Exec(
				fmt.Sprintf("INSERT INTO %s (mk_hash, ev_count, mesh_num,"+
					" type_num, agent_count) VALUES (?, ?, ?, ?, ?)",
					schema.TableMeshMeta),
				s.Hash, s.EvCount, mn, typeNum, s.AgentCount); err != nil {
				t.Fatalf("Failed to insert mesh_meta fixture: %v", err)
			}
		}
	}
}

// ContentRow is one fast_raw_pa_link fixture row with its optional
// evidence-level links.
type ContentRow struct {
	ID        int64
	Hash      int64
	RawJSON   string
	PaJSON    string
	ReadingID int64
	Src       string
	MeshNums  []int
}

// InsertContent writes fixture content rows and their evidence-level
// link rows.
func InsertContent(t *testing.T, db *sql.DB, rows []ContentRow) {
	t.Helper()

	for _, r := range rows {
		if _, err := db.Exec(
			fmt.Sprintf("INSERT INTO %s (id, mk_hash, raw_json, pa_json,"+
				" reading_id) VALUES (?, ?, ?, ?, ?)",
				schema.TableFastRawPaLink),
			r.ID, r.Hash, nullIfEmpty(r.RawJSON), nullIfEmpty(r.PaJSON),
			nullIfZero(r.ReadingID)); err != nil {
			t.Fatalf("Failed to insert content fixture: %v", err)
		}
		if r.Src != "" {
			if _, err := db.Exec(
				fmt.Sprintf("INSERT INTO %s (sid, src) VALUES (?, ?)",
					schema.TableRawStmtSrc),
				r.ID, r.Src); err != nil {
				t.Fatalf("Failed to insert raw_stmt_src fixture: %v", err)
			}
		}
		for _, mn := range r.MeshNums {
			if _, err := db.Exec(
				fmt.Sprintf("INSERT INTO %s (sid, mesh_num) VALUES (?, ?)",
					schema.TableRawStmtMesh),
				r.ID, mn); err != nil {
				t.Fatalf("Failed to insert raw_stmt_mesh fixture: %v", err)
			}
		}
	}
}

// Reading is one reading_ref_link fixture row.
type Reading struct {
	RID    int64
	TRID   int64
	PMID   string
	DOI    string
	Source string
}

// InsertReadings writes reading_ref_link fixture rows.
func InsertReadings(t *testing.T, db *sql.DB, readings []Reading) {
	t.Helper()

	for _, r := range readings {
		if _, err := db.Exec(
			fmt.Sprintf("INSERT INTO %s (rid, trid, pmid, doi, source)"+
				" VALUES (?, ?, ?, ?, ?)",
				schema.TableReadingRefLink),
			r.RID, nullIfZero(r.TRID), nullIfEmpty(r.PMID),
			nullIfEmpty(r.DOI), nullIfEmpty(r.Source)); err != nil {
			t.Fatalf("Failed to insert reading fixture: %v", err)
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func roleForPosition(num int) int {
	switch num {
	case 0:
		return 0
	case 1:
		return 1
	}
	return 2
}
