// Package schema describes the readonly analytical store that the query
// core compiles against: table and column names, the per-source column
// registry, integer mappings for statement types and agent roles, and the
// DDL used by fixtures and external loaders.
//
// The query core only ever reads these relations. Populating them is the
// job of the ingestion and deduplication pipelines, which live outside
// this repository.
package schema

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/kolusask/indra-db/errors"
)

// Table names of the readonly store.
const (
	TableSourceMeta     = "source_meta"
	TableNameMeta       = "name_meta"
	TableTextMeta       = "text_meta"
	TableOtherMeta      = "other_meta"
	TableMeshMeta       = "mesh_meta"
	TableEvidenceCounts = "ev_counts"
	TableFastRawPaLink  = "fast_raw_pa_link"
	TableReadingRefLink = "reading_ref_link"
	TableRawStmtSrc     = "raw_stmt_src"
	TableRawStmtMesh    = "raw_stmt_mesh"
)

// ReadingSources are sources produced by machine reading systems.
var ReadingSources = []string{"eidos", "isi", "medscan", "reach", "sparser", "trips"}

// DatabaseSources are curated knowledge bases.
var DatabaseSources = []string{"bel", "biogrid", "hprd", "pc", "psp", "signor", "tas"}

// Sources returns every known source name in registry order: readings
// first, then databases. The source_meta table carries one evidence-count
// column per entry.
func Sources() []string {
	all := make([]string, 0, len(ReadingSources)+len(DatabaseSources))
	all = append(all, ReadingSources...)
	all = append(all, DatabaseSources...)
	return all
}

var sourceSet = func() map[string]bool {
	m := make(map[string]bool)
	for _, s := range Sources() {
		m[s] = true
	}
	return m
}()

// IsSource reports whether name is a registered source column.
func IsSource(name string) bool {
	return sourceSet[name]
}

// CheckSources validates a collection of source names against the registry.
func CheckSources(names []string) error {
	for _, n := range names {
		if !IsSource(n) {
			return errors.Wrapf(errors.ErrUnknownSource, "%q", n)
		}
	}
	return nil
}

// Agent roles and their role_num encoding in the mention tables.
const (
	RoleSubject = "SUBJECT"
	RoleObject  = "OBJECT"
	RoleOther   = "OTHER"
)

var roleNums = map[string]int{
	RoleSubject: 0,
	RoleObject:  1,
	RoleOther:   2,
}

// RoleNum returns the integer encoding of an agent role.
func RoleNum(role string) (int, error) {
	n, ok := roleNums[role]
	if !ok {
		return 0, errors.NewInvalidConstraintError(
			"unknown agent role %q (want SUBJECT, OBJECT or OTHER)", role)
	}
	return n, nil
}

// statementTypes assigns stable type numbers. Order is append-only: the
// readonly store encodes type_num by position, so existing entries must
// never move.
var statementTypes = []string{
	"Acetylation",
	"Activation",
	"ActiveForm",
	"Complex",
	"Conversion",
	"DecreaseAmount",
	"Deacetylation",
	"Dephosphorylation",
	"Deubiquitination",
	"Gap",
	"Gef",
	"IncreaseAmount",
	"Inhibition",
	"Methylation",
	"Phosphorylation",
	"Translocation",
	"Ubiquitination",
}

var typeNums = func() map[string]int {
	m := make(map[string]int, len(statementTypes))
	for i, t := range statementTypes {
		m[t] = i
	}
	return m
}()

// TypeNum returns the integer encoding of a statement type name.
func TypeNum(name string) (int, error) {
	n, ok := typeNums[name]
	if !ok {
		return 0, errors.Wrapf(errors.ErrUnknownType, "%q", name)
	}
	return n, nil
}

// TypeName returns the statement type name for a type number, or "" when
// the number is out of range.
func TypeName(num int) string {
	if num < 0 || num >= len(statementTypes) {
		return ""
	}
	return statementTypes[num]
}

// StatementTypes returns all registered type names in type_num order.
func StatementTypes() []string {
	out := make([]string, len(statementTypes))
	copy(out, statementTypes)
	return out
}

// RegularizeAgentID normalizes an agent identifier the way the store's
// mention tables index it. CHEBI and GO ids are stored with their prefix;
// every other namespace is stored bare, so a redundant "<NS>:" prefix is
// stripped.
func RegularizeAgentID(id, namespace string) string {
	ns := strings.ToUpper(namespace)
	prefixed := map[string]bool{"CHEBI": true, "GO": true}
	prefix := ns + ":"
	if prefixed[ns] {
		if strings.HasPrefix(strings.ToUpper(id), prefix) {
			return ns + ":" + id[len(prefix):]
		}
		return ns + ":" + id
	}
	if strings.HasPrefix(strings.ToUpper(id), prefix) {
		return id[len(prefix):]
	}
	return id
}

// Create applies the readonly schema DDL. Used by test fixtures and by
// external loaders that materialize the store.
func Create(db *sql.DB) error {
	for _, stmt := range DDL() {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "create readonly schema")
		}
	}
	return nil
}

// DDL returns the CREATE TABLE statements for every readonly relation.
func DDL() []string {
	srcCols := make([]string, 0, len(sourceSet))
	for _, s := range Sources() {
		srcCols = append(srcCols, fmt.Sprintf("%s INTEGER", s))
	}

	mentionMeta := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mk_hash INTEGER NOT NULL,
			ev_count INTEGER NOT NULL,
			db_name TEXT,
			db_id TEXT,
			role_num INTEGER,
			ag_num INTEGER,
			type_num INTEGER,
			agent_count INTEGER,
			activity TEXT,
			is_active BOOLEAN
		)`, name)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mk_hash INTEGER PRIMARY KEY,
			ev_count INTEGER NOT NULL,
			type_num INTEGER,
			agent_count INTEGER,
			only_src TEXT,
			has_rd BOOLEAN,
			has_db BOOLEAN,
			src_json TEXT,
			%s
		)`, TableSourceMeta, strings.Join(srcCols, ",\n\t\t\t")),
		mentionMeta(TableNameMeta),
		mentionMeta(TableTextMeta),
		mentionMeta(TableOtherMeta),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mk_hash INTEGER NOT NULL,
			ev_count INTEGER NOT NULL,
			mesh_num INTEGER NOT NULL,
			type_num INTEGER,
			agent_count INTEGER
		)`, TableMeshMeta),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mk_hash INTEGER PRIMARY KEY,
			ev_count INTEGER NOT NULL
		)`, TableEvidenceCounts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			mk_hash INTEGER NOT NULL,
			raw_json TEXT,
			pa_json TEXT,
			reading_id INTEGER
		)`, TableFastRawPaLink),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			rid INTEGER PRIMARY KEY,
			trid INTEGER,
			tcid INTEGER,
			pmid TEXT,
			pmcid TEXT,
			doi TEXT,
			pii TEXT,
			url TEXT,
			source TEXT
		)`, TableReadingRefLink),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sid INTEGER NOT NULL,
			src TEXT NOT NULL
		)`, TableRawStmtSrc),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sid INTEGER NOT NULL,
			mesh_num INTEGER NOT NULL
		)`, TableRawStmtMesh),
	}
}
