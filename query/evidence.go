package query

import (
	"strings"

	"github.com/kolusask/indra-db/schema"
)

// EvidenceFilter restricts which individual evidence rows are attached
// to returned statements, independent of which statements match the
// query. Filters compose with And/Or and render into the content pass
// of the executor.
type EvidenceFilter struct {
	joiner  string
	clauses []evidenceClause
}

type evidenceClause interface {
	// tables records which link tables the clause reads, so the
	// executor only joins what is needed.
	tables(dst map[string]struct{})

	// expr renders the clause against the executor's fixed aliases.
	expr() (string, []any)
}

// evidenceLeaf is a single pre-rendered condition on one link table.
type evidenceLeaf struct {
	table  string
	clause string
	args   []any
}

func (l evidenceLeaf) tables(dst map[string]struct{}) { dst[l.table] = struct{}{} }
func (l evidenceLeaf) expr() (string, []any)          { return l.clause, l.args }

func evidenceFrom(table, clause string, args ...any) *EvidenceFilter {
	return &EvidenceFilter{
		joiner:  "and",
		clauses: []evidenceClause{evidenceLeaf{table: table, clause: clause, args: args}},
	}
}

// And returns the conjunction of the two filters.
func (f *EvidenceFilter) And(other *EvidenceFilter) *EvidenceFilter {
	return f.merge("and", other)
}

// Or returns the disjunction of the two filters.
func (f *EvidenceFilter) Or(other *EvidenceFilter) *EvidenceFilter {
	return f.merge("or", other)
}

// merge flattens where joiners agree and nests where they differ,
// keeping the tree as shallow as possible.
func (f *EvidenceFilter) merge(method string, other *EvidenceFilter) *EvidenceFilter {
	var clauses []evidenceClause
	switch {
	case f.joiner == method && (other.joiner == method || len(other.clauses) == 1):
		clauses = append(append(clauses, f.clauses...), other.clauses...)
	case f.joiner == method:
		clauses = append(append(clauses, f.clauses...), other)
	case other.joiner == method && len(f.clauses) == 1:
		clauses = append(append(clauses, f.clauses...), other.clauses...)
	case other.joiner == method:
		clauses = append(append(clauses, other.clauses...), evidenceClause(f))
	case len(f.clauses) == 1 && len(other.clauses) == 1:
		clauses = append(append(clauses, f.clauses...), other.clauses...)
	case len(f.clauses) == 1:
		clauses = append(append(clauses, f.clauses...), other)
	case len(other.clauses) == 1:
		clauses = append(append(clauses, evidenceClause(f)), other.clauses...)
	default:
		clauses = []evidenceClause{f, other}
	}
	return &EvidenceFilter{joiner: method, clauses: clauses}
}

func (f *EvidenceFilter) tables(dst map[string]struct{}) {
	for _, c := range f.clauses {
		c.tables(dst)
	}
}

func (f *EvidenceFilter) expr() (string, []any) {
	if len(f.clauses) == 1 {
		return f.clauses[0].expr()
	}
	sep := " AND "
	if f.joiner == "or" {
		sep = " OR "
	}
	parts := make([]string, len(f.clauses))
	var args []any
	for i, c := range f.clauses {
		p, a := c.expr()
		parts[i] = p
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, sep) + ")", args
}

// linkTables returns the link tables the filter reads.
func (f *EvidenceFilter) linkTables() map[string]struct{} {
	dst := map[string]struct{}{}
	f.tables(dst)
	return dst
}

// EvFilter restricts attached evidence to the constrained sources.
func (q *HasSources) EvFilter() *EvidenceFilter {
	return sourceSetEvFilter(q.sources, q.inv)
}

// EvFilter restricts attached evidence to the exclusive source.
func (q *HasOnlySource) EvFilter() *EvidenceFilter {
	if q.inv {
		return evidenceFrom(schema.TableRawStmtSrc, "rss.src != ?", q.source)
	}
	return evidenceFrom(schema.TableRawStmtSrc, "rss.src = ?", q.source)
}

// EvFilter restricts attached evidence to reading sources.
func (q *HasReadings) EvFilter() *EvidenceFilter {
	return sourceSetEvFilter(schema.ReadingSources, q.inv)
}

// EvFilter restricts attached evidence to database sources.
func (q *HasDatabases) EvFilter() *EvidenceFilter {
	return sourceSetEvFilter(schema.DatabaseSources, q.inv)
}

func sourceSetEvFilter(sources []string, inverted bool) *EvidenceFilter {
	args := make([]any, len(sources))
	for i, s := range sources {
		args[i] = s
	}
	op := "IN"
	if inverted {
		op = "NOT IN"
	}
	clause := "rss.src " + op + " (" + placeholders(len(args)) + ")"
	return evidenceFrom(schema.TableRawStmtSrc, clause, args...)
}

// EvFilter restricts attached evidence to readings from papers with the
// MeSH annotation.
func (q *FromMeshID) EvFilter() *EvidenceFilter {
	if q.inv {
		return evidenceFrom(schema.TableRawStmtMesh, "rsm.mesh_num != ?", q.meshNum)
	}
	return evidenceFrom(schema.TableRawStmtMesh, "rsm.mesh_num = ?", q.meshNum)
}

// EvFilter restricts attached evidence to readings drawn from the
// constrained papers.
func (q *FromPapers) EvFilter() *EvidenceFilter {
	if !q.inv {
		clauses := make([]string, 0, len(q.papers))
		var args []any
		for _, r := range q.papers {
			c, a := paperRefClause(r, false)
			clauses = append(clauses, "erl."+c)
			args = append(args, a)
		}
		joined := strings.Join(clauses, " OR ")
		if len(clauses) > 1 {
			joined = "(" + joined + ")"
		}
		return evidenceFrom(schema.TableReadingRefLink, joined, args...)
	}
	clauses := make([]string, 0, len(q.papers))
	var args []any
	for _, r := range q.papers {
		c, a := paperRefClause(r, true)
		clauses = append(clauses, "erl."+c)
		args = append(args, a)
	}
	joined := strings.Join(clauses, " AND ")
	if len(clauses) > 1 {
		joined = "(" + joined + ")"
	}
	return evidenceFrom(schema.TableReadingRefLink, joined, args...)
}
