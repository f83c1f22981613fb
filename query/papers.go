package query

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
)

// PaperRef identifies a publication by one of the text-ref id types.
type PaperRef struct {
	IDType string
	ID     string
}

// paperIDCols maps accepted id types to reading_ref_link columns. The
// type doubles as the column name; the map also serves as the whitelist.
var paperIDCols = map[string]string{
	"pmid":  "pmid",
	"pmcid": "pmcid",
	"doi":   "doi",
	"pii":   "pii",
	"url":   "url",
	"trid":  "trid",
	"tcid":  "tcid",
}

// FromPapers matches statements with evidence extracted from any of the
// given papers.
type FromPapers struct {
	node
	papers []PaperRef
}

// NewFromPapers builds a paper-set constraint. Every reference must name
// a known id type and a non-empty id; trid and tcid must be numeric. An
// empty set is a statically empty query.
func NewFromPapers(refs []PaperRef) (*FromPapers, error) {
	for _, r := range refs {
		if _, ok := paperIDCols[r.IDType]; !ok {
			return nil, errors.Wrapf(errors.ErrInvalidConstraint,
				"unknown paper id type %q", r.IDType)
		}
		if r.ID == "" {
			return nil, errors.Wrapf(errors.ErrInvalidConstraint,
				"empty %s paper id", r.IDType)
		}
		if r.IDType == "trid" || r.IDType == "tcid" {
			if _, err := strconv.ParseInt(r.ID, 10, 64); err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidConstraint,
					"%s paper id %q is not numeric", r.IDType, r.ID)
			}
		}
	}
	return newFromPapers(refs), nil
}

// newFromPapers builds from already-validated refs.
func newFromPapers(refs []PaperRef) *FromPapers {
	q := &FromPapers{papers: slices.Clone(refs)}
	slices.SortFunc(q.papers, func(a, b PaperRef) int {
		if a.IDType != b.IDType {
			if a.IDType < b.IDType {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	q.papers = slices.Compact(q.papers)
	if len(q.papers) == 0 {
		q.papers = nil
		q.empty = true
	}
	return q
}

// Papers returns the constrained references in canonical order.
func (q *FromPapers) Papers() []PaperRef { return slices.Clone(q.papers) }

func (q *FromPapers) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%sfrom {%d papers}", inv, len(q.papers))
}

func (q *FromPapers) copy() Query {
	cp := *q
	return &cp
}

func (q *FromPapers) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *FromPapers) And(other Query) Query        { return conjoin(q, other) }
func (q *FromPapers) Or(other Query) Query         { return disjoin(q, other) }
func (q *FromPapers) Subtract(other Query) Query   { return subtract(q, other) }
func (q *FromPapers) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *FromPapers) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *FromPapers) JSON() NodeJSON               { return nodeJSON(q) }
func (q *FromPapers) ComponentNames() []string     { return []string{"FromPapers"} }

func (q *FromPapers) constraint() (string, any) {
	pairs := make([][2]string, len(q.papers))
	for i, r := range q.papers {
		pairs[i] = [2]string{r.IDType, r.ID}
	}
	return "from_papers", map[string]any{"paper_list": pairs}
}

// refClauses builds the text-ref predicate. Positive form: any reference
// matches. Inverted form: every reference misses.
func (q *FromPapers) refClauses(b *clauseBuilder) {
	if !q.inv {
		clauses := make([]string, 0, len(q.papers))
		var args []any
		for _, r := range q.papers {
			c, a := paperRefClause(r, false)
			clauses = append(clauses, c)
			args = append(args, a)
		}
		b.addOr(clauses, args...)
		return
	}
	for _, r := range q.papers {
		c, a := paperRefClause(r, true)
		b.add(c, a)
	}
}

func paperRefClause(r PaperRef, inverted bool) (string, any) {
	col := paperIDCols[r.IDType]
	if r.IDType == "trid" || r.IDType == "tcid" {
		n, _ := strconv.ParseInt(r.ID, 10, 64)
		if inverted {
			return col + " IS NOT ?", n
		}
		return col + " = ?", n
	}
	if inverted {
		return col + " NOT LIKE ?", r.ID
	}
	return col + " LIKE ?", r.ID
}

// compile resolves the papers to reading ids and walks back to the
// statements their readings support. Cross-cutting filters are not
// folded in here: the reading link table has none of the meta columns,
// so an enclosing Intersection keeps those as separate operands.
func (q *FromPapers) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	b := &clauseBuilder{}
	q.refClauses(b)
	sql := fmt.Sprintf(
		"SELECT ec.mk_hash AS mk_hash, ec.ev_count AS ev_count"+
			" FROM %s AS ec"+
			" JOIN %s AS frp ON frp.mk_hash = ec.mk_hash"+
			" JOIN (SELECT rid FROM %s%s) AS rids ON frp.reading_id = rids.rid",
		schema.TableEvidenceCounts, schema.TableFastRawPaLink,
		schema.TableReadingRefLink, b.where())
	return &hashSelect{sql: sql, args: b.args}, nil
}
