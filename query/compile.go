package query

import (
	"fmt"
	"strings"

	"github.com/kolusask/indra-db/schema"
)

// hashSelect is a lowered query node: a SELECT yielding (mk_hash,
// ev_count) rows plus its bound arguments.
type hashSelect struct {
	sql  string
	args []any
}

// clauseBuilder accumulates WHERE clauses and their arguments. Clauses
// joined by where() are conjoined.
type clauseBuilder struct {
	clauses []string
	args    []any
}

func (b *clauseBuilder) add(clause string, args ...any) {
	b.clauses = append(b.clauses, clause)
	b.args = append(b.args, args...)
}

// addOr appends a single clause disjoining the given alternatives.
func (b *clauseBuilder) addOr(clauses []string, args ...any) {
	switch len(clauses) {
	case 0:
		return
	case 1:
		b.add(clauses[0], args...)
	default:
		b.add("("+strings.Join(clauses, " OR ")+")", args...)
	}
}

// where renders the accumulated clauses as a WHERE fragment, or ""
// when no clause was added.
func (b *clauseBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// group renders the accumulated clauses as one parenthesized
// conjunction.
func (b *clauseBuilder) group() (string, []any) {
	switch len(b.clauses) {
	case 0:
		return "1 = 1", nil
	case 1:
		return b.clauses[0], b.args
	}
	return "(" + strings.Join(b.clauses, " AND ") + ")", b.args
}

// groupOr renders the accumulated clauses as one disjunction.
func (b *clauseBuilder) groupOr() (string, []any) {
	switch len(b.clauses) {
	case 0:
		return "1 = 0", nil
	case 1:
		return b.clauses[0], b.args
	}
	return strings.Join(b.clauses, " OR "), b.args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func selectFromWhere(table string, b *clauseBuilder) *hashSelect {
	return &hashSelect{
		sql:  "SELECT mk_hash, ev_count FROM " + table + b.where(),
		args: b.args,
	}
}

// combineSelects wraps the parts in a compound set operation. A single
// part passes through untouched.
func combineSelects(parts []*hashSelect, op, alias string) *hashSelect {
	if len(parts) == 1 {
		return parts[0]
	}
	sqls := make([]string, len(parts))
	var args []any
	for i, p := range parts {
		sqls[i] = p.sql
		args = append(args, p.args...)
	}
	return &hashSelect{
		sql: fmt.Sprintf("SELECT mk_hash, ev_count FROM (%s) AS %s",
			strings.Join(sqls, op), alias),
		args: args,
	}
}

// compileCtx memoizes lowered nodes for the duration of one compilation.
// Keys hold the node identity plus the injected-filter signature; the
// nodes themselves stay untouched, so compiling never mutates a query.
type compileCtx struct {
	memo map[string]*hashSelect
}

func newCompileCtx() *compileCtx {
	return &compileCtx{memo: map[string]*hashSelect{}}
}

func (cc *compileCtx) key(q Query, inject []Intrusive) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%p", q)
	for _, iq := range inject {
		sb.WriteByte('|')
		sb.WriteString(jsonKey(iq))
	}
	return sb.String()
}

// compileNode lowers q with the given injected filters. A nil result
// with nil error means the node is proven to match nothing; a statically
// full node lowers to an unfiltered scan of the statement population.
func compileNode(cc *compileCtx, q Query, inject []Intrusive) (*hashSelect, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	if q.IsFull() {
		return &hashSelect{
			sql: "SELECT mk_hash, ev_count FROM " + schema.TableSourceMeta,
		}, nil
	}
	key := cc.key(q, inject)
	if hs, ok := cc.memo[key]; ok {
		return hs, nil
	}
	hs, err := q.compile(cc, inject)
	if err != nil {
		return nil, err
	}
	cc.memo[key] = hs
	return hs, nil
}
