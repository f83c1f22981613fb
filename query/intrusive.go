package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
)

// HasType matches statements of any of the given types.
type HasType struct {
	node
	types []string
	nums  []int
}

// NewHasType builds a statement-type constraint. Names are validated
// against the known type registry and canonicalized; an empty set is a
// statically empty query.
func NewHasType(types []string) (*HasType, error) {
	canonical := make([]string, 0, len(types))
	for _, t := range types {
		num, err := schema.TypeNum(t)
		if err != nil {
			return nil, err
		}
		canonical = append(canonical, schema.TypeName(num))
	}
	return newHasType(canonical), nil
}

// newHasType builds from already-canonical names.
func newHasType(types []string) *HasType {
	q := &HasType{types: slices.Clone(types)}
	slices.Sort(q.types)
	q.types = slices.Compact(q.types)
	q.nums = make([]int, len(q.types))
	for i, t := range q.types {
		q.nums[i], _ = schema.TypeNum(t)
	}
	slices.Sort(q.nums)
	if len(q.types) == 0 {
		q.types, q.nums = nil, nil
		q.empty = true
	}
	return q
}

// Types returns the constrained type names in sorted order.
func (q *HasType) Types() []string { return slices.Clone(q.types) }

func (q *HasType) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%stype in [%s]", inv, strings.Join(q.types, ", "))
}

func (q *HasType) copy() Query {
	cp := *q
	return &cp
}

func (q *HasType) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasType) And(other Query) Query        { return conjoin(q, other) }
func (q *HasType) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasType) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasType) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasType) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasType) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasType) ComponentNames() []string     { return []string{"HasType"} }

func (q *HasType) constraint() (string, any) {
	return "has_type", map[string]any{"stmt_types": q.types}
}

func (q *HasType) family() string { return "has_type" }

func (q *HasType) metaClause(b *clauseBuilder) {
	addIntClause(b, "type_num", q.nums, q.inv)
}

func (q *HasType) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileIntrusive(q, inject)
}

// HasNumAgents matches statements whose agent count is in a fixed set.
type HasNumAgents struct {
	node
	counts []int
}

// NewHasNumAgents builds an agent-count constraint. Counts must be
// positive; an empty set is a statically empty query.
func NewHasNumAgents(counts []int) (*HasNumAgents, error) {
	for _, c := range counts {
		if c <= 0 {
			return nil, errors.Wrapf(errors.ErrInvalidConstraint,
				"agent count must be positive, got %d", c)
		}
	}
	return newHasNumAgents(counts), nil
}

func newHasNumAgents(counts []int) *HasNumAgents {
	q := &HasNumAgents{counts: slices.Clone(counts)}
	slices.Sort(q.counts)
	q.counts = slices.Compact(q.counts)
	if len(q.counts) == 0 {
		q.counts = nil
		q.empty = true
	}
	return q
}

// Counts returns the constrained agent counts in sorted order.
func (q *HasNumAgents) Counts() []int { return slices.Clone(q.counts) }

func (q *HasNumAgents) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%sagent count in %v", inv, q.counts)
}

func (q *HasNumAgents) copy() Query {
	cp := *q
	return &cp
}

func (q *HasNumAgents) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasNumAgents) And(other Query) Query        { return conjoin(q, other) }
func (q *HasNumAgents) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasNumAgents) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasNumAgents) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasNumAgents) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasNumAgents) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasNumAgents) ComponentNames() []string     { return []string{"HasNumAgents"} }

func (q *HasNumAgents) constraint() (string, any) {
	return "has_num_agents", map[string]any{"agent_nums": q.counts}
}

func (q *HasNumAgents) family() string { return "has_num_agents" }

func (q *HasNumAgents) metaClause(b *clauseBuilder) {
	addIntClause(b, "agent_count", q.counts, q.inv)
}

func (q *HasNumAgents) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileIntrusive(q, inject)
}

// HasNumEvidence matches statements whose total evidence count is in a
// fixed set.
type HasNumEvidence struct {
	node
	counts []int
}

// NewHasNumEvidence builds an evidence-count constraint. Counts must be
// positive; an empty set is a statically empty query.
func NewHasNumEvidence(counts []int) (*HasNumEvidence, error) {
	for _, c := range counts {
		if c <= 0 {
			return nil, errors.Wrapf(errors.ErrInvalidConstraint,
				"evidence count must be positive, got %d", c)
		}
	}
	return newHasNumEvidence(counts), nil
}

func newHasNumEvidence(counts []int) *HasNumEvidence {
	q := &HasNumEvidence{counts: slices.Clone(counts)}
	slices.Sort(q.counts)
	q.counts = slices.Compact(q.counts)
	if len(q.counts) == 0 {
		q.counts = nil
		q.empty = true
	}
	return q
}

// Counts returns the constrained evidence counts in sorted order.
func (q *HasNumEvidence) Counts() []int { return slices.Clone(q.counts) }

func (q *HasNumEvidence) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%sevidence count in %v", inv, q.counts)
}

func (q *HasNumEvidence) copy() Query {
	cp := *q
	return &cp
}

func (q *HasNumEvidence) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasNumEvidence) And(other Query) Query        { return conjoin(q, other) }
func (q *HasNumEvidence) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasNumEvidence) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasNumEvidence) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasNumEvidence) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasNumEvidence) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasNumEvidence) ComponentNames() []string     { return []string{"HasNumEvidence"} }

func (q *HasNumEvidence) constraint() (string, any) {
	return "has_num_evidence", map[string]any{"evidence_nums": q.counts}
}

func (q *HasNumEvidence) family() string { return "has_num_evidence" }

func (q *HasNumEvidence) metaClause(b *clauseBuilder) {
	addIntClause(b, "ev_count", q.counts, q.inv)
}

func (q *HasNumEvidence) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileIntrusive(q, inject)
}

// addIntClause appends a set-membership predicate over an integer
// column.
func addIntClause(b *clauseBuilder, col string, vals []int, inverted bool) {
	if len(vals) == 0 {
		if !inverted {
			b.add("1 = 0")
		}
		return
	}
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	if len(args) == 1 {
		if inverted {
			b.add(col+" != ?", args...)
		} else {
			b.add(col+" = ?", args...)
		}
		return
	}
	if inverted {
		b.add(col+" NOT IN ("+placeholders(len(args))+")", args...)
	} else {
		b.add(col+" IN ("+placeholders(len(args))+")", args...)
	}
}

// compileIntrusive lowers a standalone cross-cutting leaf against
// source_meta. Injecting a filter of the same family into its own
// compilation is a contract violation: the enclosing merge node is
// responsible for combining those up front.
func compileIntrusive(q Intrusive, inject []Intrusive) (*hashSelect, error) {
	for _, iq := range inject {
		if iq.family() == q.family() {
			return nil, errors.Wrapf(errors.ErrInvariantViolated,
				"cannot inject a %s filter into another %s query",
				q.family(), q.family())
		}
	}
	b := &clauseBuilder{}
	q.metaClause(b)
	for _, iq := range inject {
		iq.metaClause(b)
	}
	return selectFromWhere(schema.TableSourceMeta, b), nil
}
