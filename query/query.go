// Package query implements the readonly statement-search core: a
// composable boolean algebra over statement constraints, eager algebraic
// simplification at construction time, and a compiler/executor that
// lowers canonical query trees to single passes over the readonly store.
//
// Queries are immutable values. Every operator (And, Or, Invert,
// Subtract) returns a new node; nodes are safe to share across
// goroutines and hold no store or session state. Queries proven empty or
// full during construction short-circuit execution without touching the
// store at all.
package query

import (
	"slices"
)

// Query is a node in the statement query algebra: either a leaf
// constraint or a merge (intersection/union) of other nodes. The set of
// implementations is closed; the compiler dispatches exhaustively over
// it.
type Query interface {
	// String renders a human-readable description of the constraint.
	String() string

	// Invert returns the logical negation of the query.
	Invert() Query

	// And returns the conjunction of this query with other, simplified
	// as far as construction-time reasoning allows.
	And(other Query) Query

	// Or returns the disjunction of this query with other.
	Or(other Query) Query

	// Subtract returns this query minus other ("and not").
	Subtract(other Query) Query

	// IsEmpty reports whether the query is statically proven to match
	// nothing.
	IsEmpty() bool

	// IsFull reports whether the query is statically proven to match
	// everything.
	IsFull() bool

	// IsInverseOf reports whether other is the exact logical complement
	// of this query: same constraint, opposite polarity.
	IsInverseOf(other Query) bool

	// Equal reports structural equality: same canonical constraint
	// description and same polarity, independent of construction order.
	Equal(other Query) bool

	// JSON returns the canonical, deterministic description of the
	// query tree.
	JSON() NodeJSON

	// ComponentNames lists the names of the query elements included, in
	// no particular order.
	ComponentNames() []string

	// copy returns a shallow copy carrying the same flags. Payload
	// slices are shared; nodes are immutable so sharing is safe.
	copy() Query

	isInverted() bool

	// constraint returns the family name and payload of the canonical
	// description, with all collections in sorted order.
	constraint() (name string, payload any)

	// compile lowers the node to a SELECT yielding (mk_hash, ev_count)
	// rows, with the given cross-cutting filters injected. A nil result
	// with nil error means the node is proven to match nothing under
	// the injected filters.
	compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error)
}

// node carries the flags shared by every query implementation.
type node struct {
	inv   bool
	empty bool
	full  bool
}

func (n *node) flags() *node     { return n }
func (n *node) IsEmpty() bool    { return n.empty }
func (n *node) IsFull() bool     { return n.full }
func (n *node) isInverted() bool { return n.inv }

// invertFlags flips the polarity and swaps the empty/full sentinels,
// because "not everything" is nothing and vice versa.
func (n *node) invertFlags() {
	n.inv = !n.inv
	n.empty, n.full = n.full, n.empty
}

// SourceQuery is a leaf constraint evaluated against the wide
// per-statement source_meta relation. All such leaves can be conjoined
// into a single filter pass (see SourceIntersection) instead of a real
// set intersection.
type SourceQuery interface {
	Query

	// sourceFilter appends the leaf's predicate on source_meta to b.
	// invert flips polarity on top of the leaf's own flag, used when an
	// enclosing group is negated wholesale.
	sourceFilter(b *clauseBuilder, invert bool)
}

// Intrusive is a cross-cutting leaf (statement type, agent count,
// evidence count). These constraints read columns present on every meta
// relation, so an Intersection injects them into each sibling's own
// compilation instead of intersecting them as independent sub-queries.
type Intrusive interface {
	Query

	// family names the cross-cutting constraint family; an Intersection
	// keeps at most one merged member per family and polarity.
	family() string

	// metaClause appends the constraint's predicate to b. The column it
	// reads exists on every meta relation.
	metaClause(b *clauseBuilder)
}

func equalQueries(a, b Query) bool {
	return sameFamily(a, b) && a.isInverted() == b.isInverted() &&
		constraintKey(a) == constraintKey(b)
}

func inverseQueries(a, b Query) bool {
	return sameFamily(a, b) && a.isInverted() != b.isInverted() &&
		constraintKey(a) == constraintKey(b)
}

func sameFamily(a, b Query) bool {
	an, _ := a.constraint()
	bn, _ := b.constraint()
	return an == bn
}

// conjoin implements And over arbitrary nodes: trivial shortcuts first,
// then family-specific merges, then the generic Intersection.
func conjoin(a, b Query) Query {
	if a.Equal(b) {
		return a.copy()
	}
	if a.IsFull() {
		return b.copy()
	}
	if b.IsFull() {
		return a.copy()
	}
	if m := mergeSame(a, b, true); m != nil {
		return m
	}
	if m := mergeSource(a, b); m != nil {
		return m
	}
	if ai, ok := a.(*Intersection); ok {
		if bi, ok := b.(*Intersection); ok {
			return NewIntersection(append(slices.Clone(ai.queries), bi.queries...))
		}
		return NewIntersection(append(slices.Clone(ai.queries), b.copy()))
	}
	if bi, ok := b.(*Intersection); ok {
		return NewIntersection(append(slices.Clone(bi.queries), a.copy()))
	}
	return NewIntersection([]Query{a.copy(), b.copy()})
}

// disjoin implements Or: the mirror image of conjoin.
func disjoin(a, b Query) Query {
	if a.Equal(b) {
		return a.copy()
	}
	if a.IsEmpty() && !b.IsEmpty() {
		return b.copy()
	}
	if b.IsEmpty() && !a.IsEmpty() {
		return a.copy()
	}
	if m := mergeSame(a, b, false); m != nil {
		return m
	}
	if au, ok := a.(*Union); ok {
		if bu, ok := b.(*Union); ok {
			return NewUnion(append(slices.Clone(au.queries), bu.queries...))
		}
		return NewUnion(append(slices.Clone(au.queries), b.copy()))
	}
	if bu, ok := b.(*Union); ok {
		return NewUnion(append(slices.Clone(bu.queries), a.copy()))
	}
	return NewUnion([]Query{a.copy(), b.copy()})
}

func subtract(a, b Query) Query {
	return conjoin(a, b.Invert())
}

// mergeSource groups source_meta leaves into a SourceIntersection so
// their predicates are conjoined into one filter pass instead of a real
// relational intersection. Returns nil when neither operand belongs to
// the source family.
func mergeSource(a, b Query) Query {
	asi, aIsSI := a.(*SourceIntersection)
	bsi, bIsSI := b.(*SourceIntersection)
	asq, aIsSrc := a.(SourceQuery)
	bsq, bIsSrc := b.(SourceQuery)
	switch {
	case aIsSI && bIsSI:
		return NewSourceIntersection(append(slices.Clone(asi.queries), bsi.queries...))
	case aIsSI && bIsSrc:
		return NewSourceIntersection(append(slices.Clone(asi.queries), bsq))
	case bIsSI && aIsSrc:
		return NewSourceIntersection(append(slices.Clone(bsi.queries), asq))
	case aIsSrc && bIsSrc:
		return NewSourceIntersection([]SourceQuery{asq, bsq})
	}
	return nil
}

// mergeSame merges two leaves of the same set-valued family (fingerprint
// set, paper set, type set, agent-count set, evidence-count set) per the
// polarity rules: matching polarity merges the value sets (De Morgan
// reverses the operation when inverted); exact inverses collapse to the
// statically empty (AND) or statically full (OR) node. Returns nil when
// the pair is not mergeable.
func mergeSame(a, b Query, isAnd bool) Query {
	switch x := a.(type) {
	case *HasHash:
		y, ok := b.(*HasHash)
		if !ok {
			return nil
		}
		if x.inv == y.inv {
			vals, full := mergedValues(x.hashes, y.hashes, x.inv, isAnd)
			return rebuildSet(NewHasHash(vals), x.inv, full)
		}
		if x.IsInverseOf(y) {
			return contradiction(NewHasHash(nil), isAnd)
		}
	case *FromPapers:
		y, ok := b.(*FromPapers)
		if !ok {
			return nil
		}
		if x.inv == y.inv {
			vals, full := mergedValues(x.papers, y.papers, x.inv, isAnd)
			return rebuildSet(newFromPapers(vals), x.inv, full)
		}
		if x.IsInverseOf(y) {
			return contradiction(newFromPapers(nil), isAnd)
		}
	case *HasType:
		y, ok := b.(*HasType)
		if !ok {
			return nil
		}
		if x.inv == y.inv {
			vals, full := mergedValues(x.types, y.types, x.inv, isAnd)
			return rebuildSet(newHasType(vals), x.inv, full)
		}
		if x.IsInverseOf(y) {
			return contradiction(newHasType(nil), isAnd)
		}
	case *HasNumAgents:
		y, ok := b.(*HasNumAgents)
		if !ok {
			return nil
		}
		if x.inv == y.inv {
			vals, full := mergedValues(x.counts, y.counts, x.inv, isAnd)
			return rebuildSet(newHasNumAgents(vals), x.inv, full)
		}
		if x.IsInverseOf(y) {
			return contradiction(newHasNumAgents(nil), isAnd)
		}
	case *HasNumEvidence:
		y, ok := b.(*HasNumEvidence)
		if !ok {
			return nil
		}
		if x.inv == y.inv {
			vals, full := mergedValues(x.counts, y.counts, x.inv, isAnd)
			return rebuildSet(newHasNumEvidence(vals), x.inv, full)
		}
		if x.IsInverseOf(y) {
			return contradiction(newHasNumEvidence(nil), isAnd)
		}
	}
	return nil
}

// mergedValues applies the set-merge rule of matching-polarity leaves.
// Non-inverted: AND intersects, OR unions. Inverted: the reverse, per De
// Morgan. full reports that an inverted merge produced the empty set,
// which negates to everything.
func mergedValues[E comparable](a, b []E, inverted, isAnd bool) (vals []E, full bool) {
	if !inverted {
		if isAnd {
			vals = setIntersect(a, b)
		} else {
			vals = setUnion(a, b)
		}
		return vals, false
	}
	if isAnd {
		vals = setUnion(a, b)
	} else {
		vals = setIntersect(a, b)
	}
	return vals, len(vals) == 0
}

// rebuildSet finalizes a merged set leaf: restores polarity and corrects
// the sentinels for the inverted case, where an empty payload means full
// rather than empty.
func rebuildSet(q Query, inverted, full bool) Query {
	n := q.(interface{ flags() *node }).flags()
	n.inv = inverted
	if inverted {
		n.empty = false
		n.full = full
	}
	return q
}

// contradiction resolves an exact-inverse pair: nothing under AND,
// everything under OR.
func contradiction(emptyNode Query, isAnd bool) Query {
	if isAnd {
		return emptyNode
	}
	return emptyNode.Invert()
}

func setIntersect[E comparable](a, b []E) []E {
	in := make(map[E]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	var out []E
	for _, v := range a {
		if _, ok := in[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func setUnion[E comparable](a, b []E) []E {
	seen := make(map[E]struct{}, len(a)+len(b))
	var out []E
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// sortQueries orders a collection canonically by serialized form, so
// structurally equal trees serialize identically regardless of the order
// their constraints were supplied in.
func sortQueries[Q Query](qs []Q) {
	slices.SortFunc(qs, func(a, b Q) int {
		ka, kb := jsonKey(a), jsonKey(b)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
}

