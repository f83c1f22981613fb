package query

import (
	"maps"
	"slices"
	"strings"

	"github.com/kolusask/indra-db/errors"
)

// Intersection is the conjunction of queries that could not be merged
// into a single leaf. Construction performs all the family-specific
// merging up front, so a built Intersection holds at most one
// fingerprint group, one paper set per polarity, and one cross-cutting
// leaf per family and polarity.
type Intersection struct {
	node
	queries []Query
	inPos   map[string]Intrusive
	inNeg   map[string]Intrusive
}

// NewIntersection canonicalizes and conjoins the given queries: source
// leaves fold into one SourceIntersection, same-family set leaves merge
// per polarity, cross-cutting leaves are collected for injection into
// the siblings' compilation, duplicates drop, and contradictions mark
// the result statically empty.
func NewIntersection(qs []Query) *Intersection {
	var (
		srcMembers []SourceQuery
		papersPos  Query
		papersNeg  Query
		inPos      = map[string]Intrusive{}
		inNeg      = map[string]Intrusive{}
		selected   []Query
		seen       = map[string]struct{}{}
		groups     = map[string][]Query{}
		empty      bool
		allFull    = true
	)
	keep := func(q Query) {
		k := jsonKey(q)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		selected = append(selected, q)
		name, _ := q.constraint()
		groups[name] = append(groups[name], q)
	}

	for _, q := range qs {
		if q.IsEmpty() {
			empty = true
		}
		if !q.IsFull() {
			allFull = false
		}
		switch t := q.(type) {
		case *SourceIntersection:
			srcMembers = append(srcMembers, t.queries...)
		case SourceQuery:
			srcMembers = append(srcMembers, t)
		case *FromPapers:
			if !t.inv {
				if papersPos == nil {
					papersPos = t
				} else {
					papersPos = conjoin(papersPos, t)
				}
			} else {
				if papersNeg == nil {
					papersNeg = t
				} else {
					papersNeg = conjoin(papersNeg, t)
				}
			}
		case Intrusive:
			m := inPos
			if t.isInverted() {
				m = inNeg
			}
			fam := t.family()
			if cur, ok := m[fam]; ok {
				merged, mok := conjoin(cur, t).(Intrusive)
				if !mok {
					// Same family, same polarity always merges.
					keep(q)
					continue
				}
				m[fam] = merged
			} else {
				m[fam] = t
			}
		default:
			keep(q)
		}
	}

	switch len(srcMembers) {
	case 0:
	case 1:
		if srcMembers[0].IsEmpty() {
			empty = true
		}
		keep(srcMembers[0])
	default:
		si := NewSourceIntersection(srcMembers)
		if si.IsEmpty() {
			empty = true
		}
		keep(si)
	}
	for _, p := range []Query{papersPos, papersNeg} {
		if p == nil {
			continue
		}
		if p.IsEmpty() {
			empty = true
		}
		keep(p)
	}
	for _, m := range []map[string]Intrusive{inPos, inNeg} {
		for _, fam := range slices.Sorted(maps.Keys(m)) {
			iq := m[fam]
			if iq.IsEmpty() {
				empty = true
			}
			keep(iq)
		}
	}

	// A pair of exact inverses anywhere in the conjunction proves it
	// empty.
	for _, grp := range groups {
		for i := 0; i < len(grp) && !empty; i++ {
			for j := i + 1; j < len(grp); j++ {
				if grp[i].IsInverseOf(grp[j]) {
					empty = true
					break
				}
			}
		}
	}
	for fam, pq := range inPos {
		if nq, ok := inNeg[fam]; ok && pq.IsInverseOf(nq) {
			empty = true
		}
	}

	// A union made entirely of cross-cutting members, each of which
	// contradicts a collected filter of its family, can never overlap
	// the rest of the conjunction.
	if len(inPos)+len(inNeg) > 0 {
		for _, q := range selected {
			u, ok := q.(*Union)
			if !ok {
				continue
			}
			if unionCancelledBy(u, inPos, inNeg) {
				empty = true
			}
		}
	}

	sortQueries(selected)
	iq := &Intersection{queries: selected, inPos: inPos, inNeg: inNeg}
	iq.full = allFull && !empty
	iq.empty = empty
	return iq
}

// unionCancelledBy reports whether every member of u is a cross-cutting
// leaf whose conjunction with a same-family collected filter is empty.
func unionCancelledBy(u *Union, inPos, inNeg map[string]Intrusive) bool {
	if len(u.queries) == 0 {
		return false
	}
	for _, sub := range u.queries {
		iq, ok := sub.(Intrusive)
		if !ok {
			return false
		}
		var compared, cancelled bool
		for _, m := range []map[string]Intrusive{inPos, inNeg} {
			if other, ok := m[iq.family()]; ok {
				compared = true
				if conjoin(iq, other).IsEmpty() {
					cancelled = true
				}
			}
		}
		if !compared || !cancelled {
			return false
		}
	}
	return true
}

// Queries returns the canonical operands, merged cross-cutting leaves
// included.
func (q *Intersection) Queries() []Query { return slices.Clone(q.queries) }

func (q *Intersection) String() string {
	parts := make([]string, len(q.queries))
	for i, sq := range q.queries {
		parts[i] = sq.String()
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

func (q *Intersection) copy() Query {
	cp := *q
	return &cp
}

// Invert distributes by De Morgan: not (a and b) is (not a or not b).
func (q *Intersection) Invert() Query {
	inverted := make([]Query, len(q.queries))
	for i, sq := range q.queries {
		inverted[i] = sq.Invert()
	}
	return NewUnion(inverted)
}

func (q *Intersection) And(other Query) Query        { return conjoin(q, other) }
func (q *Intersection) Or(other Query) Query         { return disjoin(q, other) }
func (q *Intersection) Subtract(other Query) Query   { return subtract(q, other) }
func (q *Intersection) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *Intersection) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *Intersection) JSON() NodeJSON               { return nodeJSON(q) }

func (q *Intersection) ComponentNames() []string {
	names := []string{"Intersection"}
	for _, sq := range q.queries {
		names = append(names, sq.ComponentNames()...)
	}
	return names
}

func (q *Intersection) constraint() (string, any) {
	members := make([]NodeJSON, len(q.queries))
	for i, sq := range q.queries {
		members[i] = sq.JSON()
	}
	return "intersection_query", members
}

func (q *Intersection) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	// Filters handed down from an enclosing merge fold into this
	// node's own collected filters.
	pos := maps.Clone(q.inPos)
	neg := maps.Clone(q.inNeg)
	for _, inj := range inject {
		m := pos
		if inj.isInverted() {
			m = neg
		}
		fam := inj.family()
		cur, ok := m[fam]
		if !ok {
			m[fam] = inj
			continue
		}
		merged := conjoin(cur, inj)
		if merged.IsEmpty() {
			return nil, nil
		}
		mi, mok := merged.(Intrusive)
		if !mok {
			return nil, errors.AssertionFailedf(
				"same-family filter merge yielded %T", merged)
		}
		m[fam] = mi
	}
	for fam, pq := range pos {
		if nq, ok := neg[fam]; ok && pq.IsInverseOf(nq) {
			return nil, nil
		}
	}
	injectList := sortedIntrusives(pos, neg)

	var (
		parts          []*hashSelect
		needStandalone bool
	)
	for _, child := range q.queries {
		if child.IsFull() {
			continue
		}
		if _, ok := child.(Intrusive); ok {
			continue
		}
		// The paper constraint resolves through the reading link
		// table, which has none of the meta columns, so the filters
		// must run as their own operands instead.
		childInject := injectList
		if _, ok := child.(*FromPapers); ok {
			childInject = nil
			needStandalone = true
		}
		hs, err := compileNode(cc, child, childInject)
		if err != nil {
			return nil, err
		}
		if hs == nil {
			return nil, nil
		}
		parts = append(parts, hs)
	}
	if len(parts) == 0 || (needStandalone && len(injectList) > 0) {
		if len(parts) == 0 && len(injectList) == 0 {
			return nil, errors.Wrap(errors.ErrInvariantViolated,
				"intersection has no compilable operands")
		}
		for _, iq := range injectList {
			hs, err := compileNode(cc, iq, nil)
			if err != nil {
				return nil, err
			}
			if hs == nil {
				return nil, nil
			}
			parts = append(parts, hs)
		}
	}
	return combineSelects(parts, " INTERSECT ", "intersection"), nil
}

// sortedIntrusives flattens the per-family filter maps in a
// deterministic order.
func sortedIntrusives(pos, neg map[string]Intrusive) []Intrusive {
	var out []Intrusive
	for _, m := range []map[string]Intrusive{pos, neg} {
		for _, fam := range slices.Sorted(maps.Keys(m)) {
			out = append(out, m[fam])
		}
	}
	return out
}

// Union is the disjunction of queries that could not be merged into a
// single leaf.
type Union struct {
	node
	queries []Query
}

// NewUnion canonicalizes and disjoins the given queries: same-family
// set leaves of matching polarity merge (positive sets union, negative
// sets intersect), duplicates drop, a statically full member or an
// exact-inverse pair marks the result statically full, and the union is
// empty only when every member is.
func NewUnion(qs []Query) *Union {
	type grpKey struct {
		name     string
		inverted bool
	}
	var (
		mergeGrps = map[grpKey][]Query{}
		selected  []Query
		seen      = map[string]struct{}{}
		groups    = map[string][]Query{}
		full      bool
		allEmpty  = true
	)
	keep := func(q Query) {
		k := jsonKey(q)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		selected = append(selected, q)
		name, _ := q.constraint()
		groups[name] = append(groups[name], q)
	}
	mergeable := func(q Query) bool {
		switch q.(type) {
		case *HasHash, *FromPapers, Intrusive:
			return true
		}
		return false
	}

	for _, q := range qs {
		if !q.IsEmpty() {
			allEmpty = false
		}
		if q.IsFull() {
			full = true
		}
		if mergeable(q) {
			name, _ := q.constraint()
			k := grpKey{name, q.isInverted()}
			mergeGrps[k] = append(mergeGrps[k], q)
		} else {
			keep(q)
		}
	}

	for _, k := range slices.SortedFunc(maps.Keys(mergeGrps), func(a, b grpKey) int {
		if a.name != b.name {
			if a.name < b.name {
				return -1
			}
			return 1
		}
		if a.inverted == b.inverted {
			return 0
		}
		if !a.inverted {
			return -1
		}
		return 1
	}) {
		grp := mergeGrps[k]
		merged := grp[0]
		for _, q := range grp[1:] {
			merged = disjoin(merged, q)
		}
		if merged.IsFull() {
			full = true
		}
		keep(merged)
	}

	// An exact-inverse pair makes the union a tautology.
	for _, grp := range groups {
		for i := 0; i < len(grp) && !full; i++ {
			for j := i + 1; j < len(grp); j++ {
				if grp[i].IsInverseOf(grp[j]) {
					full = true
					break
				}
			}
		}
	}

	sortQueries(selected)
	u := &Union{queries: selected}
	u.full = full
	u.empty = allEmpty && !full
	return u
}

// Queries returns the canonical operands.
func (q *Union) Queries() []Query { return slices.Clone(q.queries) }

func (q *Union) String() string {
	parts := make([]string, len(q.queries))
	for i, sq := range q.queries {
		parts[i] = sq.String()
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

func (q *Union) copy() Query {
	cp := *q
	return &cp
}

// Invert distributes by De Morgan: not (a or b) is (not a and not b).
// When every member is a source leaf the result folds straight into a
// SourceIntersection.
func (q *Union) Invert() Query {
	srcMembers := make([]SourceQuery, 0, len(q.queries))
	allSource := true
	for _, sq := range q.queries {
		inv := sq.Invert()
		if s, ok := inv.(SourceQuery); ok && allSource {
			srcMembers = append(srcMembers, s)
		} else {
			allSource = false
		}
	}
	if allSource && len(srcMembers) > 0 {
		return NewSourceIntersection(srcMembers)
	}
	inverted := make([]Query, len(q.queries))
	for i, sq := range q.queries {
		inverted[i] = sq.Invert()
	}
	return NewIntersection(inverted)
}

func (q *Union) And(other Query) Query        { return conjoin(q, other) }
func (q *Union) Or(other Query) Query         { return disjoin(q, other) }
func (q *Union) Subtract(other Query) Query   { return subtract(q, other) }
func (q *Union) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *Union) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *Union) JSON() NodeJSON               { return nodeJSON(q) }

func (q *Union) ComponentNames() []string {
	names := []string{"Union"}
	for _, sq := range q.queries {
		names = append(names, sq.ComponentNames()...)
	}
	return names
}

func (q *Union) constraint() (string, any) {
	members := make([]NodeJSON, len(q.queries))
	for i, sq := range q.queries {
		members[i] = sq.JSON()
	}
	return "union_query", members
}

func (q *Union) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	var parts []*hashSelect
	for _, child := range q.queries {
		if child.IsEmpty() {
			continue
		}
		sub := child
		rest := inject
		// A cross-cutting member absorbs the handed-down filters of
		// its own family rather than having them injected back into
		// itself.
		if iq, ok := child.(Intrusive); ok && len(inject) > 0 {
			rest = nil
			merged := Query(iq)
			for _, inj := range inject {
				if inj.family() == iq.family() {
					merged = conjoin(merged, inj)
				} else {
					rest = append(rest, inj)
				}
			}
			if merged.IsEmpty() {
				continue
			}
			sub = merged
		}
		hs, err := compileNode(cc, sub, rest)
		if err != nil {
			return nil, err
		}
		if hs == nil {
			continue
		}
		parts = append(parts, hs)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return combineSelects(parts, " UNION ALL ", "union_q"), nil
}
