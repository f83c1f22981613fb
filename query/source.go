package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kolusask/indra-db/schema"
)

// HasHash matches statements whose matches-key hash is in a fixed set.
type HasHash struct {
	node
	hashes []int64
}

// NewHasHash builds a fingerprint-set constraint. An empty set is a
// statically empty query.
func NewHasHash(hashes []int64) *HasHash {
	h := &HasHash{hashes: slices.Clone(hashes)}
	slices.Sort(h.hashes)
	h.hashes = slices.Compact(h.hashes)
	if len(h.hashes) == 0 {
		h.hashes = nil
		h.empty = true
	}
	return h
}

// Hashes returns the constrained hash set in sorted order.
func (q *HasHash) Hashes() []int64 { return slices.Clone(q.hashes) }

func (q *HasHash) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%shash in {%d hashes}", inv, len(q.hashes))
}

func (q *HasHash) copy() Query {
	cp := *q
	return &cp
}

func (q *HasHash) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasHash) And(other Query) Query        { return conjoin(q, other) }
func (q *HasHash) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasHash) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasHash) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasHash) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasHash) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasHash) ComponentNames() []string     { return []string{"HasHash"} }

func (q *HasHash) constraint() (string, any) {
	return "hash_query", map[string]any{"hashes": q.hashes}
}

func (q *HasHash) sourceFilter(b *clauseBuilder, invert bool) {
	inverted := q.inv != invert
	if len(q.hashes) == 0 {
		if !inverted {
			b.add("1 = 0")
		}
		return
	}
	args := make([]any, len(q.hashes))
	for i, h := range q.hashes {
		args[i] = h
	}
	if len(args) == 1 {
		if inverted {
			b.add("mk_hash != ?", args...)
		} else {
			b.add("mk_hash = ?", args...)
		}
		return
	}
	if inverted {
		b.add("mk_hash NOT IN ("+placeholders(len(args))+")", args...)
	} else {
		b.add("mk_hash IN ("+placeholders(len(args))+")", args...)
	}
}

func (q *HasHash) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileSourceLeaf(q, inject)
}

// HasSources matches statements supported by every one of the given
// sources. The predicate is conjunctive over the set.
type HasSources struct {
	node
	sources []string
}

// NewHasSources builds a source-presence constraint. Every name must be
// a registered reading or database source; an empty set is a statically
// empty query.
func NewHasSources(sources []string) (*HasSources, error) {
	if err := schema.CheckSources(sources); err != nil {
		return nil, err
	}
	q := &HasSources{sources: slices.Clone(sources)}
	slices.Sort(q.sources)
	q.sources = slices.Compact(q.sources)
	if len(q.sources) == 0 {
		q.sources = nil
		q.empty = true
	}
	return q, nil
}

// Sources returns the constrained source names in sorted order.
func (q *HasSources) Sources() []string { return slices.Clone(q.sources) }

func (q *HasSources) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%shas sources [%s]", inv, strings.Join(q.sources, ", "))
}

func (q *HasSources) copy() Query {
	cp := *q
	return &cp
}

func (q *HasSources) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasSources) And(other Query) Query        { return conjoin(q, other) }
func (q *HasSources) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasSources) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasSources) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasSources) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasSources) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasSources) ComponentNames() []string     { return []string{"HasSources"} }

func (q *HasSources) constraint() (string, any) {
	return "has_sources", map[string]any{"sources": q.sources}
}

func (q *HasSources) sourceFilter(b *clauseBuilder, invert bool) {
	inverted := q.inv != invert
	if !inverted {
		for _, src := range q.sources {
			b.add(quoteCol(src) + " > 0")
		}
		return
	}
	// Negation of "all present" is "at least one absent".
	clauses := make([]string, len(q.sources))
	for i, src := range q.sources {
		clauses[i] = quoteCol(src) + " IS NULL"
	}
	b.addOr(clauses)
}

func (q *HasSources) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileSourceLeaf(q, inject)
}

// HasOnlySource matches statements whose evidence comes exclusively from
// a single source.
type HasOnlySource struct {
	node
	source string
}

// NewHasOnlySource builds an exclusive-source constraint for a
// registered source name.
func NewHasOnlySource(source string) (*HasOnlySource, error) {
	if err := schema.CheckSources([]string{source}); err != nil {
		return nil, err
	}
	return &HasOnlySource{source: source}, nil
}

// Source returns the constrained source name.
func (q *HasOnlySource) Source() string { return q.source }

func (q *HasOnlySource) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%sonly source %s", inv, q.source)
}

func (q *HasOnlySource) copy() Query {
	cp := *q
	return &cp
}

func (q *HasOnlySource) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasOnlySource) And(other Query) Query        { return conjoin(q, other) }
func (q *HasOnlySource) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasOnlySource) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasOnlySource) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasOnlySource) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasOnlySource) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasOnlySource) ComponentNames() []string     { return []string{"HasOnlySource"} }

func (q *HasOnlySource) constraint() (string, any) {
	return "has_only_source", map[string]any{"only_source": q.source}
}

func (q *HasOnlySource) sourceFilter(b *clauseBuilder, invert bool) {
	if q.inv != invert {
		b.add("only_src IS NOT ?", q.source)
	} else {
		b.add("only_src = ?", q.source)
	}
}

func (q *HasOnlySource) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileSourceLeaf(q, inject)
}

// HasReadings matches statements with at least one evidence drawn from a
// reading system.
type HasReadings struct {
	node
}

// NewHasReadings builds a reading-evidence presence constraint.
func NewHasReadings() *HasReadings { return &HasReadings{} }

func (q *HasReadings) String() string {
	if q.inv {
		return "has no readings"
	}
	return "has readings"
}

func (q *HasReadings) copy() Query {
	cp := *q
	return &cp
}

func (q *HasReadings) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasReadings) And(other Query) Query        { return conjoin(q, other) }
func (q *HasReadings) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasReadings) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasReadings) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasReadings) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasReadings) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasReadings) ComponentNames() []string     { return []string{"HasReadings"} }

func (q *HasReadings) constraint() (string, any) {
	return "has_readings_query", map[string]any{"_has_readings": true}
}

func (q *HasReadings) sourceFilter(b *clauseBuilder, invert bool) {
	if q.inv != invert {
		b.add("has_rd = 0")
	} else {
		b.add("has_rd = 1")
	}
}

func (q *HasReadings) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileSourceLeaf(q, inject)
}

// HasDatabases matches statements with at least one curated-database
// source.
type HasDatabases struct {
	node
}

// NewHasDatabases builds a database-evidence presence constraint.
func NewHasDatabases() *HasDatabases { return &HasDatabases{} }

func (q *HasDatabases) String() string {
	if q.inv {
		return "has no databases"
	}
	return "has databases"
}

func (q *HasDatabases) copy() Query {
	cp := *q
	return &cp
}

func (q *HasDatabases) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasDatabases) And(other Query) Query        { return conjoin(q, other) }
func (q *HasDatabases) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasDatabases) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasDatabases) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasDatabases) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasDatabases) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasDatabases) ComponentNames() []string     { return []string{"HasDatabases"} }

func (q *HasDatabases) constraint() (string, any) {
	return "has_databases_query", map[string]any{"_has_databases": true}
}

func (q *HasDatabases) sourceFilter(b *clauseBuilder, invert bool) {
	if q.inv != invert {
		b.add("has_db = 0")
	} else {
		b.add("has_db = 1")
	}
}

func (q *HasDatabases) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	return compileSourceLeaf(q, inject)
}

// compileSourceLeaf lowers a single source_meta leaf, folding injected
// cross-cutting filters into the same WHERE clause.
func compileSourceLeaf(q SourceQuery, inject []Intrusive) (*hashSelect, error) {
	b := &clauseBuilder{}
	q.sourceFilter(b, false)
	for _, iq := range inject {
		iq.metaClause(b)
	}
	return selectFromWhere(schema.TableSourceMeta, b), nil
}

// SourceIntersection conjoins source_meta leaves into one filter pass
// over the wide relation. It exists because each statement has exactly
// one source_meta row, so intersecting such leaves relationally would be
// wasted work.
type SourceIntersection struct {
	node
	queries []SourceQuery
}

// NewSourceIntersection merges the given source leaves: fingerprint sets
// of matching polarity are combined up front (positive sets intersect,
// negative sets union), duplicates are dropped, and exact-inverse pairs
// mark the whole group statically empty.
func NewSourceIntersection(qs []SourceQuery) *SourceIntersection {
	var (
		empty     bool
		addHashes map[int64]struct{}
		haveAdd   bool
		remHashes = map[int64]struct{}{}
		selected  []SourceQuery
		seen      = map[string]struct{}{}
		groups    = map[string][]SourceQuery{}
	)
	keep := func(sq SourceQuery) {
		k := jsonKey(sq)
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		selected = append(selected, sq)
		name, _ := sq.constraint()
		groups[name] = append(groups[name], sq)
	}

	for _, sq := range qs {
		if hh, ok := sq.(*HasHash); ok {
			if hh.inv {
				for _, h := range hh.hashes {
					remHashes[h] = struct{}{}
				}
			} else {
				hs := make(map[int64]struct{}, len(hh.hashes))
				for _, h := range hh.hashes {
					hs[h] = struct{}{}
				}
				if !haveAdd {
					addHashes, haveAdd = hs, true
				} else {
					for h := range addHashes {
						if _, ok := hs[h]; !ok {
							delete(addHashes, h)
						}
					}
				}
			}
			continue
		}
		keep(sq)
	}

	if haveAdd && len(remHashes) > 0 && hashSetsEqual(addHashes, remHashes) {
		// Keeping both sides makes the contradiction visible in the
		// serialized form.
		empty = true
		keep(NewHasHash(hashSetSlice(addHashes)))
		keep(NewHasHash(hashSetSlice(remHashes)).Invert().(*HasHash))
	} else {
		if haveAdd {
			if len(addHashes) == 0 {
				empty = true
			}
			diff := make([]int64, 0, len(addHashes))
			for h := range addHashes {
				if _, ok := remHashes[h]; !ok {
					diff = append(diff, h)
				}
			}
			keep(NewHasHash(diff))
			for h := range addHashes {
				delete(remHashes, h)
			}
		}
		if len(remHashes) > 0 {
			keep(NewHasHash(hashSetSlice(remHashes)).Invert().(*HasHash))
		}
	}

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
	for _, sq := range selected {
		if sq.IsEmpty() {
			empty = true
		}
	}
	if len(selected) == 0 {
		empty = true
	}

	sortQueries(selected)
	si := &SourceIntersection{queries: selected}
	si.empty = empty
	return si
}

// Queries returns the merged member leaves in canonical order.
func (q *SourceIntersection) Queries() []SourceQuery { return slices.Clone(q.queries) }

func (q *SourceIntersection) String() string {
	parts := make([]string, len(q.queries))
	for i, sq := range q.queries {
		parts[i] = sq.String()
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

func (q *SourceIntersection) copy() Query {
	cp := *q
	return &cp
}

// Invert distributes over the members: not (a and b) is (not a or not b).
func (q *SourceIntersection) Invert() Query {
	inverted := make([]Query, len(q.queries))
	for i, sq := range q.queries {
		inverted[i] = sq.Invert()
	}
	return NewUnion(inverted)
}

func (q *SourceIntersection) And(other Query) Query        { return conjoin(q, other) }
func (q *SourceIntersection) Or(other Query) Query         { return disjoin(q, other) }
func (q *SourceIntersection) Subtract(other Query) Query   { return subtract(q, other) }
func (q *SourceIntersection) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *SourceIntersection) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *SourceIntersection) JSON() NodeJSON               { return nodeJSON(q) }

func (q *SourceIntersection) ComponentNames() []string {
	names := []string{"SourceIntersection"}
	for _, sq := range q.queries {
		names = append(names, sq.ComponentNames()...)
	}
	return names
}

func (q *SourceIntersection) constraint() (string, any) {
	members := make([]NodeJSON, len(q.queries))
	for i, sq := range q.queries {
		members[i] = sq.JSON()
	}
	return "multi_source_query", map[string]any{"source_queries": members}
}

func (q *SourceIntersection) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	b := &clauseBuilder{}
	for _, sq := range q.queries {
		sq.sourceFilter(b, q.inv)
	}
	for _, iq := range inject {
		iq.metaClause(b)
	}
	return selectFromWhere(schema.TableSourceMeta, b), nil
}

func hashSetsEqual(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for h := range a {
		if _, ok := b[h]; !ok {
			return false
		}
	}
	return true
}

func hashSetSlice(s map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func quoteCol(name string) string {
	return `"` + name + `"`
}
