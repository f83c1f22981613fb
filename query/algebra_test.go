package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAgent(t *testing.T, name string) *HasAgent {
	t.Helper()
	q, err := NewHasAgent(name, "NAME")
	require.NoError(t, err)
	return q
}

func mustType(t *testing.T, types ...string) *HasType {
	t.Helper()
	q, err := NewHasType(types)
	require.NoError(t, err)
	return q
}

func mustMesh(t *testing.T, id string) *FromMeshID {
	t.Helper()
	q, err := NewFromMeshID(id)
	require.NoError(t, err)
	return q
}

func TestConjoinShortcuts(t *testing.T) {
	a := mustAgent(t, "MEK")

	t.Run("self conjunction is identity", func(t *testing.T) {
		assert.True(t, a.And(a).Equal(a))
		assert.True(t, a.Or(a).Equal(a))
	})

	t.Run("full operand drops out of AND", func(t *testing.T) {
		full := NewHasHash(nil).Invert()
		require.True(t, full.IsFull())
		assert.True(t, full.And(a).Equal(a))
		assert.True(t, a.And(full).Equal(a))
	})

	t.Run("empty operand drops out of OR", func(t *testing.T) {
		empty := NewHasHash(nil)
		require.True(t, empty.IsEmpty())
		assert.True(t, empty.Or(a).Equal(a))
		assert.True(t, a.Or(empty).Equal(a))
	})
}

func TestHashSetMerge(t *testing.T) {
	a := NewHasHash([]int64{5, 6})
	b := NewHasHash([]int64{6, 7})

	and, ok := a.And(b).(*HasHash)
	require.True(t, ok, "conjunction of hash sets should stay a hash set")
	assert.Equal(t, []int64{6}, and.Hashes())

	or, ok := a.Or(b).(*HasHash)
	require.True(t, ok)
	assert.Equal(t, []int64{5, 6, 7}, or.Hashes())
}

func TestInvertedSetMerge(t *testing.T) {
	a := NewHasHash([]int64{1, 2}).Invert()
	b := NewHasHash([]int64{2, 3}).Invert()

	// not-in A and not-in B excludes the union of the sets.
	and, ok := a.And(b).(*HasHash)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, and.Hashes())
	assert.True(t, and.isInverted())

	// not-in A or not-in B only excludes the overlap.
	or, ok := a.Or(b).(*HasHash)
	require.True(t, ok)
	assert.Equal(t, []int64{2}, or.Hashes())
	assert.True(t, or.isInverted())
}

func TestDisjointInvertedUnionIsFull(t *testing.T) {
	a := NewHasHash([]int64{1}).Invert()
	b := NewHasHash([]int64{2}).Invert()
	assert.True(t, a.Or(b).IsFull())
}

func TestExactInverseCollapse(t *testing.T) {
	cases := []struct {
		name string
		q    Query
	}{
		{"hashes", NewHasHash([]int64{1, 2, 3})},
		{"types", mustType(t, "Phosphorylation", "Activation")},
		{"agent", mustAgent(t, "BRAF")},
		{"mesh", mustMesh(t, "D001234")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := tc.q.Invert()
			assert.True(t, tc.q.IsInverseOf(inv))
			assert.True(t, tc.q.And(inv).IsEmpty(), "q and not-q must be empty")
			assert.True(t, tc.q.Or(inv).IsFull(), "q or not-q must be full")
		})
	}
}

func TestSourcePresenceContradiction(t *testing.T) {
	q, err := NewHasSources([]string{"reach"})
	require.NoError(t, err)
	assert.True(t, q.And(q.Invert()).IsEmpty())
}

func TestDoubleInversion(t *testing.T) {
	srcs, err := NewHasSources([]string{"reach", "tas"})
	require.NoError(t, err)
	cases := []struct {
		name string
		q    Query
	}{
		{"hash", NewHasHash([]int64{10, 20})},
		{"sources", srcs},
		{"agent", mustAgent(t, "TP53")},
		{"type", mustType(t, "Inhibition")},
		{"intersection", mustAgent(t, "TP53").And(mustMesh(t, "D000818"))},
		{"union", mustAgent(t, "TP53").Or(mustMesh(t, "D000818"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.q.Invert().Invert().Equal(tc.q))
		})
	}
}

func TestDeMorgan(t *testing.T) {
	a := mustAgent(t, "MAP2K1")
	b := mustMesh(t, "D009369")

	t.Run("negated intersection", func(t *testing.T) {
		lhs := a.And(b).Invert()
		rhs := a.Invert().Or(b.Invert())
		assert.True(t, lhs.Equal(rhs))
	})

	t.Run("negated union", func(t *testing.T) {
		lhs := a.Or(b).Invert()
		rhs := a.Invert().And(b.Invert())
		assert.True(t, lhs.Equal(rhs))
	})
}

func TestOperandOrderIrrelevant(t *testing.T) {
	a := mustAgent(t, "EGFR")
	b := mustMesh(t, "D009369")
	c := mustType(t, "Activation")

	assert.True(t, a.And(b).And(c).Equal(c.And(a).And(b)))
	assert.True(t, a.Or(b).Or(c).Equal(c.Or(a).Or(b)))
}

func TestSourceLeavesFoldIntoOnePass(t *testing.T) {
	srcs, err := NewHasSources([]string{"reach"})
	require.NoError(t, err)
	only, err := NewHasOnlySource("tas")
	require.NoError(t, err)

	merged := srcs.And(NewHasReadings()).And(only)
	si, ok := merged.(*SourceIntersection)
	require.True(t, ok, "source leaves should fold into a SourceIntersection")
	assert.Len(t, si.Queries(), 3)
}

func TestSourceIntersectionHashHandling(t *testing.T) {
	t.Run("positive sets intersect", func(t *testing.T) {
		si := NewSourceIntersection([]SourceQuery{
			NewHasHash([]int64{1, 2, 3}),
			NewHasHash([]int64{2, 3, 4}),
		})
		require.Len(t, si.Queries(), 1)
		hh, ok := si.Queries()[0].(*HasHash)
		require.True(t, ok)
		assert.Equal(t, []int64{2, 3}, hh.Hashes())
	})

	t.Run("negative sets union", func(t *testing.T) {
		si := NewSourceIntersection([]SourceQuery{
			NewHasHash([]int64{1}).Invert().(*HasHash),
			NewHasHash([]int64{2}).Invert().(*HasHash),
		})
		require.Len(t, si.Queries(), 1)
		hh, ok := si.Queries()[0].(*HasHash)
		require.True(t, ok)
		assert.Equal(t, []int64{1, 2}, hh.Hashes())
		assert.True(t, hh.isInverted())
	})

	t.Run("matching add and remove sets contradict", func(t *testing.T) {
		si := NewSourceIntersection([]SourceQuery{
			NewHasHash([]int64{7, 8}),
			NewHasHash([]int64{7, 8}).Invert().(*HasHash),
		})
		assert.True(t, si.IsEmpty())
	})

	t.Run("remove set subtracts from add set", func(t *testing.T) {
		si := NewSourceIntersection([]SourceQuery{
			NewHasHash([]int64{1, 2, 3}),
			NewHasHash([]int64{3}).Invert().(*HasHash),
		})
		require.Len(t, si.Queries(), 1)
		hh, ok := si.Queries()[0].(*HasHash)
		require.True(t, ok)
		assert.Equal(t, []int64{1, 2}, hh.Hashes())
		assert.False(t, si.IsEmpty())
	})
}

func TestIntersectionCollectsIntrusives(t *testing.T) {
	a := mustAgent(t, "KRAS")
	pos := mustType(t, "Activation", "Inhibition")
	neg := mustType(t, "Complex").Invert()

	q := a.And(pos).And(neg)
	in, ok := q.(*Intersection)
	require.True(t, ok)
	assert.False(t, in.IsEmpty())
	assert.Contains(t, in.ComponentNames(), "HasType")

	// Same family, same polarity collapses to the intersection of the
	// type sets.
	narrowed := a.And(pos).And(mustType(t, "Activation"))
	in2, ok := narrowed.(*Intersection)
	require.True(t, ok)
	var merged *HasType
	for _, child := range in2.Queries() {
		if ht, ok := child.(*HasType); ok {
			merged = ht
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, []string{"Activation"}, merged.Types())
}

func TestIntersectionIntrusiveContradiction(t *testing.T) {
	a := mustAgent(t, "KRAS")
	tq := mustType(t, "Activation")
	q := a.And(tq).And(tq.Invert())
	assert.True(t, q.IsEmpty())
}

func TestUnionCancelledByCollectedFilters(t *testing.T) {
	u := NewUnion([]Query{mustType(t, "Activation")})
	q := NewIntersection([]Query{
		mustAgent(t, "KRAS"),
		u,
		mustType(t, "Activation").Invert(),
	})
	assert.True(t, q.IsEmpty())
}

func TestUnionFlattening(t *testing.T) {
	a := mustAgent(t, "A")
	b := mustAgent(t, "B")
	c := mustAgent(t, "C")

	u := a.Or(b).Or(c)
	un, ok := u.(*Union)
	require.True(t, ok)
	assert.Len(t, un.Queries(), 3)
}

func TestMergeConstructorsNeverInverted(t *testing.T) {
	a := mustAgent(t, "A")
	b := mustMesh(t, "D000001")

	inv := a.And(b).Invert()
	if u, ok := inv.(*Union); ok {
		assert.False(t, u.isInverted())
	} else {
		t.Fatalf("inverted intersection should be a union, got %T", inv)
	}

	inv = a.Or(b).Invert()
	if in, ok := inv.(*Intersection); ok {
		assert.False(t, in.isInverted())
	} else {
		t.Fatalf("inverted union should be an intersection, got %T", inv)
	}
}

func TestInvertedSourceUnionFolds(t *testing.T) {
	srcs, err := NewHasSources([]string{"reach"})
	require.NoError(t, err)
	only, err := NewHasOnlySource("tas")
	require.NoError(t, err)

	u := srcs.Or(only)
	inv := u.Invert()
	_, ok := inv.(*SourceIntersection)
	assert.True(t, ok, "inverse of a union of source leaves should fold, got %T", inv)
}

func TestSubtract(t *testing.T) {
	a := NewHasHash([]int64{1, 2, 3})
	b := NewHasHash([]int64{3})

	diff, ok := a.Subtract(b).(*SourceIntersection)
	require.True(t, ok, "mixed-polarity hash sets meet in a SourceIntersection")
	require.Len(t, diff.Queries(), 1)
	hh, ok := diff.Queries()[0].(*HasHash)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, hh.Hashes())

	assert.True(t, a.Subtract(a).IsEmpty())
}

func TestConstructorValidation(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		_, err := NewHasSources([]string{"bogus"})
		assert.Error(t, err)
	})
	t.Run("unknown type", func(t *testing.T) {
		_, err := NewHasType([]string{"Levitation"})
		assert.Error(t, err)
	})
	t.Run("zero evidence count", func(t *testing.T) {
		_, err := NewHasNumEvidence([]int{0})
		assert.Error(t, err)
	})
	t.Run("bad mesh id", func(t *testing.T) {
		_, err := NewFromMeshID("C12345")
		assert.Error(t, err)
	})
	t.Run("empty agent id", func(t *testing.T) {
		_, err := NewHasAgent("", "NAME")
		assert.Error(t, err)
	})
	t.Run("bad paper id type", func(t *testing.T) {
		_, err := NewFromPapers([]PaperRef{{IDType: "isbn", ID: "1"}})
		assert.Error(t, err)
	})
	t.Run("non-numeric trid", func(t *testing.T) {
		_, err := NewFromPapers([]PaperRef{{IDType: "trid", ID: "abc"}})
		assert.Error(t, err)
	})
}

func TestEmptyValueSetsAreEmptyQueries(t *testing.T) {
	assert.True(t, NewHasHash(nil).IsEmpty())

	srcs, err := NewHasSources(nil)
	require.NoError(t, err)
	assert.True(t, srcs.IsEmpty())

	types, err := NewHasType(nil)
	require.NoError(t, err)
	assert.True(t, types.IsEmpty())

	papers, err := NewFromPapers(nil)
	require.NoError(t, err)
	assert.True(t, papers.IsEmpty())
}
