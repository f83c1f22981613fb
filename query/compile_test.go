package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolusask/indra-db/errors"
)

func compileOne(t *testing.T, q Query) *hashSelect {
	t.Helper()
	hs, err := compileNode(newCompileCtx(), q, nil)
	require.NoError(t, err)
	require.NotNil(t, hs)
	return hs
}

func TestCompileHashLeaf(t *testing.T) {
	hs := compileOne(t, NewHasHash([]int64{42}))
	assert.Equal(t, "SELECT mk_hash, ev_count FROM source_meta WHERE mk_hash = ?", hs.sql)
	assert.Equal(t, []any{int64(42)}, hs.args)

	hs = compileOne(t, NewHasHash([]int64{1, 2}))
	assert.Equal(t, "SELECT mk_hash, ev_count FROM source_meta WHERE mk_hash IN (?, ?)", hs.sql)
}

func TestCompileSourceIntersection(t *testing.T) {
	srcs, err := NewHasSources([]string{"reach", "tas"})
	require.NoError(t, err)
	q := srcs.And(NewHasReadings())
	require.IsType(t, &SourceIntersection{}, q)

	hs := compileOne(t, q)
	assert.Equal(t,
		`SELECT mk_hash, ev_count FROM source_meta WHERE has_rd = 1 AND "reach" > 0 AND "tas" > 0`,
		hs.sql)
	assert.Empty(t, hs.args)
}

func TestCompileInvertedSources(t *testing.T) {
	srcs, err := NewHasSources([]string{"reach", "tas"})
	require.NoError(t, err)
	hs := compileOne(t, srcs.Invert())
	assert.Equal(t,
		`SELECT mk_hash, ev_count FROM source_meta WHERE ("reach" IS NULL OR "tas" IS NULL)`,
		hs.sql)
}

func TestCompileAgent(t *testing.T) {
	t.Run("name namespace hits name_meta", func(t *testing.T) {
		hs := compileOne(t, mustAgent(t, "BRAF"))
		assert.Equal(t, "SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ?", hs.sql)
		assert.Equal(t, []any{"BRAF"}, hs.args)
	})

	t.Run("grounding namespace hits other_meta", func(t *testing.T) {
		q, err := NewHasAgent("HGNC:1097", "HGNC")
		require.NoError(t, err)
		hs := compileOne(t, q)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM other_meta WHERE db_id LIKE ? AND db_name LIKE ?",
			hs.sql)
		assert.Equal(t, []any{"1097", "HGNC"}, hs.args)
	})

	t.Run("role pins role_num", func(t *testing.T) {
		q, err := NewHasAgentInRole("BRAF", "NAME", "OBJECT")
		require.NoError(t, err)
		hs := compileOne(t, q)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ? AND role_num = ?",
			hs.sql)
		assert.Equal(t, []any{"BRAF", 1}, hs.args)
	})

	t.Run("inverted agent subtracts from the mention population", func(t *testing.T) {
		hs := compileOne(t, mustAgent(t, "BRAF").Invert())
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM ("+
				"SELECT mk_hash, ev_count FROM name_meta"+
				" EXCEPT "+
				"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ?"+
				") AS agent_exclude",
			hs.sql)
		assert.Equal(t, []any{"BRAF"}, hs.args)
	})
}

func TestCompileMesh(t *testing.T) {
	q := mustMesh(t, "D000818")
	hs := compileOne(t, q)
	assert.Equal(t, "SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ?", hs.sql)
	assert.Equal(t, []any{818}, hs.args)

	hs = compileOne(t, q.Invert())
	assert.Equal(t,
		"SELECT mk_hash, ev_count FROM ("+
			"SELECT mk_hash, ev_count FROM source_meta"+
			" EXCEPT SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ?"+
			") AS mesh_exclude",
		hs.sql)
}

func TestCompileIntrusiveInjection(t *testing.T) {
	t.Run("filters fold into sibling compilation", func(t *testing.T) {
		q := mustAgent(t, "BRAF").And(mustType(t, "Phosphorylation"))
		hs := compileOne(t, q)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ? AND type_num = ?",
			hs.sql)
		assert.Equal(t, []any{"BRAF", 14}, hs.args)
	})

	t.Run("inverted filter folds with flipped polarity", func(t *testing.T) {
		q := mustAgent(t, "BRAF").And(mustType(t, "Phosphorylation").Invert())
		hs := compileOne(t, q)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ? AND type_num != ?",
			hs.sql)
	})

	t.Run("filter on inverted agent joins the exclusion by De Morgan", func(t *testing.T) {
		q := mustAgent(t, "BRAF").Invert().And(mustType(t, "Phosphorylation"))
		hs := compileOne(t, q)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM ("+
				"SELECT mk_hash, ev_count FROM name_meta"+
				" EXCEPT "+
				"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ? OR type_num != ?"+
				") AS agent_exclude",
			hs.sql)
	})

	t.Run("lone intrusive pair compiles by intersection", func(t *testing.T) {
		numAg, err := NewHasNumAgents([]int{2})
		require.NoError(t, err)
		q := numAg.And(mustType(t, "Complex"))
		hs := compileOne(t, q)
		assert.Contains(t, hs.sql, " INTERSECT ")
		assert.Contains(t, hs.sql, "agent_count = ?")
		assert.Contains(t, hs.sql, "type_num = ?")
	})

	t.Run("same-family injection is rejected", func(t *testing.T) {
		ht := mustType(t, "Activation")
		other := mustType(t, "Complex")
		_, err := ht.compile(newCompileCtx(), []Intrusive{other})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvariantViolated))
	})
}

func TestCompileIntersection(t *testing.T) {
	q := mustAgent(t, "BRAF").And(mustMesh(t, "D000818"))
	hs := compileOne(t, q)
	assert.Equal(t,
		"SELECT mk_hash, ev_count FROM ("+
			"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ?"+
			" INTERSECT "+
			"SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ?"+
			") AS intersection",
		hs.sql)
	assert.Equal(t, []any{"BRAF", 818}, hs.args)
}

func TestCompileUnion(t *testing.T) {
	q := mustAgent(t, "BRAF").Or(mustMesh(t, "D000818"))
	hs := compileOne(t, q)
	assert.Equal(t,
		"SELECT mk_hash, ev_count FROM ("+
			"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ?"+
			" UNION ALL "+
			"SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ?"+
			") AS union_q",
		hs.sql)
}

func TestCompilePapers(t *testing.T) {
	papers, err := NewFromPapers([]PaperRef{
		{IDType: "pmid", ID: "12345"},
		{IDType: "trid", ID: "77"},
	})
	require.NoError(t, err)
	hs := compileOne(t, papers)
	assert.Equal(t,
		"SELECT ec.mk_hash AS mk_hash, ec.ev_count AS ev_count"+
			" FROM ev_counts AS ec"+
			" JOIN fast_raw_pa_link AS frp ON frp.mk_hash = ec.mk_hash"+
			" JOIN (SELECT rid FROM reading_ref_link"+
			" WHERE (pmid LIKE ? OR trid = ?)) AS rids ON frp.reading_id = rids.rid",
		hs.sql)
	assert.Equal(t, []any{"12345", int64(77)}, hs.args)
}

func TestCompilePapersWithFilterAddsStandaloneOperand(t *testing.T) {
	papers, err := NewFromPapers([]PaperRef{{IDType: "pmid", ID: "12345"}})
	require.NoError(t, err)
	q := papers.And(mustType(t, "Activation"))
	hs := compileOne(t, q)
	// The reading link pass cannot absorb a type filter, so the filter
	// must appear as its own INTERSECT operand.
	assert.Contains(t, hs.sql, " INTERSECT ")
	assert.Contains(t, hs.sql, "type_num = ?")
}

func TestCompileProvenEmpty(t *testing.T) {
	cases := []struct {
		name string
		q    Query
	}{
		{"empty leaf", NewHasHash(nil)},
		{"contradiction", mustAgent(t, "BRAF").And(mustType(t, "Activation")).And(mustType(t, "Activation").Invert())},
		{"all-empty union", NewUnion([]Query{NewHasHash(nil)})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hs, err := compileNode(newCompileCtx(), tc.q, nil)
			require.NoError(t, err)
			assert.Nil(t, hs)
		})
	}
}

func TestCompileFull(t *testing.T) {
	hs := compileOne(t, NewHasHash(nil).Invert())
	assert.Equal(t, "SELECT mk_hash, ev_count FROM source_meta", hs.sql)
}

func TestCompileInvertedMeshWithFilter(t *testing.T) {
	// The complement of an annotation runs against the full statement
	// population, so a handed-down filter must constrain that base, not
	// the excluded annotation set.
	q := mustMesh(t, "D000818").Invert().And(mustType(t, "Activation"))
	hs := compileOne(t, q)
	assert.Equal(t,
		"SELECT mk_hash, ev_count FROM ("+
			"SELECT mk_hash, ev_count FROM source_meta WHERE type_num = ?"+
			" EXCEPT SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ?"+
			") AS mesh_exclude",
		hs.sql)
	assert.Equal(t, []any{1, 818}, hs.args)
}

func TestCompileUnionAbsorbsHandedDownFilters(t *testing.T) {
	u := NewUnion([]Query{
		mustType(t, "Activation", "Inhibition"),
		mustMesh(t, "D000818"),
	})

	t.Run("same-family member narrows to the overlap", func(t *testing.T) {
		hs, err := u.compile(newCompileCtx(), []Intrusive{mustType(t, "Activation")})
		require.NoError(t, err)
		require.NotNil(t, hs)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM ("+
				"SELECT mk_hash, ev_count FROM source_meta WHERE type_num = ?"+
				" UNION ALL "+
				"SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ? AND type_num = ?"+
				") AS union_q",
			hs.sql)
		assert.Equal(t, []any{1, 818, 1}, hs.args)
	})

	t.Run("contradicted member drops out", func(t *testing.T) {
		hs, err := u.compile(newCompileCtx(), []Intrusive{mustType(t, "Complex")})
		require.NoError(t, err)
		require.NotNil(t, hs)
		assert.Equal(t,
			"SELECT mk_hash, ev_count FROM mesh_meta WHERE mesh_num = ? AND type_num = ?",
			hs.sql)
		assert.Equal(t, []any{818, 3}, hs.args)
	})

	t.Run("absorption holds inside an enclosing conjunction", func(t *testing.T) {
		q := mustAgent(t, "BRAF").And(u).And(mustType(t, "Activation"))
		hs := compileOne(t, q)
		assert.Contains(t, hs.sql, "source_meta WHERE type_num = ?")
		assert.NotContains(t, hs.sql, "type_num IN")
	})
}

func TestCompileNestedInjectMerge(t *testing.T) {
	// A nested intersection receiving a handed-down filter merges it
	// with its own collected filter of the same family.
	inner := NewIntersection([]Query{
		mustAgent(t, "BRAF"),
		mustType(t, "Activation", "Inhibition"),
	})
	hs, err := inner.compile(newCompileCtx(), []Intrusive{mustType(t, "Activation")})
	require.NoError(t, err)
	require.NotNil(t, hs)
	assert.Equal(t,
		"SELECT mk_hash, ev_count FROM name_meta WHERE db_id LIKE ? AND type_num = ?",
		hs.sql)

	// A contradictory handed-down filter proves the branch empty.
	hs, err = inner.compile(newCompileCtx(), []Intrusive{mustType(t, "Complex")})
	require.NoError(t, err)
	assert.Nil(t, hs)
}
