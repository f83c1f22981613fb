package query

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	dbtest "github.com/kolusask/indra-db/internal/testing"
)

// fifteenStatements populates the store with 15 Activation statements
// mentioning AGENT0..AGENT14, with evidence counts descending by hash.
func fifteenStatements(t *testing.T) *sql.DB {
	t.Helper()
	db := dbtest.CreateReadonlyDB(t)
	stmts := make([]dbtest.Statement, 0, 15)
	for i := 1; i <= 15; i++ {
		stmts = append(stmts, dbtest.Statement{
			Hash:         int64(i),
			EvCount:      100 - i,
			Type:         "Activation",
			AgentCount:   2,
			HasRd:        true,
			SourceCounts: map[string]int{"reach": 100 - i},
			Agents:       map[int]string{0: fmt.Sprintf("AGENT%d", i-1), 1: "TP53"},
		})
	}
	dbtest.InsertStatements(t, db, stmts)
	return db
}

func TestHashesPagination(t *testing.T) {
	db := fifteenStatements(t)
	ex := NewExecutor(db, nil)
	q := mustType(t, "Activation")

	first, err := ex.Hashes(context.Background(), q, PageOpts{Limit: 10, BestFirst: true})
	require.NoError(t, err)
	assert.Len(t, first.Hashes, 10)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, first.Hashes,
		"best-first returns highest evidence counts first")
	require.NotNil(t, first.NextOffset)
	assert.Equal(t, 10, *first.NextOffset)

	second, err := ex.Hashes(context.Background(), q,
		PageOpts{Limit: 10, Offset: *first.NextOffset, BestFirst: true})
	require.NoError(t, err)
	assert.Len(t, second.Hashes, 5)
	assert.Equal(t, []int64{11, 12, 13, 14, 15}, second.Hashes)
	assert.Nil(t, second.NextOffset, "an underfull page ends the scan")
}

func TestHashesEvidenceTotals(t *testing.T) {
	db := fifteenStatements(t)
	ex := NewExecutor(db, nil)

	res, err := ex.Hashes(context.Background(), mustType(t, "Activation"),
		PageOpts{Limit: 3, BestFirst: true})
	require.NoError(t, err)
	assert.Equal(t, 99, res.EvidenceTotals[1])
	assert.Equal(t, 99+98+97, res.TotalEvidence)
}

func TestEmptyQueryNeverTouchesStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ex := NewExecutor(db, nil)
	q := mustType(t, "Activation").And(mustType(t, "Activation").Invert())
	require.True(t, q.IsEmpty())

	res, err := ex.Hashes(context.Background(), q, PageOpts{})
	require.NoError(t, err)
	assert.Empty(t, res.Hashes)

	sres, err := ex.Statements(context.Background(), q, FetchOpts{})
	require.NoError(t, err)
	assert.Empty(t, sres.Statements)

	assert.NoError(t, mock.ExpectationsWereMet(),
		"a statically empty query must not issue any SQL")
}

func TestInvertedAgentExecution(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 1, EvCount: 5, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 5},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
		{Hash: 2, EvCount: 3, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 3},
			Agents:       map[int]string{0: "TP53", 1: "MDM2"}},
	})
	ex := NewExecutor(db, nil)

	res, err := ex.Hashes(context.Background(), mustAgent(t, "BRAF").Invert(),
		PageOpts{BestFirst: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.Hashes,
		"negated mention keeps only statements without the agent")
}

func statementFixture(t *testing.T) *sql.DB {
	t.Helper()
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 10, EvCount: 3, Type: "Phosphorylation", AgentCount: 2,
			HasRd:        true,
			SourceCounts: map[string]int{"reach": 2, "sparser": 1},
			Agents:       map[int]string{0: "MAP2K1", 1: "MAPK1"}},
		{Hash: 20, EvCount: 1, Type: "Activation", AgentCount: 2,
			HasDb:        true,
			SourceCounts: map[string]int{"tas": 1},
			Agents:       map[int]string{0: "EGFR", 1: "KRAS"}},
	})
	dbtest.InsertContent(t, db, []dbtest.ContentRow{
		{ID: 1, Hash: 10, ReadingID: 100, Src: "reach",
			PaJSON:  `{"type": "Phosphorylation", "enz": {"name": "MAP2K1"}}`,
			RawJSON: `{"evidence": [{"text": "first"}]}`},
		{ID: 2, Hash: 10, ReadingID: 101, Src: "reach",
			PaJSON:  `{"type": "Phosphorylation", "enz": {"name": "MAP2K1"}}`,
			RawJSON: `{"evidence": [{"text": "second"}]}`},
		{ID: 3, Hash: 10, ReadingID: 102, Src: "sparser",
			PaJSON:  `{"type": "Phosphorylation", "enz": {"name": "MAP2K1"}}`,
			RawJSON: `{"evidence": [{"text": "third"}]}`},
		{ID: 4, Hash: 20, Src: "tas",
			PaJSON:  `{"type": "Activation", "subj": {"name": "EGFR"}}`,
			RawJSON: `{"evidence": [{"text": "db row"}]}`},
	})
	dbtest.InsertReadings(t, db, []dbtest.Reading{
		{RID: 100, TRID: 7, PMID: "11111", Source: "pubmed"},
		{RID: 101, TRID: 7, PMID: "11111", Source: "pubmed"},
		{RID: 102, TRID: 8, DOI: "10.1000/xyz", Source: "manuscripts"},
	})
	return db
}

func TestStatementsEvidenceLimit(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)
	q := mustAgent(t, "MAP2K1")

	t.Run("zero returns bare statements", func(t *testing.T) {
		res, err := ex.Statements(context.Background(), q,
			FetchOpts{EvidenceLimit: 0})
		require.NoError(t, err)
		require.Contains(t, res.Statements, int64(10))
		assert.Empty(t, res.Statements[10]["evidence"])
		assert.Zero(t, res.ReturnedEvidence)
		assert.Equal(t, 3, res.EvidenceTotals[10],
			"totals reflect the store even when no evidence is attached")
	})

	t.Run("bounded attaches at most the limit", func(t *testing.T) {
		res, err := ex.Statements(context.Background(), q,
			FetchOpts{EvidenceLimit: 2})
		require.NoError(t, err)
		evs := res.Statements[10]["evidence"].([]any)
		assert.Len(t, evs, 2)
		assert.Equal(t, 2, res.ReturnedEvidence)
	})

	t.Run("unlimited attaches everything", func(t *testing.T) {
		res, err := ex.Statements(context.Background(), q,
			FetchOpts{EvidenceLimit: EvidenceUnlimited})
		require.NoError(t, err)
		evs := res.Statements[10]["evidence"].([]any)
		assert.Len(t, evs, 3)
	})
}

func TestStatementsTextRefEnrichment(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)

	res, err := ex.Statements(context.Background(), mustAgent(t, "MAP2K1"),
		FetchOpts{EvidenceLimit: 1})
	require.NoError(t, err)
	evs := res.Statements[10]["evidence"].([]any)
	require.Len(t, evs, 1)
	ev := evs[0].(map[string]any)
	assert.Equal(t, "11111", ev["pmid"])
	refs := ev["text_refs"].(map[string]any)
	assert.Equal(t, int64(7), refs["TRID"])
	assert.Equal(t, "11111", refs["PMID"])
	ann := ev["annotations"].(map[string]any)
	assert.Equal(t, "pubmed", ann["content_source"])
}

func TestStatementsSourceCounts(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)

	res, err := ex.Statements(context.Background(), mustAgent(t, "MAP2K1"),
		FetchOpts{EvidenceLimit: 0})
	require.NoError(t, err)
	counts := res.SourceCounts[10]
	assert.Equal(t, 2, counts["reach"])
	assert.Equal(t, 1, counts["sparser"])
	assert.Zero(t, counts["tas"], "unused sources are zero-filled")
}

func TestStatementsEvidenceFilterDrops(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)

	srcs, err := NewHasSources([]string{"reach"})
	require.NoError(t, err)
	u := mustAgent(t, "MAP2K1").Or(mustAgent(t, "EGFR"))

	res, err := ex.Statements(context.Background(), u, FetchOpts{
		EvidenceLimit:  EvidenceUnlimited,
		EvidenceFilter: srcs.EvFilter(),
	})
	require.NoError(t, err)

	require.Contains(t, res.Statements, int64(10))
	assert.Len(t, res.Statements[10]["evidence"].([]any), 2,
		"only reach evidence passes the filter")

	assert.NotContains(t, res.Statements, int64(20),
		"statements with no surviving evidence are dropped")
	assert.Contains(t, res.DroppedHashes, int64(20))
}

func TestInteractions(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)

	res, err := ex.Interactions(context.Background(), mustType(t, "Phosphorylation"),
		PageOpts{BestFirst: true})
	require.NoError(t, err)
	require.Contains(t, res.Interactions, int64(10))
	ia := res.Interactions[10]
	assert.Equal(t, "Phosphorylation", ia.Type)
	assert.Equal(t, map[int]string{0: "MAP2K1", 1: "MAPK1"}, ia.Agents)
	assert.Equal(t, 2, ia.SourceCounts["reach"])
}

func TestRelationsGroupByTypeAndAgents(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	// Two hashes share type and agent names and must collapse into one
	// relation; the third differs in type.
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 1, EvCount: 4, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 4},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
		{Hash: 2, EvCount: 2, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"tas": 2},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
		{Hash: 3, EvCount: 1, Type: "Inhibition", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 1},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
	})
	ex := NewExecutor(db, nil)
	q := mustAgent(t, "BRAF")

	rels, err := ex.Relations(context.Background(), q, PageOpts{BestFirst: true}, true)
	require.NoError(t, err)
	require.Len(t, rels.Relations, 2)
	act := rels.Relations["Activation(BRAF, MAP2K1)"]
	require.NotNil(t, act)
	assert.ElementsMatch(t, []int64{1, 2}, act.Hashes)
	assert.Equal(t, 6, act.TotalEvidence)
	assert.Equal(t, 4, act.SourceCounts["reach"])
	assert.Equal(t, 2, act.SourceCounts["tas"])

	agents, err := ex.Agents(context.Background(), q, PageOpts{BestFirst: true}, false)
	require.NoError(t, err)
	require.Len(t, agents.Groups, 1, "agent grouping collapses the type")
	grp := agents.Groups["Agents(BRAF, MAP2K1)"]
	require.NotNil(t, grp)
	assert.Equal(t, 7, grp.TotalEvidence)
	assert.Empty(t, grp.Hashes)
}

func TestHashesMeshAndPapers(t *testing.T) {
	db := statementFixture(t)
	ex := NewExecutor(db, nil)

	// Annotate hash 10 with a MeSH heading.
	_, err := db.Exec("INSERT INTO mesh_meta (mk_hash, ev_count, mesh_num, type_num, agent_count) VALUES (10, 3, 818, 14, 2)")
	require.NoError(t, err)

	res, err := ex.Hashes(context.Background(), mustMesh(t, "D000818"), PageOpts{})
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, res.Hashes)

	papers, err := NewFromPapers([]PaperRef{{IDType: "pmid", ID: "11111"}})
	require.NoError(t, err)
	res, err = ex.Hashes(context.Background(), papers, PageOpts{})
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, res.Hashes,
		"paper constraint resolves through the reading link")
}

func TestHashesSourceQueries(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 1, EvCount: 2, Type: "Activation", AgentCount: 2, HasRd: true,
			SourceCounts: map[string]int{"reach": 2},
			Agents:       map[int]string{0: "A", 1: "B"}, OnlySrc: "reach"},
		{Hash: 2, EvCount: 2, Type: "Activation", AgentCount: 2, HasDb: true,
			SourceCounts: map[string]int{"tas": 2},
			Agents:       map[int]string{0: "A", 1: "B"}, OnlySrc: "tas"},
		{Hash: 3, EvCount: 4, Type: "Activation", AgentCount: 2, HasRd: true, HasDb: true,
			SourceCounts: map[string]int{"reach": 2, "tas": 2},
			Agents:       map[int]string{0: "A", 1: "B"}},
	})
	ex := NewExecutor(db, nil)

	srcs, err := NewHasSources([]string{"reach", "tas"})
	require.NoError(t, err)
	res, err := ex.Hashes(context.Background(), srcs, PageOpts{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Hashes, "conjunctive over the source set")

	only, err := NewHasOnlySource("reach")
	require.NoError(t, err)
	res, err = ex.Hashes(context.Background(), only, PageOpts{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.Hashes)

	res, err = ex.Hashes(context.Background(), NewHasDatabases(), PageOpts{BestFirst: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, res.Hashes)
}

func TestHashesInvertedMeshKeepsFilter(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 1, EvCount: 5, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 5},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"},
			MeshNums:     []int{818}},
		{Hash: 2, EvCount: 3, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 3},
			Agents:       map[int]string{0: "TP53", 1: "MDM2"}},
		{Hash: 3, EvCount: 2, Type: "Phosphorylation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 2},
			Agents:       map[int]string{0: "MAP2K1", 1: "MAPK1"}},
	})
	ex := NewExecutor(db, nil)

	q := mustMesh(t, "D000818").Invert().And(mustType(t, "Activation"))
	res, err := ex.Hashes(context.Background(), q, PageOpts{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.Hashes,
		"the complement of the annotation still honors the type filter")
}

func TestHashesUnionMemberNarrowedByFilter(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 1, EvCount: 5, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 5},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
		{Hash: 2, EvCount: 4, Type: "Inhibition", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 4},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
		{Hash: 3, EvCount: 3, Type: "Phosphorylation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 3},
			Agents:       map[int]string{0: "BRAF", 1: "MAPK1"},
			MeshNums:     []int{818}},
	})
	ex := NewExecutor(db, nil)

	u := NewUnion([]Query{
		mustType(t, "Activation", "Inhibition"),
		mustMesh(t, "D000818"),
	})
	q := mustAgent(t, "BRAF").And(u).And(mustType(t, "Activation"))
	res, err := ex.Hashes(context.Background(), q, PageOpts{BestFirst: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.Hashes,
		"the conjoined type narrows every branch of the union")
}

func TestStatementsWithoutContentRows(t *testing.T) {
	db := dbtest.CreateReadonlyDB(t)
	dbtest.InsertStatements(t, db, []dbtest.Statement{
		{Hash: 5, EvCount: 2, Type: "Activation", AgentCount: 2,
			SourceCounts: map[string]int{"reach": 2},
			Agents:       map[int]string{0: "BRAF", 1: "MAP2K1"}},
	})
	core, logs := observer.New(zapcore.WarnLevel)
	ex := NewExecutor(db, zap.New(core).Sugar())

	res, err := ex.Statements(context.Background(), mustType(t, "Activation"), FetchOpts{})
	require.NoError(t, err)
	assert.Empty(t, res.Statements)
	assert.Equal(t, []int64{5}, res.DroppedHashes)
	assert.Len(t, logs.FilterMessage(
		"statement has no content rows; dropping statement").All(), 1)
	assert.Empty(t, logs.FilterMessage(
		"evidence filter removed all evidence; dropping statement").All(),
		"without a filter the diagnostic must not blame one")
}
