package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
)

// EvidenceUnlimited attaches every evidence row of each returned
// statement.
const EvidenceUnlimited = -1

// PageOpts controls paging of a result scan. A zero Limit means no
// limit; BestFirst orders by total evidence, most supported first, with
// the hash as a stable tiebreak.
type PageOpts struct {
	Limit     int
	Offset    int
	BestFirst bool
}

// FetchOpts controls statement assembly. EvidenceLimit bounds the
// evidence attached per statement: 0 returns bare statements,
// EvidenceUnlimited returns everything. EvidenceFilter, when set,
// restricts which evidence rows qualify; statements whose evidence is
// entirely filtered away are dropped from the page.
type FetchOpts struct {
	PageOpts
	EvidenceLimit  int
	EvidenceFilter *EvidenceFilter
}

// Executor runs compiled queries against the readonly store.
type Executor struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewExecutor wraps a readonly store handle. A nil logger disables
// logging.
func NewExecutor(db *sql.DB, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{db: db, log: log}
}

// hashSQL lowers q to a paged, deduplicated hash scan. provenEmpty
// reports that compilation proved the query matches nothing.
func (e *Executor) hashSQL(q Query, opts PageOpts) (sqlStr string, args []any, provenEmpty bool, err error) {
	cc := newCompileCtx()
	sel, err := compileNode(cc, q, nil)
	if err != nil {
		return "", nil, false, err
	}
	if sel == nil {
		return "", nil, true, nil
	}
	sqlStr = "SELECT DISTINCT mk_hash, ev_count FROM (" + sel.sql + ") AS mk_hashes"
	args = slices.Clone(sel.args)
	if opts.BestFirst {
		sqlStr += " ORDER BY ev_count DESC, mk_hash"
	}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			// SQLite treats a negative limit as unbounded.
			limit = -1
		}
		sqlStr += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return sqlStr, args, false, nil
}

// Hashes returns the matching statement hashes and their evidence
// totals. Statically empty queries return an empty page without
// touching the store.
func (e *Executor) Hashes(ctx context.Context, q Query, opts PageOpts) (*Result, error) {
	res := newResult(q, opts)
	if q.IsEmpty() {
		return res, nil
	}
	sqlStr, args, provenEmpty, err := e.hashSQL(q, opts)
	if err != nil {
		return nil, err
	}
	if provenEmpty {
		return res, nil
	}
	qid := uuid.NewString()
	e.log.Debugw("running hash query", "query_id", qid, "query", q.String())

	rows, err := e.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "hash query failed")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			h  int64
			ev int
		)
		if err := rows.Scan(&h, &ev); err != nil {
			return nil, errors.Wrap(err, "failed to scan hash row")
		}
		res.Hashes = append(res.Hashes, h)
		res.EvidenceTotals[h] = ev
		res.TotalEvidence += ev
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "hash query scan failed")
	}
	e.log.Debugw("hash query done", "query_id", qid, "hashes", len(res.Hashes))
	res.finishPage(len(res.Hashes))
	return res, nil
}

// Statements returns fully assembled statements: the preassembled
// statement JSON with up to EvidenceLimit evidence entries attached,
// enriched with text refs from the reading metadata.
func (e *Executor) Statements(ctx context.Context, q Query, opts FetchOpts) (*StatementResult, error) {
	res := &StatementResult{
		Result:       *newResult(q, opts.PageOpts),
		Statements:   map[int64]map[string]any{},
		SourceCounts: map[int64]map[string]int{},
	}
	if q.IsEmpty() {
		return res, nil
	}
	hitsSQL, hitsArgs, provenEmpty, err := e.hashSQL(q, opts.PageOpts)
	if err != nil {
		return nil, err
	}
	if provenEmpty {
		return res, nil
	}
	qid := uuid.NewString()
	e.log.Debugw("running statement query", "query_id", qid, "query", q.String())

	var (
		contJoins strings.Builder
		contWhere string
		contArgs  []any
	)
	if f := opts.EvidenceFilter; f != nil {
		tables := f.linkTables()
		if _, ok := tables[schema.TableRawStmtSrc]; ok {
			fmt.Fprintf(&contJoins, " JOIN %s AS rss ON rss.sid = frp.id", schema.TableRawStmtSrc)
		}
		if _, ok := tables[schema.TableRawStmtMesh]; ok {
			fmt.Fprintf(&contJoins, " LEFT JOIN %s AS rsm ON rsm.sid = frp.id", schema.TableRawStmtMesh)
		}
		if _, ok := tables[schema.TableReadingRefLink]; ok {
			fmt.Fprintf(&contJoins, " LEFT JOIN %s AS erl ON erl.rid = frp.reading_id", schema.TableReadingRefLink)
		}
		expr, args := f.expr()
		contWhere = " WHERE " + expr
		contArgs = args
	}
	contSQL := fmt.Sprintf(
		"SELECT frp.mk_hash AS mk_hash, frp.raw_json AS raw_json,"+
			" frp.pa_json AS pa_json, frp.reading_id AS rid,"+
			" ROW_NUMBER() OVER (PARTITION BY frp.mk_hash ORDER BY frp.id) AS rn"+
			" FROM %s AS frp JOIN hits ON hits.mk_hash = frp.mk_hash%s%s",
		schema.TableFastRawPaLink, contJoins.String(), contWhere)

	contJoin := "LEFT JOIN cont ON cont.mk_hash = hits.mk_hash"
	args := append(slices.Clone(hitsArgs), contArgs...)
	switch {
	case opts.EvidenceLimit == 0:
		contJoin += " AND cont.rn <= 1"
	case opts.EvidenceLimit > 0:
		contJoin += " AND cont.rn <= ?"
		args = append(args, opts.EvidenceLimit)
	}

	sqlStr := fmt.Sprintf(
		"WITH hits AS (%s), cont AS (%s)"+
			" SELECT hits.mk_hash, hits.ev_count, sm.src_json, cont.raw_json, cont.pa_json,"+
			" rrl.trid, rrl.tcid, rrl.pmid, rrl.pmcid, rrl.doi, rrl.pii, rrl.url, rrl.source"+
			" FROM hits %s"+
			" LEFT JOIN %s AS sm ON sm.mk_hash = hits.mk_hash"+
			" LEFT JOIN %s AS rrl ON rrl.rid = cont.rid"+
			" ORDER BY hits.ev_count DESC, hits.mk_hash, cont.rn",
		hitsSQL, contSQL, contJoin, schema.TableSourceMeta, schema.TableReadingRefLink)

	rows, err := e.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "statement query failed")
	}
	defer rows.Close()

	consumed := map[int64]struct{}{}
	droppedSet := map[int64]struct{}{}
	for rows.Next() {
		var (
			h                             int64
			evCount                       int
			srcJSON, rawJSON, paJSON      sql.NullString
			trid, tcid                    sql.NullInt64
			pmid, pmcid, doi, pii, urlCol sql.NullString
			source                        sql.NullString
		)
		if err := rows.Scan(&h, &evCount, &srcJSON, &rawJSON, &paJSON,
			&trid, &tcid, &pmid, &pmcid, &doi, &pii, &urlCol, &source); err != nil {
			return nil, errors.Wrap(err, "failed to scan statement row")
		}
		consumed[h] = struct{}{}
		if !paJSON.Valid {
			// No content row survived the join for this statement.
			if _, seen := droppedSet[h]; !seen {
				droppedSet[h] = struct{}{}
				res.DroppedHashes = append(res.DroppedHashes, h)
				if opts.EvidenceFilter != nil {
					e.log.Warnw("evidence filter removed all evidence; dropping statement",
						"query_id", qid, "mk_hash", h)
				} else {
					e.log.Warnw("statement has no content rows; dropping statement",
						"query_id", qid, "mk_hash", h)
				}
			}
			continue
		}
		stmt, seen := res.Statements[h]
		if !seen {
			if err := json.Unmarshal([]byte(paJSON.String), &stmt); err != nil {
				if _, dup := droppedSet[h]; !dup {
					droppedSet[h] = struct{}{}
					res.DroppedHashes = append(res.DroppedHashes, h)
					e.log.Warnw("unreadable statement json; dropping statement",
						"query_id", qid, "mk_hash", h, "error", err)
				}
				continue
			}
			stmt["evidence"] = []any{}
			res.Statements[h] = stmt
			res.Hashes = append(res.Hashes, h)
			res.EvidenceTotals[h] = evCount
			res.TotalEvidence += evCount
			res.SourceCounts[h] = parseSourceCounts(srcJSON)
		}
		if _, dropped := droppedSet[h]; dropped {
			continue
		}
		if opts.EvidenceLimit == 0 || !rawJSON.Valid {
			continue
		}
		ev := extractEvidence(rawJSON.String)
		if ev == nil {
			continue
		}
		attachTextRefs(ev, trid, tcid, pmid, pmcid, doi, pii, urlCol, source)
		stmt["evidence"] = append(stmt["evidence"].([]any), ev)
		res.ReturnedEvidence++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "statement query scan failed")
	}
	e.log.Debugw("statement query done", "query_id", qid,
		"statements", len(res.Statements), "dropped", len(res.DroppedHashes))
	res.finishPage(len(consumed))
	return res, nil
}

// parseSourceCounts expands the stored per-source counts, zero-filling
// every registered source.
func parseSourceCounts(srcJSON sql.NullString) map[string]int {
	counts := make(map[string]int)
	for _, s := range schema.Sources() {
		counts[s] = 0
	}
	if srcJSON.Valid {
		var stored map[string]int
		if err := json.Unmarshal([]byte(srcJSON.String), &stored); err == nil {
			for k, v := range stored {
				counts[k] = v
			}
		}
	}
	return counts
}

// extractEvidence pulls the single evidence entry out of a raw
// statement's JSON.
func extractEvidence(rawJSON string) map[string]any {
	var raw map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &raw); err != nil {
		return nil
	}
	evs, ok := raw["evidence"].([]any)
	if !ok || len(evs) == 0 {
		return nil
	}
	ev, _ := evs[0].(map[string]any)
	return ev
}

// attachTextRefs enriches an evidence entry with the text reference ids
// of the reading it came from.
func attachTextRefs(ev map[string]any, trid, tcid sql.NullInt64,
	pmid, pmcid, doi, pii, urlCol, source sql.NullString) {

	refs, _ := ev["text_refs"].(map[string]any)
	if refs == nil {
		refs = map[string]any{}
	}
	if trid.Valid {
		refs["TRID"] = trid.Int64
	}
	if tcid.Valid {
		refs["TCID"] = tcid.Int64
	}
	if pmid.Valid {
		refs["PMID"] = pmid.String
		ev["pmid"] = pmid.String
	}
	if pmcid.Valid {
		refs["PMCID"] = pmcid.String
	}
	if doi.Valid {
		refs["DOI"] = doi.String
	}
	if pii.Valid {
		refs["PII"] = pii.String
	}
	if urlCol.Valid {
		refs["URL"] = urlCol.String
	}
	if len(refs) > 0 {
		ev["text_refs"] = refs
	}
	if source.Valid {
		ann, _ := ev["annotations"].(map[string]any)
		if ann == nil {
			ann = map[string]any{}
		}
		ann["content_source"] = source.String
		ev["annotations"] = ann
	}
}

// nameGroup is one statement's worth of rows from the name mention
// table.
type nameGroup struct {
	hash       int64
	evCount    int
	typeNum    int
	agentCount int
	activity   string
	isActive   bool
	agents     map[int]string
	srcCounts  map[string]int
}

// fetchNameGroups runs the metadata scan shared by the interaction,
// relation and agent views.
func (e *Executor) fetchNameGroups(ctx context.Context, q Query, opts PageOpts) ([]*nameGroup, bool, error) {
	hitsSQL, hitsArgs, provenEmpty, err := e.hashSQL(q, opts)
	if err != nil {
		return nil, false, err
	}
	if provenEmpty {
		return nil, true, nil
	}
	sqlStr := fmt.Sprintf(
		"WITH hits AS (%s)"+
			" SELECT nm.mk_hash, hits.ev_count, nm.ag_num, nm.db_id,"+
			" nm.type_num, nm.agent_count, nm.activity, nm.is_active, sm.src_json"+
			" FROM %s AS nm"+
			" JOIN hits ON hits.mk_hash = nm.mk_hash"+
			" LEFT JOIN %s AS sm ON sm.mk_hash = nm.mk_hash"+
			" ORDER BY hits.ev_count DESC, nm.mk_hash, nm.ag_num",
		hitsSQL, schema.TableNameMeta, schema.TableSourceMeta)

	rows, err := e.db.QueryContext(ctx, sqlStr, hitsArgs...)
	if err != nil {
		return nil, false, errors.Wrap(err, "metadata query failed")
	}
	defer rows.Close()

	var (
		groups []*nameGroup
		byHash = map[int64]*nameGroup{}
	)
	for rows.Next() {
		var (
			h                int64
			evCount, agNum   int
			dbID             sql.NullString
			typeNum, agCount sql.NullInt64
			activity         sql.NullString
			isActive         sql.NullBool
			srcJSON          sql.NullString
		)
		if err := rows.Scan(&h, &evCount, &agNum, &dbID, &typeNum, &agCount,
			&activity, &isActive, &srcJSON); err != nil {
			return nil, false, errors.Wrap(err, "failed to scan metadata row")
		}
		g, ok := byHash[h]
		if !ok {
			g = &nameGroup{
				hash:       h,
				evCount:    evCount,
				typeNum:    int(typeNum.Int64),
				agentCount: int(agCount.Int64),
				activity:   activity.String,
				isActive:   isActive.Bool,
				agents:     map[int]string{},
				srcCounts:  parseSourceCounts(srcJSON),
			}
			byHash[h] = g
			groups = append(groups, g)
		}
		if dbID.Valid {
			g.agents[agNum] = dbID.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "metadata query scan failed")
	}
	return groups, false, nil
}

// Interactions returns the most detailed metadata-level view of the
// matching statements, one entry per hash.
func (e *Executor) Interactions(ctx context.Context, q Query, opts PageOpts) (*InteractionResult, error) {
	res := &InteractionResult{
		Result:       *newResult(q, opts),
		Interactions: map[int64]*Interaction{},
	}
	if q.IsEmpty() {
		return res, nil
	}
	groups, provenEmpty, err := e.fetchNameGroups(ctx, q, opts)
	if err != nil || provenEmpty {
		return res, err
	}
	for _, g := range groups {
		res.Interactions[g.hash] = &Interaction{
			Hash:         g.hash,
			Type:         schema.TypeName(g.typeNum),
			Agents:       g.agents,
			AgentCount:   g.agentCount,
			Activity:     g.activity,
			IsActive:     g.isActive,
			SourceCounts: g.srcCounts,
		}
		res.Hashes = append(res.Hashes, g.hash)
		res.EvidenceTotals[g.hash] = g.evCount
		res.TotalEvidence += g.evCount
	}
	res.finishPage(len(groups))
	return res, nil
}

// relationLabel renders the canonical grouping key: the statement type
// over the ordered agent names, or just the agents when withType is
// false.
func relationLabel(g *nameGroup, withType bool) string {
	names := make([]string, g.agentCount)
	for i := range names {
		if name, ok := g.agents[i]; ok {
			names[i] = name
		} else {
			names[i] = "None"
		}
	}
	head := "Agents"
	if withType {
		head = schema.TypeName(g.typeNum)
	}
	return head + "(" + strings.Join(names, ", ") + ")"
}

func (e *Executor) groupedRelations(ctx context.Context, q Query, opts PageOpts,
	withType, withHashes bool) (map[string]*Relation, int, *Result, bool, error) {

	res := newResult(q, opts)
	if q.IsEmpty() {
		return map[string]*Relation{}, 0, res, true, nil
	}
	groups, provenEmpty, err := e.fetchNameGroups(ctx, q, opts)
	if err != nil {
		return nil, 0, nil, false, err
	}
	if provenEmpty {
		return map[string]*Relation{}, 0, res, true, nil
	}
	rels := map[string]*Relation{}
	for _, g := range groups {
		label := relationLabel(g, withType)
		rel, ok := rels[label]
		if !ok {
			rel = &Relation{
				ID:           label,
				Agents:       g.agents,
				SourceCounts: map[string]int{},
			}
			if withType {
				rel.Type = schema.TypeName(g.typeNum)
			}
			rels[label] = rel
		}
		for src, n := range g.srcCounts {
			rel.SourceCounts[src] += n
		}
		rel.TotalEvidence += g.evCount
		if withHashes {
			rel.Hashes = append(rel.Hashes, g.hash)
		}
		res.Hashes = append(res.Hashes, g.hash)
		res.EvidenceTotals[g.hash] = g.evCount
		res.TotalEvidence += g.evCount
	}
	return rels, len(groups), res, false, nil
}

// Relations groups the matching statements by type and named agents.
func (e *Executor) Relations(ctx context.Context, q Query, opts PageOpts, withHashes bool) (*RelationResult, error) {
	rels, consumed, base, done, err := e.groupedRelations(ctx, q, opts, true, withHashes)
	if err != nil {
		return nil, err
	}
	res := &RelationResult{Result: *base, Relations: rels}
	if !done {
		res.finishPage(consumed)
	}
	return res, nil
}

// Agents groups the matching statements by named agents alone,
// collapsing the statement type.
func (e *Executor) Agents(ctx context.Context, q Query, opts PageOpts, withHashes bool) (*AgentResult, error) {
	rels, consumed, base, done, err := e.groupedRelations(ctx, q, opts, false, withHashes)
	if err != nil {
		return nil, err
	}
	res := &AgentResult{Result: *base, Groups: rels}
	if !done {
		res.finishPage(consumed)
	}
	return res, nil
}
