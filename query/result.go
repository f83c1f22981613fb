package query

// Result is the common shape of every query execution: the matching
// hashes in return order, their total evidence counts, and the paging
// state needed to continue the scan.
type Result struct {
	Hashes         []int64       `json:"hashes"`
	EvidenceTotals map[int64]int `json:"evidence_totals"`
	TotalEvidence  int           `json:"total_evidence"`
	Limit          int           `json:"limit"`
	Offset         int           `json:"offset"`
	NextOffset     *int          `json:"next_offset"`
	Query          NodeJSON      `json:"query_json"`
}

func newResult(q Query, opts PageOpts) *Result {
	return &Result{
		EvidenceTotals: map[int64]int{},
		Limit:          opts.Limit,
		Offset:         opts.Offset,
		Query:          q.JSON(),
	}
}

// finishPage sets NextOffset when the page came back full, meaning more
// results may remain.
func (r *Result) finishPage(consumed int) {
	if r.Limit > 0 && consumed >= r.Limit {
		next := r.Offset + consumed
		r.NextOffset = &next
	}
}

// StatementResult carries fully assembled statements: the preassembled
// statement JSON with attached evidence, plus per-source evidence
// breakdowns.
type StatementResult struct {
	Result
	Statements       map[int64]map[string]any `json:"statements"`
	SourceCounts     map[int64]map[string]int `json:"source_counts"`
	ReturnedEvidence int                      `json:"returned_evidence"`
	DroppedHashes    []int64                  `json:"dropped_hashes"`
}

// Interaction is the most detailed metadata-level view of a statement:
// type, agents by position, activity and per-source evidence counts.
type Interaction struct {
	Hash         int64          `json:"hash"`
	Type         string         `json:"type"`
	Agents       map[int]string `json:"agents"`
	AgentCount   int            `json:"agent_count"`
	Activity     string         `json:"activity"`
	IsActive     bool           `json:"is_active"`
	SourceCounts map[string]int `json:"source_counts"`
}

// InteractionResult carries one Interaction per matching hash.
type InteractionResult struct {
	Result
	Interactions map[int64]*Interaction `json:"interactions"`
}

// Relation groups interactions that share a statement type and named
// agents, collapsing hashes that differ only in detail.
type Relation struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Agents        map[int]string `json:"agents"`
	SourceCounts  map[string]int `json:"source_counts"`
	TotalEvidence int            `json:"total_evidence"`
	Hashes        []int64        `json:"hashes,omitempty"`
}

// RelationResult carries relations keyed by their canonical label.
type RelationResult struct {
	Result
	Relations map[string]*Relation `json:"relations"`
}

// AgentResult groups one step further than relations, collapsing the
// statement type as well.
type AgentResult struct {
	Result
	Groups map[string]*Relation `json:"groups"`
}
