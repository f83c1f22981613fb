package query

import (
	"fmt"
	"strconv"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
)

// HasAgent matches statements mentioning an agent, optionally pinned to
// a role or argument position. The namespace selects which mention
// relation is searched: NAME and TEXT have dedicated tables, anything
// else goes through the grounding table.
type HasAgent struct {
	node
	agentID   string
	namespace string
	role      string
	agentNum  *int
	regID     string
}

// NewHasAgent builds an agent-mention constraint. An empty namespace
// defaults to NAME.
func NewHasAgent(agentID, namespace string) (*HasAgent, error) {
	return newHasAgent(agentID, namespace, "", nil)
}

// NewHasAgentInRole constrains the agent to a grammatical role
// (SUBJECT, OBJECT or OTHER).
func NewHasAgentInRole(agentID, namespace, role string) (*HasAgent, error) {
	if _, err := schema.RoleNum(role); err != nil {
		return nil, err
	}
	return newHasAgent(agentID, namespace, role, nil)
}

// NewHasAgentAtPosition constrains the agent to a zero-based argument
// position.
func NewHasAgentAtPosition(agentID, namespace string, agentNum int) (*HasAgent, error) {
	if agentNum < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidConstraint,
			"agent position must not be negative, got %d", agentNum)
	}
	n := agentNum
	return newHasAgent(agentID, namespace, "", &n)
}

func newHasAgent(agentID, namespace, role string, agentNum *int) (*HasAgent, error) {
	if agentID == "" {
		return nil, errors.Wrap(errors.ErrInvalidConstraint, "agent id must not be empty")
	}
	if namespace == "" {
		namespace = "NAME"
	}
	q := &HasAgent{
		agentID:   agentID,
		namespace: namespace,
		role:      role,
		agentNum:  agentNum,
		regID:     schema.RegularizeAgentID(agentID, namespace),
	}
	return q, nil
}

// AgentID returns the identifier the constraint was built with.
func (q *HasAgent) AgentID() string { return q.agentID }

// Namespace returns the grounding namespace searched.
func (q *HasAgent) Namespace() string { return q.namespace }

func (q *HasAgent) String() string {
	s := fmt.Sprintf("agent %s/%s", q.namespace, q.agentID)
	if q.role != "" {
		s += " as " + q.role
	}
	if q.agentNum != nil {
		s += fmt.Sprintf(" at %d", *q.agentNum)
	}
	if q.inv {
		s = "not " + s
	}
	return s
}

func (q *HasAgent) copy() Query {
	cp := *q
	return &cp
}

func (q *HasAgent) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *HasAgent) And(other Query) Query        { return conjoin(q, other) }
func (q *HasAgent) Or(other Query) Query         { return disjoin(q, other) }
func (q *HasAgent) Subtract(other Query) Query   { return subtract(q, other) }
func (q *HasAgent) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *HasAgent) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *HasAgent) JSON() NodeJSON               { return nodeJSON(q) }
func (q *HasAgent) ComponentNames() []string     { return []string{"HasAgent"} }

func (q *HasAgent) constraint() (string, any) {
	var role any
	if q.role != "" {
		role = q.role
	}
	var num any
	if q.agentNum != nil {
		num = *q.agentNum
	}
	return "agent_query", map[string]any{
		"agent_id":        q.agentID,
		"namespace":       q.namespace,
		"role":            role,
		"agent_num":       num,
		"_regularized_id": q.regID,
	}
}

// mentionTable picks the relation searched for this namespace.
func (q *HasAgent) mentionTable() string {
	switch q.namespace {
	case "NAME":
		return schema.TableNameMeta
	case "TEXT":
		return schema.TableTextMeta
	}
	return schema.TableOtherMeta
}

// mentionClauses appends the positive form of the constraint to b.
func (q *HasAgent) mentionClauses(b *clauseBuilder) {
	b.add("db_id LIKE ?", q.regID)
	if q.namespace != "NAME" && q.namespace != "TEXT" {
		b.add("db_name LIKE ?", q.namespace)
	}
	if q.role != "" {
		n, _ := schema.RoleNum(q.role)
		b.add("role_num = ?", n)
	}
	if q.agentNum != nil {
		b.add("ag_num = ?", *q.agentNum)
	}
}

func (q *HasAgent) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	table := q.mentionTable()
	if !q.inv {
		b := &clauseBuilder{}
		q.mentionClauses(b)
		for _, iq := range inject {
			iq.metaClause(b)
		}
		return selectFromWhere(table, b), nil
	}
	return compileMentionExclude(table, q.mentionClauses, inject, "agent_exclude")
}

// compileMentionExclude lowers an inverted mention constraint. A mention
// table only holds rows for statements that HAVE a mention, so negation
// must subtract matches from the table's full population. Injected
// filters constrain the kept rows, which under the subtraction turns
// into removing rows matching the positive clause OR violating any
// injected filter.
func compileMentionExclude(table string, positive func(*clauseBuilder), inject []Intrusive, alias string) (*hashSelect, error) {
	pos := &clauseBuilder{}
	positive(pos)
	where, args := pos.group()

	sub := &clauseBuilder{}
	sub.add(where, args...)
	for _, iq := range inject {
		inv, ok := iq.Invert().(Intrusive)
		if !ok {
			return nil, errors.AssertionFailedf("inverted %T is not intrusive", iq)
		}
		inv.metaClause(sub)
	}
	subWhere, subArgs := sub.groupOr()

	sql := fmt.Sprintf(
		"SELECT mk_hash, ev_count FROM ("+
			"SELECT mk_hash, ev_count FROM %s"+
			" EXCEPT "+
			"SELECT mk_hash, ev_count FROM %s WHERE %s"+
			") AS %s",
		table, table, subWhere, alias)
	return &hashSelect{sql: sql, args: subArgs}, nil
}

// FromMeshID matches statements whose supporting papers are annotated
// with a MeSH heading.
type FromMeshID struct {
	node
	meshID  string
	meshNum int
}

// NewFromMeshID builds a MeSH-annotation constraint from an identifier
// of the form "D000123".
func NewFromMeshID(meshID string) (*FromMeshID, error) {
	if len(meshID) < 2 || meshID[0] != 'D' {
		return nil, errors.Wrapf(errors.ErrInvalidConstraint,
			"invalid mesh id %q: expected a D-prefixed heading", meshID)
	}
	num, err := strconv.Atoi(meshID[1:])
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidConstraint,
			"invalid mesh id %q: %v", meshID, err)
	}
	return &FromMeshID{meshID: meshID, meshNum: num}, nil
}

// MeshID returns the heading identifier the constraint was built with.
func (q *FromMeshID) MeshID() string { return q.meshID }

func (q *FromMeshID) String() string {
	inv := ""
	if q.inv {
		inv = "not "
	}
	return fmt.Sprintf("%sfrom mesh %s", inv, q.meshID)
}

func (q *FromMeshID) copy() Query {
	cp := *q
	return &cp
}

func (q *FromMeshID) Invert() Query {
	cp := *q
	cp.invertFlags()
	return &cp
}

func (q *FromMeshID) And(other Query) Query        { return conjoin(q, other) }
func (q *FromMeshID) Or(other Query) Query         { return disjoin(q, other) }
func (q *FromMeshID) Subtract(other Query) Query   { return subtract(q, other) }
func (q *FromMeshID) Equal(other Query) bool       { return equalQueries(q, other) }
func (q *FromMeshID) IsInverseOf(other Query) bool { return inverseQueries(q, other) }
func (q *FromMeshID) JSON() NodeJSON               { return nodeJSON(q) }
func (q *FromMeshID) ComponentNames() []string     { return []string{"FromMeshID"} }

func (q *FromMeshID) constraint() (string, any) {
	return "mesh_query", map[string]any{
		"mesh_id":   q.meshID,
		"_mesh_num": q.meshNum,
	}
}

func (q *FromMeshID) compile(cc *compileCtx, inject []Intrusive) (*hashSelect, error) {
	if !q.inv {
		b := &clauseBuilder{}
		b.add("mesh_num = ?", q.meshNum)
		for _, iq := range inject {
			iq.metaClause(b)
		}
		return selectFromWhere(schema.TableMeshMeta, b), nil
	}
	// Statements with no MeSH annotation at all have no mesh_meta rows,
	// so the complement is taken against the full statement population.
	base := &clauseBuilder{}
	for _, iq := range inject {
		iq.metaClause(base)
	}
	baseSel := selectFromWhere(schema.TableSourceMeta, base)
	sql := fmt.Sprintf(
		"SELECT mk_hash, ev_count FROM ("+
			"%s EXCEPT SELECT mk_hash, ev_count FROM %s WHERE mesh_num = ?"+
			") AS mesh_exclude",
		baseSel.sql, schema.TableMeshMeta)
	args := append(baseSel.args, q.meshNum)
	return &hashSelect{sql: sql, args: args}, nil
}
