package query

import (
	"encoding/json"

	"github.com/kolusask/indra-db/errors"
	"github.com/kolusask/indra-db/schema"
)

// NodeJSON is the canonical serialized form of a query node: a single
// constraint family mapped to its payload, plus the polarity flag.
// Structurally equal queries serialize to identical JSON.
type NodeJSON struct {
	Constraint map[string]any `json:"constraint"`
	Inverted   bool           `json:"inverted"`
}

func nodeJSON(q Query) NodeJSON {
	name, payload := q.constraint()
	return NodeJSON{
		Constraint: map[string]any{name: payload},
		Inverted:   q.isInverted(),
	}
}

// jsonKey renders the canonical serialized form as a comparison key.
// encoding/json sorts map keys, and every payload collection is kept
// sorted by construction, so the key is deterministic.
func jsonKey(q Query) string {
	b, err := json.Marshal(q.JSON())
	if err != nil {
		// Payloads are plain maps, slices and scalars; this cannot
		// fail for a well-formed node.
		panic(err)
	}
	return string(b)
}

// constraintKey is jsonKey without the polarity flag.
func constraintKey(q Query) string {
	name, payload := q.constraint()
	b, err := json.Marshal(map[string]any{name: payload})
	if err != nil {
		panic(err)
	}
	return string(b)
}

type nodeEnvelope struct {
	Constraint map[string]json.RawMessage `json:"constraint"`
	Inverted   bool                       `json:"inverted"`
}

// Parse reconstructs a query from its serialized form. The result is
// re-canonicalized from scratch, so a parsed tree is structurally equal
// to the one that produced the bytes.
func Parse(data []byte) (Query, error) {
	var env nodeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode query json")
	}
	if len(env.Constraint) != 1 {
		return nil, errors.Wrapf(errors.ErrInvalidConstraint,
			"query json must hold exactly one constraint, got %d",
			len(env.Constraint))
	}
	for name, payload := range env.Constraint {
		q, err := parseConstraint(name, payload)
		if err != nil {
			return nil, err
		}
		if env.Inverted {
			q = q.Invert()
		}
		return q, nil
	}
	panic("unreachable")
}

// FromJSON reconstructs a query from an in-memory NodeJSON, normalizing
// through the serialized form.
func FromJSON(n NodeJSON) (Query, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode query json")
	}
	return Parse(b)
}

func parseConstraint(name string, payload json.RawMessage) (Query, error) {
	switch name {
	case "hash_query":
		var p struct {
			Hashes []int64 `json:"hashes"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasHash(p.Hashes), nil

	case "has_sources":
		var p struct {
			Sources []string `json:"sources"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasSources(p.Sources)

	case "has_only_source":
		var p struct {
			OnlySource string `json:"only_source"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasOnlySource(p.OnlySource)

	case "has_readings_query":
		return NewHasReadings(), nil

	case "has_databases_query":
		return NewHasDatabases(), nil

	case "agent_query":
		var p struct {
			AgentID   string  `json:"agent_id"`
			Namespace string  `json:"namespace"`
			Role      *string `json:"role"`
			AgentNum  *int    `json:"agent_num"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		role := ""
		if p.Role != nil {
			if _, err := schema.RoleNum(*p.Role); err != nil {
				return nil, err
			}
			role = *p.Role
		}
		return newHasAgent(p.AgentID, p.Namespace, role, p.AgentNum)

	case "mesh_query":
		var p struct {
			MeshID string `json:"mesh_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewFromMeshID(p.MeshID)

	case "has_type":
		var p struct {
			StmtTypes []string `json:"stmt_types"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasType(p.StmtTypes)

	case "has_num_agents":
		var p struct {
			AgentNums []int `json:"agent_nums"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasNumAgents(p.AgentNums)

	case "has_num_evidence":
		var p struct {
			EvidenceNums []int `json:"evidence_nums"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		return NewHasNumEvidence(p.EvidenceNums)

	case "from_papers":
		var p struct {
			PaperList [][]string `json:"paper_list"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		refs := make([]PaperRef, 0, len(p.PaperList))
		for _, pair := range p.PaperList {
			if len(pair) != 2 {
				return nil, errors.Wrapf(errors.ErrInvalidConstraint,
					"paper reference must be an [id_type, id] pair, got %v", pair)
			}
			refs = append(refs, PaperRef{IDType: pair[0], ID: pair[1]})
		}
		return NewFromPapers(refs)

	case "multi_source_query":
		var p struct {
			SourceQueries []json.RawMessage `json:"source_queries"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		members := make([]SourceQuery, 0, len(p.SourceQueries))
		for _, raw := range p.SourceQueries {
			sub, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			sq, ok := sub.(SourceQuery)
			if !ok {
				return nil, errors.Wrapf(errors.ErrInvalidConstraint,
					"%T is not a source query", sub)
			}
			members = append(members, sq)
		}
		return NewSourceIntersection(members), nil

	case "intersection_query", "union_query":
		var raws []json.RawMessage
		if err := json.Unmarshal(payload, &raws); err != nil {
			return nil, errors.Wrapf(err, "bad %s payload", name)
		}
		members := make([]Query, 0, len(raws))
		for _, raw := range raws {
			sub, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			members = append(members, sub)
		}
		if name == "intersection_query" {
			return NewIntersection(members), nil
		}
		return NewUnion(members), nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidConstraint,
		"unknown constraint family %q", name)
}
