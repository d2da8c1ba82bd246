package page

import "sort"

// Clone returns a deep copy of s. The copy shares nothing with the original,
// so speculative reduction can mutate it freely while the original stays
// valid for rollback.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Meta:          cloneMap(s.Meta),
		Entities:      make(map[string]*Entity, len(s.Entities)),
		Order:         append([]string(nil), s.Order...),
		Relationships: make(map[RelKey]*Relationship, len(s.Relationships)),
		RelTypes:      make(map[string]Cardinality, len(s.RelTypes)),
		CreateSeq:     s.CreateSeq,
		UpdateSeq:     s.UpdateSeq,
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	for id, e := range s.Entities {
		c.Entities[id] = e.Clone()
	}
	for k, r := range s.Relationships {
		c.Relationships[k] = r.Clone()
	}
	for t, card := range s.RelTypes {
		c.RelTypes[t] = card
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// JSON scalars are immutable.
		return v
	}
}

func sortRelationships(rels []*Relationship) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].Seq < rels[j].Seq })
}
