package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalCanonical serializes s with a byte-stable layout: meta first, then
// entities as an object whose keys follow insertion order, then relationships
// by seq, then relationship types sorted by name, then the two counters.
// Existing entities keep their byte offsets across turns (new ones append),
// which keeps provider-side prefix caches warm.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"meta":`)
	if err := writeValue(&buf, s.Meta); err != nil {
		return nil, err
	}

	buf.WriteString(`,"entities":{`)
	for i, id := range s.Order {
		e := s.Entities[id]
		if e == nil {
			return nil, fmt.Errorf("page: order references unknown entity %q", id)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(&buf, id); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeValue(&buf, e); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"relationships":[`)
	rels := make([]*Relationship, 0, len(s.Relationships))
	for _, r := range s.Relationships {
		rels = append(rels, r)
	}
	sortRelationships(rels)
	for i, r := range rels {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(&buf, r); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`],"relationship_types":{`)
	types := make([]string, 0, len(s.RelTypes))
	for t := range s.RelTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	for i, t := range types {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(&buf, t); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, `:{"cardinality":%q}`, s.RelTypes[t])
	}
	fmt.Fprintf(&buf, `},"create_seq":%d,"update_seq":%d}`, s.CreateSeq, s.UpdateSeq)
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	if m, ok := v.(map[string]any); ok && m == nil {
		buf.WriteString("{}")
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

type relTypeJSON struct {
	Cardinality Cardinality `json:"cardinality"`
}

// UnmarshalSnapshot parses bytes produced by MarshalCanonical. Entity
// insertion order is recovered from key order in the entities object. Numeric
// prop values decode as json.Number so re-serialization is byte-faithful.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	s := NewSnapshot()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("page: parse snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("page: snapshot is not a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("page: parse snapshot: %w", err)
		}
		key, _ := keyTok.(string)
		switch key {
		case "meta":
			if err := dec.Decode(&s.Meta); err != nil {
				return nil, fmt.Errorf("page: parse meta: %w", err)
			}
			if s.Meta == nil {
				s.Meta = map[string]any{}
			}
		case "entities":
			if err := decodeEntities(dec, s); err != nil {
				return nil, err
			}
		case "relationships":
			var rels []*Relationship
			if err := dec.Decode(&rels); err != nil {
				return nil, fmt.Errorf("page: parse relationships: %w", err)
			}
			for _, r := range rels {
				s.Relationships[r.Key()] = r
			}
		case "relationship_types":
			var types map[string]relTypeJSON
			if err := dec.Decode(&types); err != nil {
				return nil, fmt.Errorf("page: parse relationship_types: %w", err)
			}
			for t, v := range types {
				s.RelTypes[t] = v.Cardinality
			}
		case "create_seq":
			if err := dec.Decode(&s.CreateSeq); err != nil {
				return nil, fmt.Errorf("page: parse create_seq: %w", err)
			}
		case "update_seq":
			if err := dec.Decode(&s.UpdateSeq); err != nil {
				return nil, fmt.Errorf("page: parse update_seq: %w", err)
			}
		default:
			var skip any
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("page: parse snapshot key %q: %w", key, err)
			}
		}
	}
	return s, nil
}

func decodeEntities(dec *json.Decoder, s *Snapshot) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("page: parse entities: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("page: entities is not a JSON object")
	}
	for dec.More() {
		idTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("page: parse entities: %w", err)
		}
		id, _ := idTok.(string)
		var e Entity
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("page: parse entity %q: %w", id, err)
		}
		s.Entities[id] = &e
		s.Order = append(s.Order, id)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("page: parse entities: %w", err)
	}
	return nil
}
