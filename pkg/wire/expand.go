package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aidekit/scribe/pkg/page"
)

// DecodeLine parses one JSONL line into an expanded Op or Signal. The line
// must be a JSON object carrying its type under "t" (abbreviated) or "type"
// (expanded). Unknown type strings decode into an Op so the reducer can
// reject them; a structurally unusable line returns an error and counts
// toward the caller's malformed streak.
func DecodeLine(line []byte) (Item, error) {
	raw, err := decodeObject(line)
	if err != nil {
		return nil, err
	}
	abbreviated := false
	typ, ok, err := getString(raw, "t")
	if err != nil {
		return nil, err
	}
	if ok {
		abbreviated = true
	} else {
		typ, ok, err = getString(raw, "type")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("wire: line has no type")
		}
	}
	if typ == "" {
		return nil, fmt.Errorf("wire: line has empty type")
	}

	if knownSignalType(typ) {
		sig, err := decodeSignal(SignalType(typ), raw)
		if err != nil {
			return nil, err
		}
		return SignalItem{Signal: sig}, nil
	}
	op, err := decodeOp(OpType(typ), raw, abbreviated)
	if err != nil {
		return nil, err
	}
	return OpItem{Op: op}, nil
}

// DecodeOp parses a client-supplied operation (the direct-edit path). The
// payload uses the expanded form; the abbreviated model form is also
// accepted.
func DecodeOp(payload []byte) (Op, error) {
	item, err := DecodeLine(payload)
	if err != nil {
		return Op{}, err
	}
	opItem, ok := item.(OpItem)
	if !ok {
		return Op{}, fmt.Errorf("wire: payload is a signal, not an operation")
	}
	return opItem.Op, nil
}

func decodeObject(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("wire: decode line: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("wire: line is not a JSON object")
	}
	return raw, nil
}

func decodeSignal(typ SignalType, raw map[string]any) (Signal, error) {
	sig := Signal{Type: typ}
	var err error
	switch typ {
	case SignalVoice:
		sig.Text, err = requireString(raw, "text")
	case SignalClarify:
		if sig.Text, err = requireString(raw, "text"); err == nil {
			sig.Options, err = optionalStringSlice(raw, "options")
		}
	case SignalEscalate:
		if sig.Tier, err = requireString(raw, "tier"); err == nil {
			if sig.Reason, _, err = getString(raw, "reason"); err == nil {
				sig.Extract, _, err = getString(raw, "extract")
			}
		}
	case SignalBatchStart, SignalBatchEnd:
		// No payload.
	}
	if err != nil {
		return Signal{}, err
	}
	return sig, nil
}

func decodeOp(typ OpType, raw map[string]any, abbreviated bool) (Op, error) {
	op := Op{Type: typ}
	if !KnownOpType(typ) {
		// Carry the type through so the reducer can reject it as unknown.
		return op, nil
	}

	var err error
	if op.ID, _, err = getString(raw, "id"); err != nil {
		return Op{}, err
	}
	if op.Parent, _, err = getString(raw, "parent"); err != nil {
		return Op{}, err
	}
	if op.Ref, _, err = getString(raw, "ref"); err != nil {
		return Op{}, err
	}
	if op.From, _, err = getString(raw, "from"); err != nil {
		return Op{}, err
	}
	if op.To, _, err = getString(raw, "to"); err != nil {
		return Op{}, err
	}
	display, _, err := getString(raw, "display")
	if err != nil {
		return Op{}, err
	}
	op.Display = page.Display(display)
	card, _, err := getString(raw, "cardinality")
	if err != nil {
		return Op{}, err
	}
	op.Cardinality = page.Cardinality(card)
	if op.Props, err = optionalProps(raw, abbreviated); err != nil {
		return Op{}, err
	}
	if op.Children, err = decodeChildren(raw); err != nil {
		return Op{}, err
	}
	if op.Position, err = optionalInt(raw, "position"); err != nil {
		return Op{}, err
	}
	if op.RelType, err = decodeRelType(typ, raw, abbreviated); err != nil {
		return Op{}, err
	}
	if err := validateShape(op, raw); err != nil {
		return Op{}, err
	}
	return op, nil
}

// validateShape enforces the minimal per-type field requirements. Semantic
// validation (id charset, display membership, prop value shapes) belongs to
// the reducer.
func validateShape(op Op, raw map[string]any) error {
	missing := func(field string) error {
		return fmt.Errorf("wire: %s requires %s", op.Type, field)
	}
	switch op.Type {
	case OpMetaSet, OpStyleSet, OpMetaAnnotate:
		if op.Props == nil {
			return missing("props")
		}
	case OpEntityCreate:
		if op.ID == "" {
			return missing("id")
		}
		if op.Parent == "" {
			return missing("parent")
		}
	case OpEntityUpdate, OpStyleEntity:
		if op.Ref == "" {
			return missing("ref")
		}
		if op.Props == nil {
			return missing("props")
		}
	case OpEntityRemove:
		if op.Ref == "" {
			return missing("ref")
		}
	case OpEntityMove:
		if op.Ref == "" {
			return missing("ref")
		}
		if op.Parent == "" {
			return missing("parent")
		}
	case OpEntityReorder:
		if op.Ref == "" {
			return missing("ref")
		}
		if _, ok := raw["children"]; !ok {
			return missing("children")
		}
	case OpRelSet, OpRelRemove:
		if op.From == "" {
			return missing("from")
		}
		if op.To == "" {
			return missing("to")
		}
		if op.RelType == "" {
			return missing("type")
		}
	}
	return nil
}

func decodeRelType(typ OpType, raw map[string]any, abbreviated bool) (string, error) {
	if typ != OpRelSet && typ != OpRelRemove {
		return "", nil
	}
	// Abbreviated lines carry the relationship type on "type" (the op type
	// rides on "t"); expanded payloads use "rel_type".
	if abbreviated {
		s, _, err := getString(raw, "type")
		return s, err
	}
	s, _, err := getString(raw, "rel_type")
	return s, err
}

func optionalProps(raw map[string]any, abbreviated bool) (map[string]any, error) {
	key := "props"
	if abbreviated {
		if _, ok := raw["p"]; ok {
			key = "p"
		}
	}
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("wire: %s is not an object", key)
	}
	return m, nil
}

func decodeChildren(raw map[string]any) ([]string, error) {
	v, ok := raw["children"]
	if !ok {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("wire: children is not an array")
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("wire: children contains a non-string element")
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalInt(raw map[string]any, key string) (*int, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("wire: %s is not a number", key)
	}
	n, err := num.Int64()
	if err != nil {
		return nil, fmt.Errorf("wire: %s is not an integer", key)
	}
	i := int(n)
	return &i, nil
}

func getString(raw map[string]any, key string) (string, bool, error) {
	v, ok := raw[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("wire: %s is not a string", key)
	}
	return s, true, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	s, ok, err := getString(raw, key)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", fmt.Errorf("wire: missing %s", key)
	}
	return s, nil
}

func optionalStringSlice(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("wire: %s is not an array", key)
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("wire: %s contains a non-string element", key)
		}
		out = append(out, s)
	}
	return out, nil
}
