// Package wire implements the model-facing line protocol: abbreviated JSONL
// operations and signals, their expansion to canonical form, and the
// streaming splitter that turns raw text chunks into parsed items.
//
// The abbreviated form ({"t":...,"p":{...}}) exists only on the model wire.
// Everything downstream of this package sees expanded operations.
package wire

import (
	"github.com/aidekit/scribe/pkg/page"
)

// OpType names a mutation primitive.
type OpType string

const (
	OpMetaSet       OpType = "meta.set"
	OpEntityCreate  OpType = "entity.create"
	OpEntityUpdate  OpType = "entity.update"
	OpEntityRemove  OpType = "entity.remove"
	OpEntityMove    OpType = "entity.move"
	OpEntityReorder OpType = "entity.reorder"
	OpRelSet        OpType = "rel.set"
	OpRelRemove     OpType = "rel.remove"
	OpStyleSet      OpType = "style.set"
	OpStyleEntity   OpType = "style.entity"
	OpMetaAnnotate  OpType = "meta.annotate"
)

// KnownOpType reports whether t is a supported mutation primitive.
func KnownOpType(t OpType) bool {
	switch t {
	case OpMetaSet, OpEntityCreate, OpEntityUpdate, OpEntityRemove, OpEntityMove,
		OpEntityReorder, OpRelSet, OpRelRemove, OpStyleSet, OpStyleEntity, OpMetaAnnotate:
		return true
	}
	return false
}

// SignalType names an orchestrator instruction that is not an operation.
type SignalType string

const (
	SignalVoice      SignalType = "voice"
	SignalEscalate   SignalType = "escalate"
	SignalClarify    SignalType = "clarify"
	SignalBatchStart SignalType = "batch.start"
	SignalBatchEnd   SignalType = "batch.end"
)

func knownSignalType(t string) bool {
	switch SignalType(t) {
	case SignalVoice, SignalEscalate, SignalClarify, SignalBatchStart, SignalBatchEnd:
		return true
	}
	return false
}

// Op is one mutation in expanded (canonical) form. Only the fields relevant
// to Type are set. On the session wire the rel-type field is rel_type; in the
// abbreviated model form it rides on the "type" key next to "t".
type Op struct {
	Type        OpType           `json:"type"`
	ID          string           `json:"id,omitempty"`
	Parent      string           `json:"parent,omitempty"`
	Display     page.Display     `json:"display,omitempty"`
	Props       map[string]any   `json:"props,omitempty"`
	Ref         string           `json:"ref,omitempty"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
	RelType     string           `json:"rel_type,omitempty"`
	Cardinality page.Cardinality `json:"cardinality,omitempty"`
	Children    []string         `json:"children,omitempty"`
	Position    *int             `json:"position,omitempty"`
}

// Signal is one non-mutating instruction in expanded form.
type Signal struct {
	Type    SignalType `json:"type"`
	Text    string     `json:"text,omitempty"`
	Options []string   `json:"options,omitempty"`
	Tier    string     `json:"tier,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Extract string     `json:"extract,omitempty"`
}

// ItemType discriminates splitter output items.
type ItemType string

const (
	ItemTypeOp           ItemType = "op"
	ItemTypeSignal       ItemType = "signal"
	ItemTypeParseFailure ItemType = "parse_failure"
)

// Item is one element of the splitter's output sequence.
type Item interface {
	itemType() ItemType
}

// OpItem wraps an expanded operation.
type OpItem struct {
	Op Op
}

// SignalItem wraps an expanded signal.
type SignalItem struct {
	Signal Signal
}

// ParseFailureItem reports that the malformed-line streak limit was reached.
type ParseFailureItem struct {
	Streak int
}

func (OpItem) itemType() ItemType           { return ItemTypeOp }
func (SignalItem) itemType() ItemType       { return ItemTypeSignal }
func (ParseFailureItem) itemType() ItemType { return ItemTypeParseFailure }
