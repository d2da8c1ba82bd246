// Package reducer applies expanded wire operations to page snapshots. Apply
// is pure and total: it never mutates its input, never performs I/O, and
// answers every input with Accepted or a typed rejection. Malformed input is
// a rejection, not an error.
//
// The reducer is the only writer of snapshot state. Merge semantics follow
// JSON merge-patch: null prop values delete keys, and merges that change
// nothing are accepted without advancing the update counter, so replaying a
// no-op is idempotent.
package reducer

import (
	"errors"
	"reflect"

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/wire"
)

// Apply reduces one operation against snap. On acceptance it returns the
// successor snapshot; on rejection it returns snap unchanged with the reason.
func Apply(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	switch op.Type {
	case wire.OpMetaSet:
		return applyMetaSet(snap, op)
	case wire.OpEntityCreate:
		return applyEntityCreate(snap, op)
	case wire.OpEntityUpdate:
		return applyEntityUpdate(snap, op)
	case wire.OpEntityRemove:
		return applyEntityRemove(snap, op)
	case wire.OpEntityMove:
		return applyEntityMove(snap, op)
	case wire.OpEntityReorder:
		return applyEntityReorder(snap, op)
	case wire.OpRelSet:
		return applyRelSet(snap, op)
	case wire.OpRelRemove:
		return applyRelRemove(snap, op)
	case wire.OpStyleSet:
		return applyStyleSet(snap, op)
	case wire.OpStyleEntity:
		return applyStyleEntity(snap, op)
	case wire.OpMetaAnnotate:
		return applyMetaAnnotate(snap, op)
	default:
		// Signals land here too: they are not operations.
		return snap, rejected(RejectUnknownType)
	}
}

func applyMetaSet(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	if op.Props == nil {
		return snap, rejected(RejectMalformedPayload)
	}
	preview := mergeProps(cloneJSON(snap.Meta).(map[string]any), op.Props)
	if preview == nil {
		preview = map[string]any{}
	}
	if reflect.DeepEqual(normalizeMeta(snap.Meta), preview) {
		return snap, accepted()
	}
	next := snap.Clone()
	next.UpdateSeq++
	next.Meta = preview
	return next, accepted()
}

func applyEntityCreate(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	if !validID(op.ID) || !op.Display.Valid() || !validEntityProps(op.Props) {
		return snap, rejected(RejectMalformedPayload)
	}
	if op.Parent == page.RootParent {
		if snap.Root() != nil {
			return snap, rejected(RejectInvariantViolation)
		}
	} else {
		parent := snap.Get(op.Parent)
		if parent == nil || parent.Removed {
			return snap, rejected(RejectMissingParent)
		}
	}
	if existing := snap.Get(op.ID); existing != nil {
		if existing.Removed {
			// Tombstoned ids are never reusable.
			return snap, rejected(RejectInvariantViolation)
		}
		return snap, rejected(RejectDuplicateID)
	}

	next := snap.Clone()
	next.CreateSeq++
	next.UpdateSeq++
	next.Entities[op.ID] = &page.Entity{
		ID:         op.ID,
		Parent:     op.Parent,
		Display:    op.Display,
		Props:      mergeProps(nil, op.Props),
		CreatedSeq: next.CreateSeq,
		UpdatedSeq: next.UpdateSeq,
	}
	next.Order = append(next.Order, op.ID)
	return next, accepted()
}

func applyEntityUpdate(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	return applyPropsMerge(snap, op)
}

// applyPropsMerge backs entity.update and style.entity: both merge props into
// a resolved entity; only the wire envelope differs.
func applyPropsMerge(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	if op.Props == nil || !validEntityProps(op.Props) {
		return snap, rejected(RejectMalformedPayload)
	}
	e, reason := resolveLiving(snap, op.Ref)
	if reason != "" {
		return snap, rejected(reason)
	}
	merged := mergeProps(cloneMapOrNil(e.Props), op.Props)
	if reflect.DeepEqual(e.Props, merged) {
		// No-op merge: accepted, nothing advances.
		return snap, accepted()
	}

	next := snap.Clone()
	ce := next.Get(e.ID)
	next.UpdateSeq++
	ce.Props = merged
	ce.UpdatedSeq = next.UpdateSeq
	return next, accepted()
}

func applyEntityRemove(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	e, reason := resolveLiving(snap, op.Ref)
	if reason != "" {
		return snap, rejected(reason)
	}

	next := snap.Clone()
	next.UpdateSeq++
	for _, id := range append([]string{e.ID}, next.Descendants(e.ID)...) {
		ent := next.Entities[id]
		ent.Removed = true
		ent.UpdatedSeq = next.UpdateSeq
	}
	// Relationships touching removed entities stay stored for undo; queries
	// filter them out.
	return next, accepted()
}

func applyEntityMove(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	e, reason := resolveLiving(snap, op.Ref)
	if reason != "" {
		return snap, rejected(reason)
	}
	if op.Parent == page.RootParent {
		if root := snap.Root(); root != nil && root.ID != e.ID {
			return snap, rejected(RejectInvariantViolation)
		}
	} else {
		parent := snap.Get(op.Parent)
		if parent == nil || parent.Removed {
			return snap, rejected(RejectMissingParent)
		}
		if op.Parent == e.ID {
			return snap, rejected(RejectCyclicMove)
		}
		for _, desc := range snap.Descendants(e.ID) {
			if desc == op.Parent {
				return snap, rejected(RejectCyclicMove)
			}
		}
	}

	next := snap.Clone()
	ce := next.Get(e.ID)
	idx := next.IndexOf(ce.ID)
	next.Order = append(next.Order[:idx], next.Order[idx+1:]...)
	ce.Parent = op.Parent

	siblings := next.ChildIDs(op.Parent)
	pos := len(siblings)
	if op.Position != nil {
		pos = *op.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(siblings) {
			pos = len(siblings)
		}
	}
	insertAt := len(next.Order)
	if len(siblings) > 0 {
		if pos == len(siblings) {
			insertAt = next.IndexOf(siblings[len(siblings)-1]) + 1
		} else {
			insertAt = next.IndexOf(siblings[pos])
		}
	}
	next.Order = append(next.Order, "")
	copy(next.Order[insertAt+1:], next.Order[insertAt:])
	next.Order[insertAt] = ce.ID

	next.UpdateSeq++
	ce.UpdatedSeq = next.UpdateSeq
	return next, accepted()
}

func applyEntityReorder(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	e, reason := resolveLiving(snap, op.Ref)
	if reason != "" {
		return snap, rejected(reason)
	}
	current := snap.ChildIDs(e.ID)
	if len(current) != len(op.Children) {
		return snap, rejected(RejectReorderMismatch)
	}
	pending := make(map[string]bool, len(current))
	for _, id := range current {
		pending[id] = true
	}
	for _, id := range op.Children {
		if !pending[id] {
			return snap, rejected(RejectReorderMismatch)
		}
		delete(pending, id)
	}

	next := snap.Clone()
	members := make(map[string]bool, len(current))
	for _, id := range current {
		members[id] = true
	}
	slot := 0
	for i, id := range next.Order {
		if members[id] {
			next.Order[i] = op.Children[slot]
			slot++
		}
	}
	next.UpdateSeq++
	next.Get(e.ID).UpdatedSeq = next.UpdateSeq
	return next, accepted()
}

func applyRelSet(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	if op.RelType == "" {
		return snap, rejected(RejectMalformedPayload)
	}
	if op.Cardinality != "" && !op.Cardinality.Valid() {
		return snap, rejected(RejectMalformedPayload)
	}
	if op.Props != nil && !validEntityProps(op.Props) {
		return snap, rejected(RejectMalformedPayload)
	}
	if reason := livingEndpoint(snap, op.From); reason != "" {
		return snap, rejected(reason)
	}
	if reason := livingEndpoint(snap, op.To); reason != "" {
		return snap, rejected(reason)
	}

	recorded, seen := snap.RelTypes[op.RelType]
	if seen && op.Cardinality != "" && op.Cardinality != recorded {
		return snap, rejected(RejectCardinalityClash)
	}
	card := recorded
	if !seen {
		card = op.Cardinality
		if card == "" {
			card = page.ManyToMany
		}
	}

	next := snap.Clone()
	if !seen {
		next.RelTypes[op.RelType] = card
	}
	for key := range next.Relationships {
		if key.Type != op.RelType {
			continue
		}
		switch card {
		case page.ManyToOne:
			if key.From == op.From {
				delete(next.Relationships, key)
			}
		case page.OneToOne:
			if key.From == op.From || key.To == op.To {
				delete(next.Relationships, key)
			}
		case page.ManyToMany:
			if key.From == op.From && key.To == op.To {
				delete(next.Relationships, key)
			}
		}
	}
	next.UpdateSeq++
	rel := &page.Relationship{
		From: op.From, To: op.To, Type: op.RelType,
		Data: mergeProps(nil, op.Props),
		Seq:  next.UpdateSeq,
	}
	next.Relationships[rel.Key()] = rel
	return next, accepted()
}

func applyRelRemove(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	if op.RelType == "" {
		return snap, rejected(RejectMalformedPayload)
	}
	if reason := livingEndpoint(snap, op.From); reason != "" {
		return snap, rejected(reason)
	}
	if reason := livingEndpoint(snap, op.To); reason != "" {
		return snap, rejected(reason)
	}
	key := page.RelKey{From: op.From, To: op.To, Type: op.RelType}
	if _, ok := snap.Relationships[key]; !ok {
		return snap, rejected(RejectMissingRef)
	}

	next := snap.Clone()
	delete(next.Relationships, key)
	next.UpdateSeq++
	return next, accepted()
}

func applyStyleSet(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	return applyMetaSubmapMerge(snap, op, "style")
}

func applyStyleEntity(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	return applyPropsMerge(snap, op)
}

func applyMetaAnnotate(snap *page.Snapshot, op wire.Op) (*page.Snapshot, Outcome) {
	return applyMetaSubmapMerge(snap, op, "annotations")
}

func applyMetaSubmapMerge(snap *page.Snapshot, op wire.Op, key string) (*page.Snapshot, Outcome) {
	if op.Props == nil {
		return snap, rejected(RejectMalformedPayload)
	}
	preview := cloneJSON(snap.Meta).(map[string]any)
	mergeSubmap(preview, key, op.Props)
	if reflect.DeepEqual(normalizeMeta(snap.Meta), preview) {
		return snap, accepted()
	}
	next := snap.Clone()
	next.UpdateSeq++
	next.Meta = preview
	return next, accepted()
}

func resolveLiving(snap *page.Snapshot, ref string) (*page.Entity, RejectReason) {
	e, err := snap.ResolvePath(ref)
	switch {
	case errors.Is(err, page.ErrMalformedRef):
		return nil, RejectMalformedPayload
	case errors.Is(err, page.ErrRefNotFound):
		return nil, RejectMissingRef
	case err != nil:
		return nil, RejectMalformedPayload
	}
	if e.Removed {
		return nil, RejectRefRemoved
	}
	return e, ""
}

func livingEndpoint(snap *page.Snapshot, id string) RejectReason {
	e := snap.Get(id)
	if e == nil {
		return RejectMissingRef
	}
	if e.Removed {
		return RejectRefRemoved
	}
	return ""
}

func cloneMapOrNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneJSON(m).(map[string]any)
}

func normalizeMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
