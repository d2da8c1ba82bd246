// Package page defines the living-page snapshot model: a tree of typed
// entities plus relationships, page meta, and two monotonic sequence
// counters.
//
// Snapshots are values. The helpers here never mutate; code that needs a
// modified snapshot clones first and mutates the clone (the reducer is the
// only writer). All iteration follows entity insertion order so reduction
// and serialization stay deterministic.
package page

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedRef reports a ref path that is not `id` or `id/field/child`.
	ErrMalformedRef = errors.New("page: malformed ref path")
	// ErrRefNotFound reports a ref whose target entity does not exist.
	ErrRefNotFound = errors.New("page: ref not found")
)

// Snapshot is the full page state at a point in time.
//
// Order holds every entity id, living and tombstoned, in insertion order.
// Creates append; move and reorder are the only operations that reposition
// existing ids. Sibling order is the relative order of a parent's children
// within Order.
type Snapshot struct {
	Meta          map[string]any
	Entities      map[string]*Entity
	Order         []string
	Relationships map[RelKey]*Relationship
	RelTypes      map[string]Cardinality
	CreateSeq     int64
	UpdateSeq     int64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Meta:          map[string]any{},
		Entities:      map[string]*Entity{},
		Relationships: map[RelKey]*Relationship{},
		RelTypes:      map[string]Cardinality{},
	}
}

// Get returns the entity with the given id, tombstoned or not, or nil.
func (s *Snapshot) Get(id string) *Entity {
	return s.Entities[id]
}

// Living returns the non-removed entity with the given id, or nil.
func (s *Snapshot) Living(id string) *Entity {
	e := s.Entities[id]
	if e == nil || e.Removed {
		return nil
	}
	return e
}

// Empty reports whether the page has no living entities (a brand-new aide).
func (s *Snapshot) Empty() bool {
	for _, id := range s.Order {
		if e := s.Entities[id]; e != nil && !e.Removed {
			return false
		}
	}
	return true
}

// Root returns the single living entity whose parent is "root", or nil.
func (s *Snapshot) Root() *Entity {
	for _, id := range s.Order {
		e := s.Entities[id]
		if e != nil && !e.Removed && e.Parent == RootParent {
			return e
		}
	}
	return nil
}

// Children returns the living children of parent in sibling order.
func (s *Snapshot) Children(parent string) []*Entity {
	var out []*Entity
	for _, id := range s.Order {
		e := s.Entities[id]
		if e != nil && !e.Removed && e.Parent == parent {
			out = append(out, e)
		}
	}
	return out
}

// ChildIDs returns the ids of the living children of parent in sibling order.
func (s *Snapshot) ChildIDs(parent string) []string {
	var out []string
	for _, e := range s.Children(parent) {
		out = append(out, e.ID)
	}
	return out
}

// Descendants returns the ids of every living descendant of id, depth-first
// in sibling order. id itself is not included.
func (s *Snapshot) Descendants(id string) []string {
	var out []string
	for _, child := range s.Children(id) {
		out = append(out, child.ID)
		out = append(out, s.Descendants(child.ID)...)
	}
	return out
}

// Depth returns the tree depth of id: 0 for the page entity (parent "root"),
// 1 for its direct children, and so on. Unknown ids report 0.
func (s *Snapshot) Depth(id string) int {
	depth := 0
	cur := s.Entities[id]
	for cur != nil && cur.Parent != RootParent {
		cur = s.Entities[cur.Parent]
		depth++
		if depth > len(s.Entities) {
			break
		}
	}
	return depth
}

// ResolvePath resolves an update ref. A bare `id` addresses an entity
// directly; `id/field/child` addresses a child row inside a single-field
// child collection, where the middle segment names the collection and the
// last segment is the child's id. Tombstoned entities resolve; callers check
// Removed.
func (s *Snapshot) ResolvePath(ref string) (*Entity, error) {
	if ref == "" {
		return nil, ErrMalformedRef
	}
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 1:
		e := s.Entities[parts[0]]
		if e == nil {
			return nil, ErrRefNotFound
		}
		return e, nil
	case 3:
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, ErrMalformedRef
		}
		owner := s.Entities[parts[0]]
		if owner == nil {
			return nil, ErrRefNotFound
		}
		child := s.Entities[parts[2]]
		if child == nil || child.Parent != owner.ID {
			return nil, ErrRefNotFound
		}
		return child, nil
	default:
		return nil, ErrMalformedRef
	}
}

// FindByProp returns the first living entity, in insertion order, with any
// string prop containing substr (case-insensitive). Classifier heuristics
// only; the reducer never matches fuzzily.
func (s *Snapshot) FindByProp(substr string) *Entity {
	needle := strings.ToLower(substr)
	for _, id := range s.Order {
		e := s.Entities[id]
		if e == nil || e.Removed {
			continue
		}
		for _, v := range e.Props {
			if sv, ok := v.(string); ok && strings.Contains(strings.ToLower(sv), needle) {
				return e
			}
		}
	}
	return nil
}

// LivingEntities returns every non-removed entity in insertion order.
func (s *Snapshot) LivingEntities() []*Entity {
	var out []*Entity
	for _, id := range s.Order {
		if e := s.Entities[id]; e != nil && !e.Removed {
			out = append(out, e)
		}
	}
	return out
}

// LivingRelationships returns, in seq order, every edge whose endpoints are
// both living. Edges touching tombstoned entities stay stored but are hidden
// from queries.
func (s *Snapshot) LivingRelationships() []*Relationship {
	var out []*Relationship
	for _, r := range s.Relationships {
		if s.Living(r.From) != nil && s.Living(r.To) != nil {
			out = append(out, r)
		}
	}
	sortRelationships(out)
	return out
}

// IndexOf returns the position of id in Order, or -1.
func (s *Snapshot) IndexOf(id string) int {
	for i, v := range s.Order {
		if v == id {
			return i
		}
	}
	return -1
}
