package page

// RootParent is the reserved parent id of the single page entity.
const RootParent = "root"

// MaxIDLen bounds entity ids accepted on the wire.
const MaxIDLen = 64

// Display is a rendering hint attached to an entity. The empty value is valid
// and means "no hint".
type Display string

const (
	DisplayPage      Display = "page"
	DisplaySection   Display = "section"
	DisplayCard      Display = "card"
	DisplayList      Display = "list"
	DisplayTable     Display = "table"
	DisplayChecklist Display = "checklist"
	DisplayMetric    Display = "metric"
	DisplayText      Display = "text"
	DisplayImage     Display = "image"
	DisplayRow       Display = "row"
)

// Valid reports whether d is a known display hint or empty.
func (d Display) Valid() bool {
	switch d {
	case "", DisplayPage, DisplaySection, DisplayCard, DisplayList, DisplayTable,
		DisplayChecklist, DisplayMetric, DisplayText, DisplayImage, DisplayRow:
		return true
	}
	return false
}

// Structural reports whether d denotes page scaffolding rather than leaf
// content. Used by the escalation heuristics.
func (d Display) Structural() bool {
	switch d {
	case DisplayPage, DisplaySection, DisplayTable, DisplayList, DisplayChecklist:
		return true
	}
	return false
}

// Cardinality constrains how many edges of one relationship type may share
// endpoints. The first rel.set that names a type fixes its cardinality.
type Cardinality string

const (
	ManyToOne  Cardinality = "many_to_one"
	OneToOne   Cardinality = "one_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// Valid reports whether c is a known cardinality.
func (c Cardinality) Valid() bool {
	switch c {
	case ManyToOne, OneToOne, ManyToMany:
		return true
	}
	return false
}

// Entity is one node of the living page. Removal is a tombstone: removed
// entities stay in the snapshot and their ids are never reused.
type Entity struct {
	ID         string         `json:"id"`
	Parent     string         `json:"parent"`
	Display    Display        `json:"display,omitempty"`
	Props      map[string]any `json:"props,omitempty"`
	Removed    bool           `json:"_removed,omitempty"`
	CreatedSeq int64          `json:"_created_seq"`
	UpdatedSeq int64          `json:"_updated_seq"`
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Props = cloneMap(e.Props)
	return &c
}

// RelKey identifies one relationship edge.
type RelKey struct {
	From string
	To   string
	Type string
}

// Relationship is a typed edge between two entities. Seq records creation
// order for deterministic serialization.
type Relationship struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Seq  int64          `json:"seq"`
}

// Key returns the identifying triple of r.
func (r *Relationship) Key() RelKey {
	return RelKey{From: r.From, To: r.To, Type: r.Type}
}

// Clone returns a deep copy of r.
func (r *Relationship) Clone() *Relationship {
	c := *r
	c.Data = cloneMap(r.Data)
	return &c
}
