package prompt

import (
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/tier"
)

// Tool definitions anchor the wire format and extend the cacheable prefix.
// Order and content are fixed per tier; the cache marker rides the last
// entry so the provider caches every earlier byte. The model still emits
// JSONL text; tools are advertised, not invoked.

func props(fields map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": fields,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var propsField = map[string]any{
	"type":        "object",
	"description": "Prop merge: values are JSON scalars or arrays of scalars; null deletes the key.",
}

// mutationTools is the shared tool list for the compiler and architect
// tiers. Append-only; reordering would invalidate every cached prefix.
var mutationTools = []llm.ToolDef{
	{
		Name:        "meta_set",
		Description: "Merge fields into page meta (title, identity, timezone).",
		InputSchema: props(map[string]any{"p": propsField}, "p"),
	},
	{
		Name:        "entity_create",
		Description: "Create an entity under an existing parent (or \"root\" for the page entity).",
		InputSchema: props(map[string]any{
			"id":      str("Short lowercase snake_case id, max 64 chars, permanent."),
			"parent":  str("Existing entity id, or \"root\"."),
			"display": str("Render hint: page, section, card, list, table, checklist, metric, text, image, row."),
			"p":       propsField,
		}, "id", "parent"),
	},
	{
		Name:        "entity_update",
		Description: "Merge props into an existing entity.",
		InputSchema: props(map[string]any{
			"ref": str("Entity id, or path id/field/child_id."),
			"p":   propsField,
		}, "ref", "p"),
	},
	{
		Name:        "entity_remove",
		Description: "Remove an entity and its whole subtree.",
		InputSchema: props(map[string]any{"ref": str("Entity id to remove.")}, "ref"),
	},
	{
		Name:        "entity_move",
		Description: "Reparent an entity, optionally at a sibling position.",
		InputSchema: props(map[string]any{
			"ref":      str("Entity id to move."),
			"parent":   str("New parent id."),
			"position": map[string]any{"type": "integer", "description": "Insertion index among siblings; clamped."},
		}, "ref", "parent"),
	},
	{
		Name:        "entity_reorder",
		Description: "Set the exact order of an entity's living children.",
		InputSchema: props(map[string]any{
			"ref":      str("Parent entity id."),
			"children": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "ref", "children"),
	},
	{
		Name:        "rel_set",
		Description: "Connect two entities with a typed relationship.",
		InputSchema: props(map[string]any{
			"from":        str("Source entity id."),
			"to":          str("Target entity id."),
			"type":        str("Relationship type name."),
			"cardinality": str("many_to_one, one_to_one, or many_to_many; fixed on first use of the type."),
		}, "from", "to", "type"),
	},
	{
		Name:        "rel_remove",
		Description: "Remove one relationship edge.",
		InputSchema: props(map[string]any{
			"from": str("Source entity id."),
			"to":   str("Target entity id."),
			"type": str("Relationship type name."),
		}, "from", "to", "type"),
	},
	{
		Name:        "style_set",
		Description: "Merge page-level style hints.",
		InputSchema: props(map[string]any{"p": propsField}, "p"),
	},
	{
		Name:        "style_entity",
		Description: "Merge entity-level style hints.",
		InputSchema: props(map[string]any{
			"ref": str("Entity id."),
			"p":   propsField,
		}, "ref", "p"),
	},
	{
		Name:        "meta_annotate",
		Description: "Record internal notes on the page; never rendered.",
		InputSchema: props(map[string]any{"p": propsField}, "p"),
	},
	{
		Name:        "voice",
		Description: "Say something short and concrete to the person.",
		InputSchema: props(map[string]any{"text": str("What to say.")}, "text"),
	},
}

// analystTools is the restricted list for the analyst tier.
var analystTools = []llm.ToolDef{
	{
		Name:        "voice",
		Description: "Say something short and concrete to the person.",
		InputSchema: props(map[string]any{"text": str("What to say.")}, "text"),
	},
}

// Tools returns the fixed tool list for a tier with the cache marker on the
// last entry.
func (b *Builder) Tools(t tier.Tier) []llm.ToolDef {
	src := mutationTools
	if t == tier.Analyst {
		src = analystTools
	}
	out := make([]llm.ToolDef, len(src))
	copy(out, src)
	out[len(out)-1].Cache = true
	return out
}
