package record

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a structured record type referenced by prompt templates.
type Kind string

const (
	ConversationMemory Kind = "CONVERSATION_MEMORY"
	UserPersona        Kind = "USER_PERSONA"
)

// Field describes one permitted key of a record kind.
type Field struct {
	Name string
	List bool
}

// Schema is the fixed allow-list for one record kind: the permitted keys in
// canonical order, plus the render lead-in and the fallback sentence used when
// no record is available.
type Schema struct {
	Kind     Kind
	Fields   []Field
	LeadIn   string
	Fallback string
}

// schemas is the static table of all known record kinds. The allow-lists are
// fixed at build time, never derived from runtime data.
var schemas = map[Kind]*Schema{
	ConversationMemory: {
		Kind: ConversationMemory,
		Fields: []Field{
			{Name: "main_topics", List: true},
			{Name: "action", List: true},
			{Name: "typical_observation"},
		},
		LeadIn:   "From this conversation's memory,",
		Fallback: "Conversation memory is not available.",
	},
	UserPersona: {
		Kind: UserPersona,
		Fields: []Field{
			{Name: "persona"},
		},
		LeadIn:   "From the student's persona,",
		Fallback: "User persona is not available.",
	},
}

// SchemaFor returns the schema for a kind, or nil if the kind is unknown.
func SchemaFor(kind Kind) *Schema {
	return schemas[kind]
}

// Known reports whether a kind is in the fixed set.
func Known(kind Kind) bool {
	_, ok := schemas[kind]
	return ok
}

// Kinds returns all known kinds. Order is not significant.
func Kinds() []Kind {
	out := make([]Kind, 0, len(schemas))
	for k := range schemas {
		out = append(out, k)
	}
	return out
}

// Permits reports whether key is in the schema's allow-list.
func (s *Schema) Permits(key string) bool {
	for _, f := range s.Fields {
		if f.Name == key {
			return true
		}
	}
	return false
}

// Keys returns the permitted key names in canonical order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Name
	}
	return keys
}

// Record is a flat key→value document produced by an external generation step
// (a conversation memory summary or a user persona). Values are strings or
// lists of strings; records are read-only once generated.
type Record struct {
	Kind   Kind
	Fields map[string]any
}

// New builds a record of the given kind from already-decoded fields.
func New(kind Kind, fields map[string]any) *Record {
	return &Record{Kind: kind, Fields: fields}
}

// Decode unmarshals a JSON document into a record of the given kind.
// Keys outside the kind's schema are kept in Fields but never rendered.
func Decode(kind Kind, data []byte) (*Record, error) {
	if !Known(kind) {
		return nil, fmt.Errorf("decode record: unknown kind %q", kind)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return &Record{Kind: kind, Fields: fields}, nil
}

// Get returns the raw value for key and whether it is present.
func (r *Record) Get(key string) (any, bool) {
	if r == nil || r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[key]
	return v, ok
}
