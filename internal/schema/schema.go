// Package schema models index schemas: the field declarations that decide
// how a document is turned into indexable fields.
//
// A Schema value is never mutated after construction; Merge, With and
// Extend return new values, so engines can swap schemas under a lock
// while readers keep using the old one.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Schema is the field map of one index plus its optional secret.
type Schema struct {
	name   string
	secret string
	fields map[string]FieldSpec
}

// New returns an empty schema for the given index name.
func New(name string) *Schema {
	return &Schema{name: NormalizeName(name), fields: make(map[string]FieldSpec)}
}

// FromInput builds a schema from a client declaration. The first invalid
// field fails the whole declaration.
func FromInput(name, secret string, fields map[string]FieldInput) (*Schema, error) {
	s := New(name)
	s.secret = secret

	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		in := fields[n]
		f, err := NewFieldSpec(n, in.Type, in.Store, in.Index)
		if err != nil {
			return nil, err
		}
		s.fields[f.Name] = f
	}
	return s, nil
}

// Name returns the normalized index name.
func (s *Schema) Name() string { return s.name }

// Secret returns the index secret, empty if none.
func (s *Schema) Secret() string { return s.secret }

// Len returns the number of declared fields.
func (s *Schema) Len() int { return len(s.fields) }

// Field looks up a field by name, normalizing it first.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	f, ok := s.fields[NormalizeName(name)]
	return f, ok
}

// Fields returns all declarations sorted by name.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IDFields returns the names of all ID-typed fields, sorted.
func (s *Schema) IDFields() []string {
	var out []string
	for _, f := range s.Fields() {
		if f.Type == TypeID {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s *Schema) clone() *Schema {
	c := &Schema{name: s.name, secret: s.secret, fields: make(map[string]FieldSpec, len(s.fields)+1)}
	for k, v := range s.fields {
		c.fields[k] = v
	}
	return c
}

// With returns a copy of s with f added or replaced.
func (s *Schema) With(f FieldSpec) *Schema {
	c := s.clone()
	c.fields[f.Name] = f
	return c
}

// WithSecret returns a copy of s carrying secret.
func (s *Schema) WithSecret(secret string) *Schema {
	c := s.clone()
	c.secret = secret
	return c
}

// Merge combines other into a copy of s. Without override only fields
// missing from s are added and the secret is kept; with override every
// field of other replaces its namesake and other's secret wins.
// No field is ever removed.
func (s *Schema) Merge(other *Schema, override bool) *Schema {
	c := s.clone()
	if other == nil {
		return c
	}
	if override {
		c.secret = other.secret
	}
	for name, f := range other.fields {
		if _, exists := c.fields[name]; !exists || override {
			c.fields[name] = f
		}
	}
	return c
}

// Equal reports whether both schemas declare the same fields and secret.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || s.name != other.name || s.secret != other.secret || len(s.fields) != len(other.fields) {
		return false
	}
	for k, v := range s.fields {
		if ov, ok := other.fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ValidateDocument rejects empty documents and values a declared field
// cannot accept. Undeclared fields always pass.
func (s *Schema) ValidateDocument(doc *document.Document) error {
	if doc.Len() == 0 {
		return errors.ValidationFailure("document is empty")
	}
	for _, f := range doc.Fields() {
		spec, ok := s.Field(f.Name)
		if !ok {
			continue
		}
		if !spec.Type.Accepts(f.Value) {
			return errors.ValidationFailure(fmt.Sprintf("field [%s] of type [%s] cannot accept value [%s]", spec.Name, spec.Type, f.Value.Text())).
				WithDetail("field", spec.Name)
		}
	}
	return nil
}

// Extend returns s plus an inferred declaration for every undeclared,
// validly named field of doc, and the declarations that were added.
// When nothing is added s itself is returned.
func (s *Schema) Extend(doc *document.Document) (*Schema, []FieldSpec) {
	var added []FieldSpec
	seen := make(map[string]bool)
	for _, f := range doc.Fields() {
		name := NormalizeName(f.Name)
		if seen[name] || !namePattern.MatchString(name) {
			continue
		}
		seen[name] = true
		if _, ok := s.fields[name]; ok {
			continue
		}
		t := InferType(f.Value)
		added = append(added, FieldSpec{Name: name, Type: t, Stored: t.DefaultStored(), Indexed: true})
	}
	if len(added) == 0 {
		return s, nil
	}

	ext := New(s.name)
	for _, f := range added {
		ext.fields[f.Name] = f
	}
	return s.Merge(ext, false), added
}

type schemaJSON struct {
	Name   string               `json:"name"`
	Secret string               `json:"secret,omitempty"`
	Fields map[string]FieldSpec `json:"fields"`
}

// MarshalJSON encodes the schema record.
func (s *Schema) MarshalJSON() ([]byte, error) {
	fields := s.fields
	if fields == nil {
		fields = map[string]FieldSpec{}
	}
	return json.Marshal(schemaJSON{Name: s.name, Secret: s.secret, Fields: fields})
}

// UnmarshalJSON decodes a schema record, normalizing field names and
// rejecting unknown types.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string `json:"name"`
		Secret string `json:"secret"`
		Fields map[string]struct {
			Type    string `json:"type"`
			Stored  *bool  `json:"store"`
			Indexed *bool  `json:"index"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := New(raw.Name)
	out.secret = raw.Secret
	for n, f := range raw.Fields {
		spec, err := NewFieldSpec(n, f.Type, f.Stored, f.Indexed)
		if err != nil {
			return err
		}
		out.fields[spec.Name] = spec
	}
	*s = *out
	return nil
}
