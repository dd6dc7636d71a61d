// Package document holds the ordered field/value documents that flow from
// clients through the mutation queue into the engine.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Field is one named value of a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an insertion-ordered mapping from field name to Value.
type Document struct {
	fields []Field
	index  map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// FromMap builds a document from a plain map. Keys are added in sorted
// order since Go maps carry none; nil values are skipped.
func FromMap(m map[string]any) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := New()
	for _, k := range keys {
		if v, ok := ValueOf(m[k]); ok {
			d.Set(k, v)
		}
	}
	return d
}

// Set adds or replaces a field. Replacing keeps the original position.
func (d *Document) Set(name string, v Value) *Document {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[name]; ok {
		d.fields[i].Value = v
		return d
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, Field{Name: name, Value: v})
	return d
}

// Get returns the value of a field.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	i, ok := d.index[name]
	if !ok {
		return Value{}, false
	}
	return d.fields[i].Value, true
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Fields returns the fields in insertion order. The slice must not be modified.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	return d.fields
}

// Map returns the document as a plain map of string, int64 and float64 values.
func (d *Document) Map() map[string]any {
	m := make(map[string]any, d.Len())
	for _, f := range d.Fields() {
		m[f.Name] = f.Value.Interface()
	}
	return m
}

// MarshalJSON encodes the document as a JSON object in field order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Integral numbers
// become Int, other numbers Float, booleans strings, nested arrays and
// objects their compact JSON text, and nulls are dropped.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document must be a JSON object")
	}

	*d = Document{index: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		v, ok, err := decodeRaw(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if ok {
			d.Set(key, v)
		}
	}

	_, err = dec.Token()
	return err
}

func decodeRaw(raw json.RawMessage) (Value, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{}, false, nil
	}
	switch trimmed[0] {
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return Value{}, false, err
		}
		return String(buf.String()), true, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, false, err
	}
	v, ok := ValueOf(x)
	return v, ok, nil
}

// DecodeList decodes either a JSON array of objects or an object with a
// "docs" array.
func DecodeList(data []byte) ([]*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Docs []*Document `json:"docs"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		return wrapper.Docs, nil
	}
	var docs []*Document
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
