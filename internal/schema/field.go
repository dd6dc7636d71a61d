package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeID     FieldType = "id"
	TypeString FieldType = "string"
	TypeLong   FieldType = "long"
	TypeDouble FieldType = "double"
)

// DefaultFieldType applies when a declaration carries no type.
const DefaultFieldType = TypeString

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NormalizeName trims and lower-cases an index or field name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidName reports whether name, once normalized, is a legal index or field name.
func ValidName(name string) bool {
	return namePattern.MatchString(NormalizeName(name))
}

// CheckIndexName normalizes name or returns an InvalidName error.
func CheckIndexName(name string) (string, error) {
	n := NormalizeName(name)
	if !namePattern.MatchString(n) {
		return "", errors.InvalidName(fmt.Sprintf("index name [%s] is invalid", name)).
			WithSuggestion("use letters, digits and underscores only")
	}
	return n, nil
}

// ParseFieldType parses a case-insensitive type name. Empty means DefaultFieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultFieldType, nil
	case TypeID:
		return TypeID, nil
	case TypeString:
		return TypeString, nil
	case TypeLong:
		return TypeLong, nil
	case TypeDouble:
		return TypeDouble, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// DefaultStored reports whether values of this type are stored unless told otherwise.
func (t FieldType) DefaultStored() bool { return t == TypeID }

// IsNumeric reports whether the type is LONG or DOUBLE.
func (t FieldType) IsNumeric() bool { return t == TypeLong || t == TypeDouble }

// MaxExactLong is the largest magnitude a LONG field holds exactly.
// Numeric fields are indexed as float64, which has a 53-bit mantissa.
const MaxExactLong = 1 << 53

// Accepts reports whether v can be written to a field of this type.
// Integers beyond ±MaxExactLong are refused by LONG fields.
func (t FieldType) Accepts(v document.Value) bool {
	if t == TypeLong && v.Kind() == document.KindInt {
		i, _ := v.Int64()
		return i >= -MaxExactLong && i <= MaxExactLong
	}
	if t.IsNumeric() {
		return v.IsNumeric()
	}
	return v.IsValid()
}

// InferType picks a type for a value seen on an undeclared field.
func InferType(v document.Value) FieldType {
	switch v.Kind() {
	case document.KindInt:
		return TypeLong
	case document.KindFloat:
		return TypeDouble
	default:
		return TypeString
	}
}

// FieldSpec declares one field of an index.
type FieldSpec struct {
	Name    string    `json:"-"`
	Type    FieldType `json:"type"`
	Stored  bool      `json:"store"`
	Indexed bool      `json:"index"`
}

// NewFieldSpec builds a field declaration. Nil hints take the type's defaults:
// stored only for ID fields, indexed always.
func NewFieldSpec(name, typeHint string, stored, indexed *bool) (FieldSpec, error) {
	n := NormalizeName(name)
	if !namePattern.MatchString(n) {
		return FieldSpec{}, errors.InvalidName(fmt.Sprintf("field name [%s] is invalid", name)).
			WithDetail("field", name)
	}
	t, err := ParseFieldType(typeHint)
	if err != nil {
		return FieldSpec{}, errors.InvalidSpec(fmt.Sprintf("field [%s] has invalid type [%s]", n, typeHint), err).
			WithDetail("field", n)
	}

	f := FieldSpec{Name: n, Type: t, Stored: t.DefaultStored(), Indexed: true}
	if stored != nil {
		f.Stored = *stored
	}
	if indexed != nil {
		f.Indexed = *indexed
	}
	return f, nil
}

// FieldInput is a field declaration as received from a client.
type FieldInput struct {
	Type  string `json:"type" yaml:"type"`
	Store *bool  `json:"store,omitempty" yaml:"store,omitempty"`
	Index *bool  `json:"index,omitempty" yaml:"index,omitempty"`
}
