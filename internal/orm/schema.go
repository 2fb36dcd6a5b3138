// Package orm maps a single record type onto a single relational table.
//
// A Schema declares the table and its ordered attributes once; the RowCodec,
// StatementBuilder and Gateway all read that same ordering, so the column list
// of a statement and the value list bound to it cannot drift apart.
package orm

import (
	"fmt"
	"regexp"
	"strings"
)

// SQLType is the storage class of an attribute.
type SQLType int

const (
	// IntegerPrimaryKey marks the identity attribute.
	IntegerPrimaryKey SQLType = iota
	// Text marks a nullable string attribute.
	Text
)

func (t SQLType) String() string {
	switch t {
	case IntegerPrimaryKey:
		return "INTEGER PRIMARY KEY"
	case Text:
		return "TEXT"
	default:
		return fmt.Sprintf("SQLType(%d)", int(t))
	}
}

// Attribute is one named, typed column of a Schema.
type Attribute struct {
	Name string
	Type SQLType
}

// Schema is the immutable attribute declaration of a mapped table.
// The first attribute is always the identity.
type Schema struct {
	table  string
	fields []Attribute
	index  map[string]int
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewSchema declares a table whose identity attribute is followed by the
// given text attributes, in order.
func NewSchema(table, identity string, fields ...string) (*Schema, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	names := append([]string{identity}, fields...)
	s := &Schema{
		table:  table,
		fields: make([]Attribute, 0, len(names)),
		index:  make(map[string]int, len(names)),
	}
	for i, name := range names {
		if !identifierPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid attribute name %q for table %s", name, table)
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("duplicate attribute %q for table %s", name, table)
		}
		typ := Text
		if i == 0 {
			typ = IntegerPrimaryKey
		}
		s.index[name] = i
		s.fields = append(s.fields, Attribute{Name: name, Type: typ})
	}
	return s, nil
}

// MustSchema is NewSchema for package-level declarations; it panics on error.
func MustSchema(table, identity string, fields ...string) *Schema {
	s, err := NewSchema(table, identity, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the table name.
func (s *Schema) Table() string { return s.table }

// Identity returns the identity attribute.
func (s *Schema) Identity() Attribute { return s.fields[0] }

// Fields returns every attribute in declared order.
func (s *Schema) Fields() []Attribute {
	out := make([]Attribute, len(s.fields))
	copy(out, s.fields)
	return out
}

// Persisted returns all attributes except the identity, in declared order.
func (s *Schema) Persisted() []Attribute {
	out := make([]Attribute, len(s.fields)-1)
	copy(out, s.fields[1:])
	return out
}

// Len reports the number of attributes including the identity.
func (s *Schema) Len() int { return len(s.fields) }

// Names returns every attribute name in declared order.
func (s *Schema) Names() []string { return attributeNames(s.fields) }

// PersistedNames returns the names of Persisted().
func (s *Schema) PersistedNames() []string { return attributeNames(s.fields[1:]) }

// Index returns the position of the named attribute.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema declares the named attribute.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// DDL renders the column definitions, "<name> <type>" joined by commas.
func (s *Schema) DDL() string {
	return s.ddl(func(t SQLType) string { return t.String() })
}

func (s *Schema) ddl(columnType func(SQLType) string) string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + " " + columnType(f.Type)
	}
	return strings.Join(parts, ", ")
}

func attributeNames(attrs []Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

// TableName derives the conventional table name for an entity type name:
// lower-cased and pluralized ("Student" -> "students").
func TableName(entity string) string {
	name := strings.ToLower(entity)
	switch {
	case name == "":
		return name
	case strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}
