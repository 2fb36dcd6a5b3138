package orm

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
)

// Row is a raw result row, positionally aligned with a Schema.
type Row []any

// Binding is a nullable attribute slot. It scans raw column values in and
// yields bound parameter values out; *sql.NullInt64 and *sql.NullString
// both qualify.
type Binding interface {
	sql.Scanner
	driver.Valuer
}

// Entity is a record mapped through a Schema.
type Entity interface {
	// Bindings returns pointers to every attribute slot in schema order,
	// identity first.
	Bindings() []Binding
}

// NullText returns a valid nullable string.
func NullText(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

// RowCodec converts between rows and records using a schema's ordering.
type RowCodec struct {
	schema *Schema
}

// NewRowCodec returns a codec bound to schema.
func NewRowCodec(schema *Schema) RowCodec { return RowCodec{schema: schema} }

// Hydrate copies row into dst, attribute by attribute.
func (c RowCodec) Hydrate(row Row, dst Entity) error {
	if len(row) != c.schema.Len() {
		return fmt.Errorf("%w: row has %d values, %s declares %d attributes",
			ErrSchemaMismatch, len(row), c.schema.Table(), c.schema.Len())
	}
	slots, err := c.bindings(dst)
	if err != nil {
		return err
	}
	for i, v := range row {
		if err := slots[i].Scan(v); err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", c.schema.Table(), c.schema.fields[i].Name, err)
		}
	}
	return nil
}

// Serialize returns the persisted attribute values of src in schema order,
// ready to bind to Insert or Update.
func (c RowCodec) Serialize(src Entity) ([]any, error) {
	row, err := c.Row(src)
	if err != nil {
		return nil, err
	}
	return []any(row[1:]), nil
}

// Row returns every attribute value of src, identity first.
func (c RowCodec) Row(src Entity) (Row, error) {
	slots, err := c.bindings(src)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(slots))
	for i, slot := range slots {
		v, err := slot.Value()
		if err != nil {
			return nil, fmt.Errorf("serialize %s.%s: %w", c.schema.Table(), c.schema.fields[i].Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// Identity returns the identity slot of rec.
func (c RowCodec) Identity(rec Entity) (*sql.NullInt64, error) {
	slots, err := c.bindings(rec)
	if err != nil {
		return nil, err
	}
	id, ok := slots[0].(*sql.NullInt64)
	if !ok {
		return nil, fmt.Errorf("%w: identity %s.%s is %T, want *sql.NullInt64",
			ErrSchemaMismatch, c.schema.Table(), c.schema.Identity().Name, slots[0])
	}
	return id, nil
}

func (c RowCodec) bindings(rec Entity) ([]Binding, error) {
	slots := rec.Bindings()
	if len(slots) != c.schema.Len() {
		return nil, fmt.Errorf("%w: %T exposes %d attributes, %s declares %d",
			ErrSchemaMismatch, rec, len(slots), c.schema.Table(), c.schema.Len())
	}
	return slots, nil
}
