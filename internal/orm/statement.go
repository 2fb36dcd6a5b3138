package orm

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// ColumnType renders an attribute type in DDL.
	ColumnType func(SQLType) string
	// Returning reports support for INSERT ... RETURNING.
	Returning bool
	// IdentityQuery reads the last generated identity on the current session
	// when neither RETURNING nor sql.Result.LastInsertId is available.
	IdentityQuery string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = Dialect{
	Name:          "sqlite",
	Placeholder:   func(int) string { return "?" },
	ColumnType:    func(t SQLType) string { return t.String() },
	IdentityQuery: "SELECT last_insert_rowid()",
}

// Postgres is the dialect of the pgx database/sql driver.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	ColumnType: func(t SQLType) string {
		if t == IntegerPrimaryKey {
			return "BIGSERIAL PRIMARY KEY"
		}
		return t.String()
	},
	Returning: true,
}

// Statement is parameterized SQL text and the attribute names bound to its
// placeholders, in order.
type Statement struct {
	SQL    string
	Params []string
}

// StatementBuilder renders the statements of a schema for one dialect.
type StatementBuilder struct {
	schema  *Schema
	dialect Dialect
}

// NewStatementBuilder returns a builder for schema in dialect.
func NewStatementBuilder(schema *Schema, dialect Dialect) StatementBuilder {
	return StatementBuilder{schema: schema, dialect: dialect}
}

// CreateTable is idempotent: it succeeds when the table already exists.
func (b StatementBuilder) CreateTable() Statement {
	return Statement{SQL: "CREATE TABLE IF NOT EXISTS " + b.schema.Table() + " (" + b.schema.ddl(b.dialect.ColumnType) + ")"}
}

// DropTable is idempotent: it succeeds when the table is absent.
func (b StatementBuilder) DropTable() Statement {
	return Statement{SQL: "DROP TABLE IF EXISTS " + b.schema.Table()}
}

// Insert binds every persisted attribute. With a RETURNING dialect the
// statement yields the generated identity.
func (b StatementBuilder) Insert() Statement {
	names := b.schema.PersistedNames()
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = b.dialect.Placeholder(i + 1)
	}
	sql := "INSERT INTO " + b.schema.Table() +
		" (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	if b.dialect.Returning {
		sql += " RETURNING " + b.schema.Identity().Name
	}
	return Statement{SQL: sql, Params: names}
}

// Update binds every persisted attribute followed by the identity.
func (b StatementBuilder) Update() Statement {
	names := b.schema.PersistedNames()
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = name + " = " + b.dialect.Placeholder(i+1)
	}
	identity := b.schema.Identity().Name
	sql := "UPDATE " + b.schema.Table() + " SET " + strings.Join(sets, ", ") +
		" WHERE " + identity + " = " + b.dialect.Placeholder(len(names)+1)
	return Statement{SQL: sql, Params: append(names, identity)}
}

// FindByField selects the rows whose field equals one bound value.
func (b StatementBuilder) FindByField(field string) (Statement, error) {
	if !b.schema.Has(field) {
		return Statement{}, &FieldError{Table: b.schema.Table(), Field: field}
	}
	sql := b.selectColumns() + " WHERE " + field + " = " + b.dialect.Placeholder(1)
	return Statement{SQL: sql, Params: []string{field}}, nil
}

// SelectAll selects every row ordered by identity.
func (b StatementBuilder) SelectAll() Statement {
	return Statement{SQL: b.selectColumns() + " ORDER BY " + b.schema.Identity().Name}
}

// Rows come back in physical column order; a table whose columns disagree
// with the schema surfaces as ErrSchemaMismatch during hydration.
func (b StatementBuilder) selectColumns() string {
	return "SELECT * FROM " + b.schema.Table()
}
