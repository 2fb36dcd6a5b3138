package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Executor runs SQL against a database session. *sql.DB, *sql.Conn and
// *sql.Tx satisfy it. Gateways borrow it and never close it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Gateway persists records of type T in the table described by its schema.
//
// A record is Transient while its identity is NULL and Persisted once Insert
// has assigned one. Save dispatches on that state. Gateways hold no locks:
// callers sharing an Executor across goroutines serialize access themselves.
type Gateway[T Entity] struct {
	exec    Executor
	schema  *Schema
	dialect Dialect
	codec   RowCodec
	stmts   StatementBuilder
	factory func() T
	opts    options
}

// NewGateway binds schema to exec in the given dialect. factory returns a
// fresh Transient record used for hydration.
func NewGateway[T Entity](exec Executor, schema *Schema, dialect Dialect, factory func() T, opts ...Option) *Gateway[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Gateway[T]{
		exec:    exec,
		schema:  schema,
		dialect: dialect,
		codec:   NewRowCodec(schema),
		stmts:   NewStatementBuilder(schema, dialect),
		factory: factory,
		opts:    o,
	}
}

// Schema returns the mapped schema.
func (g *Gateway[T]) Schema() *Schema { return g.schema }

// Codec returns the row codec of the mapped schema.
func (g *Gateway[T]) Codec() RowCodec { return g.codec }

// Statements returns the statement builder of the mapped schema.
func (g *Gateway[T]) Statements() StatementBuilder { return g.stmts }

// New returns a fresh Transient record.
func (g *Gateway[T]) New() T { return g.factory() }

// CreateTable creates the table unless it already exists.
func (g *Gateway[T]) CreateTable(ctx context.Context) error {
	return g.run(ctx, "create_table", func(ctx context.Context) error {
		return g.execute(ctx, g.stmts.CreateTable())
	})
}

// DropTable drops the table if it exists.
func (g *Gateway[T]) DropTable(ctx context.Context) error {
	return g.run(ctx, "drop_table", func(ctx context.Context) error {
		return g.execute(ctx, g.stmts.DropTable())
	})
}

// FindBy returns the first record whose field equals value. The boolean is
// false, with a nil error, when no row matches.
func (g *Gateway[T]) FindBy(ctx context.Context, field string, value any) (T, bool, error) {
	var (
		zero  T
		found T
		ok    bool
	)
	err := g.run(ctx, "find_by", func(ctx context.Context) error {
		stmt, err := g.stmts.FindByField(field)
		if err != nil {
			return err
		}
		rows, err := g.query(ctx, stmt, 1, value)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		rec := g.factory()
		if err := g.codec.Hydrate(rows[0], rec); err != nil {
			return err
		}
		found, ok = rec, true
		return nil
	})
	if err != nil {
		return zero, false, err
	}
	return found, ok, nil
}

// All returns every record ordered by identity.
func (g *Gateway[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	err := g.run(ctx, "all", func(ctx context.Context) error {
		rows, err := g.query(ctx, g.stmts.SelectAll(), 0)
		if err != nil {
			return err
		}
		out = make([]T, 0, len(rows))
		for _, row := range rows {
			rec := g.factory()
			if err := g.codec.Hydrate(row, rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert writes a Transient record and assigns the generated identity to it.
func (g *Gateway[T]) Insert(ctx context.Context, rec T) error {
	return g.run(ctx, "insert", func(ctx context.Context) error {
		id, err := g.codec.Identity(rec)
		if err != nil {
			return err
		}
		if id.Valid {
			return fmt.Errorf("insert into %s (id %d): %w", g.schema.Table(), id.Int64, ErrAlreadyPersisted)
		}
		args, err := g.codec.Serialize(rec)
		if err != nil {
			return err
		}
		generated, err := g.insert(ctx, g.stmts.Insert(), args)
		if err != nil {
			return err
		}
		*id = sql.NullInt64{Int64: generated, Valid: true}
		return nil
	})
}

// Update writes every persisted attribute of a Persisted record. An identity
// that no longer exists matches no rows and is not an error.
func (g *Gateway[T]) Update(ctx context.Context, rec T) error {
	return g.run(ctx, "update", func(ctx context.Context) error {
		id, err := g.codec.Identity(rec)
		if err != nil {
			return err
		}
		if !id.Valid {
			return fmt.Errorf("update %s: %w", g.schema.Table(), ErrNotPersisted)
		}
		args, err := g.codec.Serialize(rec)
		if err != nil {
			return err
		}
		stmt := g.stmts.Update()
		g.opts.logger.Debug("exec", "table", g.schema.Table(), "sql", stmt.SQL)
		res, err := g.exec.ExecContext(ctx, stmt.SQL, append(args, id.Int64)...)
		if err != nil {
			return fmt.Errorf("update %s: %w", g.schema.Table(), err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			g.opts.logger.Debug("update matched no rows", "table", g.schema.Table(), "id", id.Int64)
		}
		return nil
	})
}

// Save inserts a Transient record and updates a Persisted one.
func (g *Gateway[T]) Save(ctx context.Context, rec T) error {
	id, err := g.codec.Identity(rec)
	if err != nil {
		return err
	}
	if id.Valid {
		return g.Update(ctx, rec)
	}
	return g.Insert(ctx, rec)
}

// insert runs stmt and returns the identity generated by it, preferring a
// RETURNING clause, then sql.Result.LastInsertId, then the dialect's
// session query.
func (g *Gateway[T]) insert(ctx context.Context, stmt Statement, args []any) (int64, error) {
	if g.dialect.Returning {
		rows, err := g.query(ctx, stmt, 1, args...)
		if err != nil {
			return 0, err
		}
		return g.identityFrom(rows)
	}
	g.opts.logger.Debug("exec", "table", g.schema.Table(), "sql", stmt.SQL)
	res, err := g.exec.ExecContext(ctx, stmt.SQL, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", g.schema.Table(), err)
	}
	id, idErr := res.LastInsertId()
	if idErr == nil {
		return id, nil
	}
	if g.dialect.IdentityQuery == "" {
		return 0, fmt.Errorf("insert into %s: read identity: %w", g.schema.Table(), idErr)
	}
	rows, err := g.query(ctx, Statement{SQL: g.dialect.IdentityQuery}, 1)
	if err != nil {
		return 0, err
	}
	return g.identityFrom(rows)
}

func (g *Gateway[T]) identityFrom(rows []Row) (int64, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("insert into %s: no identity returned", g.schema.Table())
	}
	var id sql.NullInt64
	if err := id.Scan(rows[0][0]); err != nil {
		return 0, fmt.Errorf("insert into %s: read identity: %w", g.schema.Table(), err)
	}
	if !id.Valid {
		return 0, fmt.Errorf("insert into %s: null identity returned", g.schema.Table())
	}
	return id.Int64, nil
}

func (g *Gateway[T]) execute(ctx context.Context, stmt Statement, args ...any) error {
	g.opts.logger.Debug("exec", "table", g.schema.Table(), "sql", stmt.SQL)
	if _, err := g.exec.ExecContext(ctx, stmt.SQL, args...); err != nil {
		return fmt.Errorf("exec on %s: %w", g.schema.Table(), err)
	}
	return nil
}

// query reads at most limit rows (all rows when limit is 0).
func (g *Gateway[T]) query(ctx context.Context, stmt Statement, limit int, args ...any) (_ []Row, retErr error) {
	g.opts.logger.Debug("query", "table", g.schema.Table(), "sql", stmt.SQL)
	rows, err := g.exec.QueryContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", g.schema.Table(), err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("close rows of %s: %w", g.schema.Table(), cerr)
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", g.schema.Table(), err)
	}
	var out []Row
	for rows.Next() {
		row := make(Row, len(cols))
		dest := make([]any, len(cols))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", g.schema.Table(), err)
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", g.schema.Table(), err)
	}
	return out, nil
}

func (g *Gateway[T]) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	op := g.schema.Table() + "." + operation
	ctx, span := g.opts.tracer.Start(ctx, op)
	started := g.opts.clock.Now()
	err := fn(ctx)
	g.opts.metrics.Observe(ctx, op, err == nil, g.opts.clock.Now().Sub(started))
	span.End(err)
	if err != nil {
		level := g.opts.logger.Error
		if isCallerError(err) {
			level = g.opts.logger.Warn
		}
		level("gateway operation failed", "table", g.schema.Table(), "operation", operation, "error", err)
	}
	return err
}

func isCallerError(err error) bool {
	return errors.Is(err, ErrAlreadyPersisted) || errors.Is(err, ErrNotPersisted) ||
		errors.Is(err, ErrUnknownField)
}
