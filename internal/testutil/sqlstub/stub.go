// Package sqlstub provides a scriptable database/sql driver for tests that
// need to observe the exact statements and bound arguments a caller sends.
package sqlstub

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Call records one statement sent to the stub.
type Call struct {
	Query string
	Args  []any
}

// Result is the scripted outcome of a statement.
type Result struct {
	Columns      []string
	Rows         [][]any
	LastInsertID int64
	RowsAffected int64
	// NoLastInsertID makes LastInsertId fail, as drivers without the
	// capability do.
	NoLastInsertID bool
	Err            error
}

// Conn records statements and answers them from a script.
type Conn struct {
	Execs   []Call
	Queries []Call
	// Respond scripts results by statement; unmatched statements yield an
	// empty Result.
	Respond  func(query string, args []any) Result
	FailPing bool
}

// Open returns a sql.DB whose every connection is conn.
func Open() (*sql.DB, *Conn) {
	conn := &Conn{}
	return sql.OpenDB(connector{conn: conn}), conn
}

// On returns a Respond func answering statements with the given prefix
// (case-insensitive) with res, delegating the rest to next.
func On(prefix string, res Result, next func(string, []any) Result) func(string, []any) Result {
	return func(query string, args []any) Result {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), strings.ToUpper(prefix)) {
			return res
		}
		if next != nil {
			return next(query, args)
		}
		return Result{}
	}
}

// Statements returns every recorded statement text, execs before queries.
func (c *Conn) Statements() []string {
	out := make([]string, 0, len(c.Execs)+len(c.Queries))
	for _, call := range c.Execs {
		out = append(out, call.Query)
	}
	for _, call := range c.Queries {
		out = append(out, call.Query)
	}
	return out
}

type connector struct {
	conn *Conn
}

func (c connector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c connector) Driver() driver.Driver                         { return stubDriver{conn: c.conn} }

type stubDriver struct {
	conn *Conn
}

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *Conn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("sqlstub: prepare not supported") }

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) { return nil, errors.New("sqlstub: transactions not supported") }

// Ping implements driver.Pinger.
func (c *Conn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("sqlstub: ping failed")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, named []driver.NamedValue) (driver.Result, error) {
	args := values(named)
	c.Execs = append(c.Execs, Call{Query: query, Args: args})
	res := c.respond(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return result{res: res}, nil
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(_ context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	args := values(named)
	c.Queries = append(c.Queries, Call{Query: query, Args: args})
	res := c.respond(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{cols: res.Columns, data: res.Rows}, nil
}

func (c *Conn) respond(query string, args []any) Result {
	if c.Respond == nil {
		return Result{}
	}
	return c.Respond(query, args)
}

func values(named []driver.NamedValue) []any {
	out := make([]any, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}

type result struct {
	res Result
}

func (r result) LastInsertId() (int64, error) {
	if r.res.NoLastInsertID {
		return 0, errors.New("sqlstub: LastInsertId not supported")
	}
	return r.res.LastInsertID, nil
}

func (r result) RowsAffected() (int64, error) { return r.res.RowsAffected, nil }

type rows struct {
	cols []string
	data [][]any
	idx  int
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.idx]
	if len(row) != len(dest) {
		return fmt.Errorf("sqlstub: row %d has %d values, want %d", r.idx, len(row), len(dest))
	}
	for i, v := range row {
		dest[i] = v
	}
	r.idx++
	return nil
}
