package orm

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"rollcall/internal/testutil/sqlstub"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	entries []logEntry
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) add(level, msg string, args []any) {
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) has(level, msg string) bool {
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	calls []metricsCall
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.calls = append(m.calls, metricsCall{op: op, success: success})
}

func (m *captureMetrics) ops() []string {
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.op
	}
	return out
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

func (t *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: t, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func newPersonGateway(t *testing.T, dialect Dialect, opts ...Option) (*Gateway[*person], *sqlstub.Conn) {
	t.Helper()
	db, conn := sqlstub.Open()
	t.Cleanup(func() { _ = db.Close() })
	return NewGateway(db, personSchema, dialect, func() *person { return &person{} }, opts...), conn
}

func TestInsertPostgresUsesReturning(t *testing.T) {
	gw, conn := newPersonGateway(t, Postgres)
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{Columns: []string{"id"}, Rows: [][]any{{int64(42)}}}, nil)

	p := &person{Name: NullText("Ada")}
	if err := gw.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !p.ID.Valid || p.ID.Int64 != 42 {
		t.Fatalf("identity = %+v, want 42", p.ID)
	}
	if len(conn.Execs) != 0 || len(conn.Queries) != 1 {
		t.Fatalf("expected a single RETURNING query, got execs=%v queries=%v", conn.Execs, conn.Queries)
	}
	call := conn.Queries[0]
	if call.Query != "INSERT INTO people (name, email) VALUES ($1, $2) RETURNING id" {
		t.Fatalf("query = %q", call.Query)
	}
	if !reflect.DeepEqual(call.Args, []any{"Ada", nil}) {
		t.Fatalf("args = %#v", call.Args)
	}
}

func TestInsertSQLiteUsesLastInsertID(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{LastInsertID: 5, RowsAffected: 1}, nil)

	p := &person{Name: NullText("Ada"), Email: NullText("ada@example.com")}
	if err := gw.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if p.ID.Int64 != 5 {
		t.Fatalf("identity = %+v, want 5", p.ID)
	}
	if len(conn.Queries) != 0 {
		t.Fatalf("unexpected follow-up queries: %v", conn.Queries)
	}
	if !reflect.DeepEqual(conn.Execs[0].Args, []any{"Ada", "ada@example.com"}) {
		t.Fatalf("args = %#v", conn.Execs[0].Args)
	}
}

func TestInsertFallsBackToIdentityQuery(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{NoLastInsertID: true},
		sqlstub.On("SELECT last_insert_rowid()", sqlstub.Result{Columns: []string{"last_insert_rowid()"}, Rows: [][]any{{int64(9)}}}, nil))

	p := &person{Name: NullText("Ada")}
	if err := gw.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if p.ID.Int64 != 9 {
		t.Fatalf("identity = %+v, want 9", p.ID)
	}
}

func TestInsertWithoutIdentitySource(t *testing.T) {
	dialect := SQLite
	dialect.IdentityQuery = ""
	gw, conn := newPersonGateway(t, dialect)
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{NoLastInsertID: true}, nil)

	p := &person{Name: NullText("Ada")}
	if err := gw.Insert(context.Background(), p); err == nil {
		t.Fatalf("expected identity error")
	}
	if p.ID.Valid {
		t.Fatalf("identity must stay unset after a failed insert")
	}
}

func TestInsertRejectsPersistedRecord(t *testing.T) {
	logger := &captureLogger{}
	gw, conn := newPersonGateway(t, SQLite, WithLogger(logger))
	p := &person{ID: sql.NullInt64{Int64: 1, Valid: true}, Name: NullText("Ada")}
	err := gw.Insert(context.Background(), p)
	if !errors.Is(err, ErrAlreadyPersisted) {
		t.Fatalf("expected ErrAlreadyPersisted, got %v", err)
	}
	if len(conn.Statements()) != 0 {
		t.Fatalf("no statement should reach the database: %v", conn.Statements())
	}
	if p.ID.Int64 != 1 {
		t.Fatalf("identity reassigned: %+v", p.ID)
	}
	if !logger.has("warn", "gateway operation failed") {
		t.Fatalf("expected caller errors to log at warn, got %+v", logger.entries)
	}
}

func TestInsertPropagatesDriverError(t *testing.T) {
	boom := errors.New("disk full")
	logger := &captureLogger{}
	tracer := &captureTracer{}
	metrics := &captureMetrics{}
	gw, conn := newPersonGateway(t, SQLite, WithLogger(logger), WithTracer(tracer), WithMetricsRecorder(metrics))
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{Err: boom}, nil)

	p := &person{Name: NullText("Ada")}
	err := gw.Insert(context.Background(), p)
	if !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}
	if p.ID.Valid {
		t.Fatalf("identity must stay unset after a failed insert")
	}
	if len(conn.Execs) != 1 {
		t.Fatalf("insert must not be retried, got %d execs", len(conn.Execs))
	}
	if !logger.has("error", "gateway operation failed") {
		t.Fatalf("expected error log, got %+v", logger.entries)
	}
	if len(tracer.ended) != 1 || tracer.ended[0].op != "people.insert" || !errors.Is(tracer.ended[0].err, boom) {
		t.Fatalf("unexpected spans %+v", tracer.ended)
	}
	if len(metrics.calls) != 1 || metrics.calls[0].success {
		t.Fatalf("unexpected metrics %+v", metrics.calls)
	}
}

func TestUpdateBindsValuesThenIdentity(t *testing.T) {
	logger := &captureLogger{}
	gw, conn := newPersonGateway(t, SQLite, WithLogger(logger))
	conn.Respond = sqlstub.On("UPDATE", sqlstub.Result{RowsAffected: 0}, nil)

	p := &person{ID: sql.NullInt64{Int64: 3, Valid: true}, Name: NullText("Ada"), Email: NullText("a@example.com")}
	if err := gw.Update(context.Background(), p); err != nil {
		t.Fatalf("Update of a vanished row must be a no-op, got %v", err)
	}
	call := conn.Execs[0]
	if call.Query != "UPDATE people SET name = ?, email = ? WHERE id = ?" {
		t.Fatalf("query = %q", call.Query)
	}
	if !reflect.DeepEqual(call.Args, []any{"Ada", "a@example.com", int64(3)}) {
		t.Fatalf("args = %#v", call.Args)
	}
	if !logger.has("debug", "update matched no rows") {
		t.Fatalf("expected no-op update to be logged, got %+v", logger.entries)
	}
}

func TestUpdateRejectsTransientRecord(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	err := gw.Update(context.Background(), &person{Name: NullText("Ada")})
	if !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("expected ErrNotPersisted, got %v", err)
	}
	if len(conn.Statements()) != 0 {
		t.Fatalf("no statement should reach the database: %v", conn.Statements())
	}
}

func TestSaveDispatchesOnIdentity(t *testing.T) {
	metrics := &captureMetrics{}
	gw, conn := newPersonGateway(t, SQLite, WithMetricsRecorder(metrics))
	conn.Respond = sqlstub.On("INSERT", sqlstub.Result{LastInsertID: 1, RowsAffected: 1},
		sqlstub.On("UPDATE", sqlstub.Result{RowsAffected: 1}, nil))

	p := &person{Name: NullText("Ada")}
	if err := gw.Save(context.Background(), p); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if !p.ID.Valid || p.ID.Int64 != 1 {
		t.Fatalf("identity = %+v", p.ID)
	}
	p.Name = NullText("Grace")
	if err := gw.Save(context.Background(), p); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if p.ID.Int64 != 1 {
		t.Fatalf("identity changed on update: %+v", p.ID)
	}
	if got, want := metrics.ops(), []string{"people.insert", "people.update"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("operations = %v, want %v", got, want)
	}
}

func TestSaveRejectsMalformedRecord(t *testing.T) {
	gw := NewGateway[*shortRecord](nil, personSchema, SQLite, func() *shortRecord { return &shortRecord{} })
	if err := gw.Save(context.Background(), &shortRecord{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestFindByHydratesFirstRow(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	conn.Respond = sqlstub.On("SELECT", sqlstub.Result{
		Columns: []string{"id", "name", "email"},
		Rows:    [][]any{{int64(1), "Ada", nil}, {int64(2), "Ada", "second@example.com"}},
	}, nil)

	p, ok, err := gw.FindBy(context.Background(), "name", "Ada")
	if err != nil || !ok {
		t.Fatalf("FindBy: ok=%v err=%v", ok, err)
	}
	if p.ID.Int64 != 1 || p.Name.String != "Ada" || p.Email.Valid {
		t.Fatalf("unexpected record %+v", p)
	}
	call := conn.Queries[0]
	if call.Query != "SELECT * FROM people WHERE name = ?" || !reflect.DeepEqual(call.Args, []any{"Ada"}) {
		t.Fatalf("unexpected query %+v", call)
	}
}

func TestFindByAbsentIsNotAnError(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	conn.Respond = sqlstub.On("SELECT", sqlstub.Result{Columns: []string{"id", "name", "email"}}, nil)

	p, ok, err := gw.FindBy(context.Background(), "name", "NoSuchPerson")
	if err != nil {
		t.Fatalf("FindBy: %v", err)
	}
	if ok || p != nil {
		t.Fatalf("expected absent, got %+v", p)
	}
}

func TestFindByUnknownField(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	_, _, err := gw.FindBy(context.Background(), "age", 3)
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if len(conn.Queries) != 0 {
		t.Fatalf("no query should be sent: %v", conn.Queries)
	}
}

func TestFindBySchemaMismatch(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	conn.Respond = sqlstub.On("SELECT", sqlstub.Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{int64(1), "Ada"}},
	}, nil)
	if _, _, err := gw.FindBy(context.Background(), "id", int64(1)); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestAllOrdersByIdentity(t *testing.T) {
	gw, conn := newPersonGateway(t, Postgres)
	conn.Respond = sqlstub.On("SELECT", sqlstub.Result{
		Columns: []string{"id", "name", "email"},
		Rows:    [][]any{{int64(1), "Ada", nil}, {int64(2), "Grace", nil}},
	}, nil)
	people, err := gw.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(people) != 2 || people[1].Name.String != "Grace" {
		t.Fatalf("unexpected records %+v", people)
	}
	if conn.Queries[0].Query != "SELECT * FROM people ORDER BY id" {
		t.Fatalf("query = %q", conn.Queries[0].Query)
	}
}

func TestDDLStatements(t *testing.T) {
	gw, conn := newPersonGateway(t, SQLite)
	ctx := context.Background()
	for _, fn := range []func(context.Context) error{gw.CreateTable, gw.CreateTable, gw.DropTable, gw.DropTable} {
		if err := fn(ctx); err != nil {
			t.Fatalf("ddl: %v", err)
		}
	}
	want := []string{
		"CREATE TABLE IF NOT EXISTS people (id INTEGER PRIMARY KEY, name TEXT, email TEXT)",
		"CREATE TABLE IF NOT EXISTS people (id INTEGER PRIMARY KEY, name TEXT, email TEXT)",
		"DROP TABLE IF EXISTS people",
		"DROP TABLE IF EXISTS people",
	}
	if got := conn.Statements(); !reflect.DeepEqual(got, want) {
		t.Fatalf("statements = %v", got)
	}
}

func TestOptionsIgnoreNil(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{WithLogger(nil), WithMetricsRecorder(nil), WithTracer(nil), WithClock(nil)} {
		opt(&o)
	}
	if o.logger == nil || o.metrics == nil || o.tracer == nil || o.clock == nil {
		t.Fatalf("nil option replaced a default: %+v", o)
	}
}

func TestClockDrivesDurations(t *testing.T) {
	var calls int
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := ClockFunc(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	})
	rec := &durationRecorder{}
	gw, _ := newPersonGateway(t, SQLite, WithClock(clock), WithMetricsRecorder(rec))
	if err := gw.DropTable(context.Background()); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if rec.last != time.Second {
		t.Fatalf("duration = %v, want 1s", rec.last)
	}
}

type durationRecorder struct {
	last time.Duration
}

func (d *durationRecorder) Observe(_ context.Context, _ string, _ bool, dur time.Duration) {
	d.last = dur
}
