// Command rollcall manages the students table and its snapshots.
//
//	rollcall [-v] [-trace] [-metrics[=expvar|prom]] <command> [flags]
//
// The database comes from ROLLCALL_STORAGE_DRIVER and friends, the snapshot
// store from ROLLCALL_BLOB_DRIVER (see internal/storage and internal/blob).
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"rollcall/internal/archive"
	"rollcall/internal/blob"
	"rollcall/internal/observability"
	"rollcall/internal/orm"
	"rollcall/internal/storage"
	"rollcall/pkg/student"
)

var (
	exitFunc    = os.Exit
	openStorage = storage.OpenFromEnv
	openBlob    = blob.Open
)

const usage = `usage: rollcall [-v] [-trace] [-metrics[=expvar|prom]] <command> [flags]

commands:
  init      create the students table
  drop      drop the students table
  add       insert a student (-name, -tagline, -github, -twitter, -blog, -image, -bio)
  find      look a student up by -name
  rename    rename the student called -from to -to
  list      print every student
  export    write a snapshot to the blob store
  restore   insert the records of snapshot -key (default: latest)
  latest    print the newest snapshot key
`

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type env struct {
	ctx    context.Context
	repo   *student.Repository
	logger *slog.Logger
	stdout io.Writer
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rollcall", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	verbose := fs.Bool("v", false, "log statements at debug level")
	trace := fs.Bool("trace", false, "write gateway spans to stderr as JSON lines")
	var metrics metricsMode
	fs.Var(&metrics, "metrics", "print operation metrics to stderr on exit: expvar (default) or prom")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	opts := []orm.Option{orm.WithLogger(logger)}
	if *trace {
		opts = append(opts, orm.WithTracer(observability.NewJSONTracer(stderr)))
	}
	report, err := metrics.install(&opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}

	ctx := context.Background()
	h, err := openStorage(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}
	defer func() { _ = h.Close() }()

	e := env{ctx: ctx, repo: student.NewRepository(h.DB, h.Dialect, opts...), logger: logger, stdout: stdout}
	err = dispatch(e, cmd, cmdArgs, stderr)
	if report != nil {
		if rerr := report(stderr); rerr != nil {
			_, _ = fmt.Fprintf(stderr, "metrics: %v\n", rerr)
		}
	}
	var usageErr usageError
	switch {
	case errors.As(err, &usageErr):
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// metricsMode is the -metrics flag. A bare -metrics selects expvar.
type metricsMode string

const (
	metricsExpvar     metricsMode = "expvar"
	metricsPrometheus metricsMode = "prom"
)

func (m *metricsMode) String() string { return string(*m) }

func (m *metricsMode) IsBoolFlag() bool { return true }

func (m *metricsMode) Set(v string) error {
	switch v {
	case "true", string(metricsExpvar):
		*m = metricsExpvar
	case string(metricsPrometheus):
		*m = metricsPrometheus
	case "false":
		*m = ""
	default:
		return fmt.Errorf("unknown metrics format %q", v)
	}
	return nil
}

// install adds the selected recorder to opts and returns the function that
// prints it, or nil when metrics are off.
func (m metricsMode) install(opts *[]orm.Option) (func(io.Writer) error, error) {
	switch m {
	case metricsExpvar:
		rec := observability.NewExpvarMetricsRecorder("")
		*opts = append(*opts, orm.WithMetricsRecorder(rec))
		return func(w io.Writer) error { return json.NewEncoder(w).Encode(rec.Snapshot()) }, nil
	case metricsPrometheus:
		reg := prometheus.NewRegistry()
		rec, err := observability.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, err
		}
		*opts = append(*opts, orm.WithMetricsRecorder(rec))
		return func(w io.Writer) error { return writeExposition(w, reg) }, nil
	}
	return nil, nil
}

// writeExposition prints every gathered family in the Prometheus text format.
func writeExposition(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

type usageError string

func (u usageError) Error() string { return string(u) }

func dispatch(e env, cmd string, args []string, stderr io.Writer) error {
	switch cmd {
	case "init", "drop", "list", "export", "latest":
		if len(args) > 0 {
			return usageError(fmt.Sprintf("%s: unexpected arguments %q", cmd, args))
		}
	}
	switch cmd {
	case "init":
		return e.repo.CreateTable(e.ctx)
	case "drop":
		return e.repo.DropTable(e.ctx)
	case "add":
		return add(e, args, stderr)
	case "find":
		return find(e, args, stderr)
	case "rename":
		return rename(e, args, stderr)
	case "list":
		return list(e)
	case "export", "restore", "latest":
		store, err := openBlob(e.ctx)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		return snapshot(e, archive.New(e.repo.Gateway, store, archive.WithLogger(e.logger)), cmd, args, stderr)
	default:
		return usageError("unknown command " + cmd)
	}
}

func add(e env, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var s student.Student
	fields := map[string]*sql.NullString{
		"name":    &s.Name,
		"tagline": &s.Tagline,
		"github":  &s.GitHub,
		"twitter": &s.Twitter,
		"blog":    &s.BlogURL,
		"image":   &s.ImageURL,
		"bio":     &s.Biography,
	}
	for name, dst := range fields {
		fs.StringVar(&dst.String, name, "", name)
	}
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	// Flags left unset stay NULL.
	fs.Visit(func(f *flag.Flag) { fields[f.Name].Valid = true })
	if !s.Name.Valid || s.Name.String == "" {
		return usageError("add: -name is required")
	}
	created, err := e.repo.Create(e.ctx, s)
	if err != nil {
		return err
	}
	printStudent(e.stdout, created)
	return nil
}

func find(e env, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "student name")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	s, ok, err := e.repo.FindByName(e.ctx, *name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no student named %q", *name)
	}
	printStudent(e.stdout, s)
	return nil
}

func rename(e env, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("rename", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.String("from", "", "current name")
	to := fs.String("to", "", "new name")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *from == "" || *to == "" {
		return usageError("rename: -from and -to are required")
	}
	s, ok, err := e.repo.FindByName(e.ctx, *from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no student named %q", *from)
	}
	s.Name = orm.NullText(*to)
	if err := e.repo.Save(e.ctx, s); err != nil {
		return err
	}
	printStudent(e.stdout, s)
	return nil
}

func list(e env) error {
	all, err := e.repo.All(e.ctx)
	if err != nil {
		return err
	}
	for _, s := range all {
		printStudent(e.stdout, s)
	}
	return nil
}

func snapshot(e env, a *archive.Archiver[*student.Student], cmd string, args []string, stderr io.Writer) error {
	switch cmd {
	case "export":
		m, err := a.Export(e.ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(e.stdout, "%s\t%d records\n", m.Key, m.Records)
		return err
	case "latest":
		key, ok, err := a.Latest(e.ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no snapshots")
		}
		_, err = fmt.Fprintln(e.stdout, key)
		return err
	}
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", "", "snapshot key")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() > 0 {
		return usageError(fmt.Sprintf("restore: unexpected arguments %q", fs.Args()))
	}
	if *key == "" {
		latest, ok, err := a.Latest(e.ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no snapshots")
		}
		*key = latest
	}
	n, err := a.Restore(e.ctx, *key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "%s\t%d records restored\n", *key, n)
	return err
}

func printStudent(w io.Writer, s *student.Student) {
	_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID.Int64, s.Name.String, s.Tagline.String)
}
