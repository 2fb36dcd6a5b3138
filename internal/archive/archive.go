// Package archive snapshots a mapped table into a blob store and restores
// it. A snapshot is newline-delimited JSON, one object per record keyed by
// attribute name, stored at <table>/<UTC timestamp>.jsonl.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"rollcall/internal/blob"
	"rollcall/internal/orm"
)

// ContentType of stored snapshots.
const ContentType = "application/x-ndjson"

const (
	suffix    = ".jsonl"
	keyLayout = "20060102T150405.000000000Z"
)

// Manifest describes a written snapshot.
type Manifest struct {
	Key       string    `json:"key"`
	Table     string    `json:"table"`
	Records   int       `json:"records"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Archiver exports and restores the table behind a gateway.
type Archiver[T orm.Entity] struct {
	gateway *orm.Gateway[T]
	store   blob.Store
	logger  orm.Logger
	clock   orm.Clock
}

// Option configures an Archiver.
type Option func(*settings)

type settings struct {
	logger orm.Logger
	clock  orm.Clock
}

// WithLogger sets the logger.
func WithLogger(logger orm.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used to name snapshots.
func WithClock(clock orm.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New returns an Archiver writing to store.
func New[T orm.Entity](gateway *orm.Gateway[T], store blob.Store, opts ...Option) *Archiver[T] {
	s := settings{logger: discard{}, clock: orm.ClockFunc(time.Now)}
	for _, opt := range opts {
		opt(&s)
	}
	return &Archiver[T]{gateway: gateway, store: store, logger: s.logger, clock: s.clock}
}

// Export writes every record of the table as a new snapshot.
func (a *Archiver[T]) Export(ctx context.Context) (Manifest, error) {
	schema := a.gateway.Schema()
	records, err := a.gateway.All(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("export %s: %w", schema.Table(), err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	names := schema.Names()
	for _, rec := range records {
		row, err := a.gateway.Codec().Row(rec)
		if err != nil {
			return Manifest{}, fmt.Errorf("export %s: %w", schema.Table(), err)
		}
		line := make(map[string]any, len(names))
		for i, name := range names {
			line[name] = row[i]
		}
		if err := enc.Encode(line); err != nil {
			return Manifest{}, fmt.Errorf("encode %s record: %w", schema.Table(), err)
		}
	}
	now := a.clock.Now().UTC()
	key := schema.Table() + "/" + now.Format(keyLayout) + suffix
	info, err := a.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"table": schema.Table(), "records": fmt.Sprint(len(records))},
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("store snapshot: %w", err)
	}
	a.logger.Info("snapshot exported", "table", schema.Table(), "key", key, "records", len(records), "driver", string(a.store.Driver()))
	return Manifest{Key: key, Table: schema.Table(), Records: len(records), Size: info.Size, CreatedAt: now}, nil
}

// Restore inserts every record of the snapshot at key as a new record; the
// database assigns fresh identities. The whole snapshot is decoded before
// anything is written, so a malformed snapshot inserts nothing.
func (a *Archiver[T]) Restore(ctx context.Context, key string) (int, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	defer func() { _ = rc.Close() }()
	records, err := a.decode(rc)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", key, err)
	}
	for i, rec := range records {
		if err := a.gateway.Insert(ctx, rec); err != nil {
			return i, fmt.Errorf("restore %s record %d: %w", key, i+1, err)
		}
	}
	a.logger.Info("snapshot restored", "table", a.gateway.Schema().Table(), "key", key, "records", len(records))
	return len(records), nil
}

// Latest returns the newest snapshot key of the table.
func (a *Archiver[T]) Latest(ctx context.Context) (string, bool, error) {
	infos, err := a.store.List(ctx, a.gateway.Schema().Table()+"/")
	if err != nil {
		return "", false, fmt.Errorf("list snapshots: %w", err)
	}
	latest := ""
	for _, info := range infos {
		if strings.HasSuffix(info.Key, suffix) && info.Key > latest {
			latest = info.Key
		}
	}
	return latest, latest != "", nil
}

func (a *Archiver[T]) decode(r io.Reader) ([]T, error) {
	schema := a.gateway.Schema()
	var records []T
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		row := make(orm.Row, schema.Len())
		for name, v := range line {
			i, ok := schema.Index(name)
			if !ok {
				return nil, fmt.Errorf("line %d: %w", n, &orm.FieldError{Table: schema.Table(), Field: name})
			}
			if i > 0 {
				row[i] = v
			}
		}
		rec := a.gateway.New()
		if err := a.gateway.Codec().Hydrate(row, rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
