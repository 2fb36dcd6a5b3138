// Package student maps student profiles onto the students table.
package student

import (
	"context"
	"database/sql"

	"rollcall/internal/orm"
)

// Schema declares the students table. Its order is the column order of the
// table and the order of Student.Bindings.
var Schema = orm.MustSchema(orm.TableName("Student"), "id",
	"name", "tagline", "github", "twitter", "blog_url", "image_url", "biography")

// Student is a student profile. A zero Student is Transient; ID becomes
// valid once it has been inserted.
type Student struct {
	ID        sql.NullInt64
	Name      sql.NullString
	Tagline   sql.NullString
	GitHub    sql.NullString
	Twitter   sql.NullString
	BlogURL   sql.NullString
	ImageURL  sql.NullString
	Biography sql.NullString
}

// New returns an empty Transient student.
func New() *Student { return &Student{} }

// Bindings implements orm.Entity.
func (s *Student) Bindings() []orm.Binding {
	return []orm.Binding{
		&s.ID, &s.Name, &s.Tagline, &s.GitHub, &s.Twitter, &s.BlogURL, &s.ImageURL, &s.Biography,
	}
}

// Persisted reports whether the student has been assigned an identity.
func (s *Student) Persisted() bool { return s.ID.Valid }

// Repository reads and writes students through an orm.Gateway.
type Repository struct {
	*orm.Gateway[*Student]
}

// NewRepository binds the students table to exec. The caller owns exec.
func NewRepository(exec orm.Executor, dialect orm.Dialect, opts ...orm.Option) *Repository {
	return &Repository{Gateway: orm.NewGateway(exec, Schema, dialect, New, opts...)}
}

// FindByName returns the first student with the given name.
func (r *Repository) FindByName(ctx context.Context, name string) (*Student, bool, error) {
	return r.FindBy(ctx, "name", name)
}

// Create inserts a copy of s and returns it with its identity assigned.
func (r *Repository) Create(ctx context.Context, s Student) (*Student, error) {
	created := s
	if err := r.Insert(ctx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateTable creates the students table unless it exists.
func CreateTable(ctx context.Context, exec orm.Executor, dialect orm.Dialect) error {
	return NewRepository(exec, dialect).CreateTable(ctx)
}

// DropTable drops the students table if it exists.
func DropTable(ctx context.Context, exec orm.Executor, dialect orm.Dialect) error {
	return NewRepository(exec, dialect).DropTable(ctx)
}
