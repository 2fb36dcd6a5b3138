// Package blob is the entry point to object storage. Callers depend on Store
// and obtain one through Open or the New* constructors; the backends live
// under internal/infra/blob.
package blob

import (
	"context"

	"rollcall/internal/blob/core"
	"rollcall/internal/infra/blob/fs"
	"rollcall/internal/infra/blob/memory"
	"rollcall/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Driver     = core.Driver
	Info       = core.Info
	PutOptions = core.PutOptions
	S3Config   = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memory.New() }

// NewFilesystem returns a store rooted at root (default ./blobdata).
func NewFilesystem(root string) (Store, error) {
	s, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewS3 returns a store on the configured bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
