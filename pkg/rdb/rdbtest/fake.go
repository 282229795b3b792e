// Package rdbtest provides an in-memory rdb.Store fake for pkg/sync tests.
package rdbtest

import (
	"context"
	"sync"

	"github.com/lutraconsulting/gdbsync/pkg/rdb"
)

// Fake is a scriptable rdb.Store backed by in-memory maps.
type Fake struct {
	mu sync.Mutex

	Schemas      map[string]bool
	Comments     map[string]rdb.SchemaComment
	PostGISReady bool
}

func New() *Fake {
	return &Fake{
		Schemas:  map[string]bool{},
		Comments: map[string]rdb.SchemaComment{},
	}
}

func (f *Fake) SetProjectComment(_ context.Context, schema string, comment rdb.SchemaComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments[schema] = comment
	return nil
}

func (f *Fake) GetProjectComment(_ context.Context, schema string) (*rdb.SchemaComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Comments[schema]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *Fake) SchemaExists(_ context.Context, schema string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Schemas[schema], nil
}

func (f *Fake) DropSchema(_ context.Context, schema string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Schemas, schema)
	delete(f.Comments, schema)
	return nil
}

func (f *Fake) CheckPostGIS(_ context.Context) (bool, error) {
	return f.PostGISReady, nil
}

func (f *Fake) TryInstallPostGIS(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PostGISReady = true
	return nil
}

func (f *Fake) Close() {}

// CreateSchema marks a schema as existing, for test setup.
func (f *Fake) CreateSchema(schema string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Schemas[schema] = true
}

var _ rdb.Store = (*Fake)(nil)
