// Package rdb reads and writes the per-schema sync metadata the engine
// stores inside PostGIS: schema existence, the BASE schema's SchemaComment,
// and the PostGIS extension itself.
package rdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// SchemaComment is the JSON metadata the engine pins to the BASE schema's
// PostgreSQL COMMENT. It is always written and read as a complete record;
// there is no partial-update API, which is what makes P4 (atomicity of
// advancement) hold by construction.
type SchemaComment struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Store is the RDB metadata store contract used by the reconciliation core.
type Store interface {
	SetProjectComment(ctx context.Context, schema string, comment SchemaComment) error
	GetProjectComment(ctx context.Context, schema string) (*SchemaComment, error)
	SchemaExists(ctx context.Context, schema string) (bool, error)
	DropSchema(ctx context.Context, schema string) error
	CheckPostGIS(ctx context.Context) (bool, error)
	TryInstallPostGIS(ctx context.Context) error
	Close()
}

// Pool is a Store backed by a pgxpool.Pool against one PostGIS connection.
type Pool struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection using a ConnInfo. Credentials are never
// included in any error this returns; errors that would otherwise echo the
// raw DSN are built from conn.String() instead.
func Connect(ctx context.Context, conn ConnInfo) (*Pool, error) {
	pool, err := pgxpool.New(ctx, conn.Raw())
	if err != nil {
		return nil, syncerr.WrapRDB(err, "unable to connect to the database %s", conn)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, syncerr.WrapRDB(err, "unable to connect to the database %s", conn)
	}
	return &Pool{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// SchemaExists reports whether a schema with the given name exists.
func (p *Pool) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_namespace WHERE nspname = $1)", schema,
	).Scan(&exists)
	if err != nil {
		return false, syncerr.WrapRDB(err, "checking existence of schema %q", schema)
	}
	return exists, nil
}

// DropSchema drops a schema and everything in it. No-op (but not an error)
// if the schema does not exist.
func (p *Pool) DropSchema(ctx context.Context, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ident))
	if err != nil {
		return syncerr.WrapRDB(err, "dropping schema %q", schema)
	}
	return nil
}

// CheckPostGIS reports whether the postgis extension is installed in the
// connected database.
func (p *Pool) CheckPostGIS(ctx context.Context) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'postgis')",
	).Scan(&exists)
	if err != nil {
		return false, syncerr.WrapRDB(err, "checking for postgis extension")
	}
	return exists, nil
}

// TryInstallPostGIS attempts CREATE EXTENSION postgis. Failure here is
// surfaced to the caller, which decides (per spec.md B3) whether that is
// fatal: it is fatal only if the extension genuinely isn't present after
// the attempt.
func (p *Pool) TryInstallPostGIS(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis")
	if err != nil {
		return syncerr.WrapRDB(err, "installing postgis extension")
	}
	return nil
}

// SetProjectComment writes comment as the PostgreSQL COMMENT ON SCHEMA for
// schema, as a single atomic statement (spec.md 4.B: "Atomic (commits)").
func (p *Pool) SetProjectComment(ctx context.Context, schema string, comment SchemaComment) error {
	body, err := json.Marshal(comment)
	if err != nil {
		return syncerr.WrapRDB(err, "encoding schema comment for %q", schema)
	}
	ident := pgx.Identifier{schema}.Sanitize()
	_, err = p.pool.Exec(ctx, fmt.Sprintf("COMMENT ON SCHEMA %s IS $1", ident), string(body))
	if err != nil {
		return syncerr.WrapRDB(err, "writing schema comment for %q", schema)
	}
	return nil
}

// GetProjectComment reads and parses the SchemaComment. A missing or
// non-JSON comment returns (nil, nil): callers distinguish "no comment yet"
// from a read failure.
func (p *Pool) GetProjectComment(ctx context.Context, schema string) (*SchemaComment, error) {
	var raw *string
	err := p.pool.QueryRow(ctx,
		"SELECT obj_description(to_regnamespace(quote_ident($1)), 'pg_namespace')", schema,
	).Scan(&raw)
	if err != nil {
		return nil, syncerr.WrapRDB(err, "reading schema comment for %q", schema)
	}
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var comment SchemaComment
	if err := json.Unmarshal([]byte(*raw), &comment); err != nil {
		// Non-JSON comment: treated as "absent" per spec.md 4.B.
		return nil, nil
	}
	return &comment, nil
}

var _ Store = (*Pool)(nil)
