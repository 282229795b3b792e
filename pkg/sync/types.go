// Package sync is the reconciliation core: it owns the three-way diff/merge
// decision trees between the BASE/MODIFIED PostGIS schemas and the GPKG
// mirror of a project-store project.
package sync

import (
	"github.com/google/uuid"

	"github.com/lutraconsulting/gdbsync/pkg/rdb"
)

// Driver names the RDB backend a SyncConnection targets. Only "postgres" is
// currently supported, same as the original implementation.
type Driver string

const (
	DriverPostgres Driver = "postgres"
)

// SyncConnection is the fully-resolved, validated configuration for one
// project <-> schema pairing, the Go equivalent of a single entry in
// config.connections.
type SyncConnection struct {
	Driver     Driver
	ConnInfo   rdb.ConnInfo
	ProjectRef string // "namespace/project"
	SyncFile   string // basename of the GPKG within the project
	Base       string // BASE schema name
	Modified   string // MODIFIED schema name
	SkipTables []string
}

// ProjectName returns the project-store project name, the part of
// ProjectRef after the namespace.
func (c SyncConnection) ProjectName() string {
	for i := len(c.ProjectRef) - 1; i >= 0; i-- {
		if c.ProjectRef[i] == '/' {
			return c.ProjectRef[i+1:]
		}
	}
	return c.ProjectRef
}

// SchemaComment re-exports rdb.SchemaComment under the name the core
// operates on, so callers of pkg/sync don't need to import pkg/rdb directly
// just to read back what Status/Init observed.
type SchemaComment = rdb.SchemaComment

// newSchemaComment builds a SchemaComment for a successful sync point,
// parsing projectID (best-effort: an unparseable or empty id is recorded
// as absent rather than failing the whole operation).
func newSchemaComment(name, version, projectID string) SchemaComment {
	c := SchemaComment{Name: name, Version: version}
	if id, err := uuid.Parse(projectID); err == nil {
		c.ProjectID = &id
	}
	return c
}

// NewProjectID generates a fresh project id for a from-scratch init,
// mirroring uuid.uuid4() use in the original for newly created projects
// (in practice the id always comes from the project store; this exists for
// the rare local-only test/bootstrap path).
func NewProjectID() uuid.UUID {
	return uuid.New()
}

// PullResult reports what Pull actually did.
type PullResult struct {
	NoChanges     bool
	ServerVersion string
	RebaseNeeded  bool
	Conflicts     []byte // raw conflicts file contents, if RebaseNeeded
}

// PushResult reports what Push actually did.
type PushResult struct {
	NoChanges  bool
	NewVersion string
}

// StatusResult is the read-only snapshot Status reports.
type StatusResult struct {
	LocalVersion  string
	ServerVersion string
	PendingPull   bool
	PendingPush   bool
	DBChanged     bool
}
