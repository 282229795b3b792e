package sync

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lutraconsulting/gdbsync/pkg/geodiff/geodifftest"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore/projectstoretest"
	"github.com/lutraconsulting/gdbsync/pkg/rdb/rdbtest"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
	"github.com/lutraconsulting/gdbsync/pkg/workdir"
)

func newTestEngine(t *testing.T, dir string) (*Engine, *rdbtest.Fake, *geodifftest.Fake, *projectstoretest.Fake) {
	t.Helper()
	r := rdbtest.New()
	g := geodifftest.New()
	s := projectstoretest.New()
	wd := workdir.New(dir, "survey", "sync.gpkg")
	log := synclog.New(&bytes.Buffer{}, synclog.LevelDebug)
	return &Engine{RDB: r, Store: s, Diff: g, WorkDir: wd, Log: log}, r, g, s
}

func baseConn() SyncConnection {
	return SyncConnection{
		Driver:     DriverPostgres,
		ProjectRef: "alice/survey",
		SyncFile:   "sync.gpkg",
		Base:       "survey_base",
		Modified:   "survey_modified",
	}
}

func TestInitFromGPKGFreshSchemas(t *testing.T) {
	root := t.TempDir()
	e, r, g, s := newTestEngine(t, root)
	r.PostGISReady = true
	conn := baseConn()
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "pid", Version: "v1"}

	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("gpkg-bytes"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	sanityPath := tempChangesetPath("init-sanity", "check")
	g.Empty[sanityPath] = true

	err := e.Init(context.Background(), conn, true)
	require.NoError(t, err)

	assert.False(t, r.Schemas["survey_modified"]) // Copy() doesn't create schemas in the fake
	comment, err := r.GetProjectComment(context.Background(), "survey_base")
	require.NoError(t, err)
	require.NotNil(t, comment)
	assert.Equal(t, "alice/survey", comment.Name)
	assert.Equal(t, "v1", comment.Version)
	assert.Len(t, g.Calls, 3) // copy gpkg->modified, copy modified->base, diff-cross sanity check
	assert.Empty(t, s.Downloaded)
}

func TestInitRejectsMismatchedSchemaPair(t *testing.T) {
	root := t.TempDir()
	e, r, _, _ := newTestEngine(t, root)
	r.CreateSchema("survey_modified")

	err := e.Init(context.Background(), baseConn(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base schema")
}

func TestPushNoChangesWhenDiffEmpty(t *testing.T) {
	root := t.TempDir()
	e, r, g, s := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	require.NoError(t, r.SetProjectComment(context.Background(), conn.Base, SchemaComment{Name: conn.ProjectRef, Version: "v1"}))
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "pid", Version: "v1"}

	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("data"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	lp, err := e.localProject(conn, "v1", "pid")
	require.NoError(t, err)
	checksums, err := lp.(*projectstore.DirLocalProject).Checksums()
	require.NoError(t, err)
	require.NoError(t, e.WorkDir.SaveChecksums(checksums))

	changesetPath := tempChangesetPath(conn.ProjectName(), "push-base2our")
	g.Empty[changesetPath] = true

	result, err := e.Push(context.Background(), conn)
	require.NoError(t, err)
	assert.True(t, result.NoChanges)
	assert.Empty(t, s.Uploaded)
}

func TestStatusRejectsSchemaMismatch(t *testing.T) {
	root := t.TempDir()
	e, _, _, s := newTestEngine(t, root)
	conn := baseConn()
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "pid", Version: "v1"}

	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("data"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	lp, err := e.localProject(conn, "v1", "pid")
	require.NoError(t, err)
	checksums, err := lp.(*projectstore.DirLocalProject).Checksums()
	require.NoError(t, err)
	require.NoError(t, e.WorkDir.SaveChecksums(checksums))

	_, err = e.Status(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base schema does not exist")
}

func TestPullRejectsProjectIDMismatch(t *testing.T) {
	root := t.TempDir()
	e, r, _, s := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	require.NoError(t, r.SetProjectComment(context.Background(), conn.Base,
		newSchemaComment(conn.ProjectRef, "v1", "11111111-1111-1111-1111-111111111111")))
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "22222222-2222-2222-2222-222222222222", Version: "v2"}
	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("data"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	_, err := e.Pull(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.ProjectIDMismatch))
	assert.Contains(t, err.Error(), "11111111-1111-1111-1111-111111111111")
	assert.Contains(t, err.Error(), "22222222-2222-2222-2222-222222222222")
}

func TestPushRejectsProjectIDMismatch(t *testing.T) {
	root := t.TempDir()
	e, r, _, s := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	require.NoError(t, r.SetProjectComment(context.Background(), conn.Base,
		newSchemaComment(conn.ProjectRef, "v1", "11111111-1111-1111-1111-111111111111")))
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "22222222-2222-2222-2222-222222222222", Version: "v1"}
	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("data"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	_, err := e.Push(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.ProjectIDMismatch))
}

func TestStatusRejectsProjectIDMismatch(t *testing.T) {
	root := t.TempDir()
	e, r, _, s := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	require.NoError(t, r.SetProjectComment(context.Background(), conn.Base,
		newSchemaComment(conn.ProjectRef, "v1", "11111111-1111-1111-1111-111111111111")))
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "22222222-2222-2222-2222-222222222222", Version: "v1"}
	require.NoError(t, e.WorkDir.Init())
	require.NoError(t, os.WriteFile(e.WorkDir.GPKGPath(), []byte("data"), 0o644))
	require.NoError(t, e.WorkDir.SaveBasefile())

	_, err := e.Status(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.ProjectIDMismatch))
}

func TestCleanRemovesWorkingDirectoryAndSchemas(t *testing.T) {
	root := t.TempDir()
	e, r, _, _ := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	require.NoError(t, e.WorkDir.Init())

	require.NoError(t, e.Clean(context.Background(), conn, false))

	_, err := os.Stat(e.WorkDir.Dir())
	assert.True(t, os.IsNotExist(err))
	baseExists, _ := r.SchemaExists(context.Background(), conn.Base)
	assert.False(t, baseExists)
	modifiedExists, _ := r.SchemaExists(context.Background(), conn.Modified)
	assert.False(t, modifiedExists)
}

func TestCleanInDBModeLeavesModifiedSchemaIntact(t *testing.T) {
	root := t.TempDir()
	e, r, _, s := newTestEngine(t, root)
	conn := baseConn()
	r.CreateSchema(conn.Base)
	r.CreateSchema(conn.Modified)
	s.Projects[conn.ProjectRef] = projectstore.ProjectInfo{ProjectID: "pid", Version: "v1"}
	require.NoError(t, e.WorkDir.Init())

	require.NoError(t, e.Clean(context.Background(), conn, true))

	_, err := os.Stat(e.WorkDir.Dir())
	assert.True(t, os.IsNotExist(err))
	baseExists, _ := r.SchemaExists(context.Background(), conn.Base)
	assert.False(t, baseExists, "base schema should be dropped even in db mode")
	modifiedExists, _ := r.SchemaExists(context.Background(), conn.Modified)
	assert.True(t, modifiedExists, "modified schema is the live user schema in db mode and must survive --force-init")
}
