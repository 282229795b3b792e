package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lutraconsulting/gdbsync/pkg/config"
	"github.com/lutraconsulting/gdbsync/pkg/geodiff/geodifftest"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore/projectstoretest"
	"github.com/lutraconsulting/gdbsync/pkg/rdb/rdbtest"
	"github.com/lutraconsulting/gdbsync/pkg/sync"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
	"github.com/lutraconsulting/gdbsync/pkg/workdir"
)

func TestRunRejectsForceInitWithSkipInit(t *testing.T) {
	cfg := &config.Config{}
	log := synclog.New(&bytes.Buffer{}, synclog.LevelDebug)
	err := Run(context.Background(), cfg, Options{ForceInit: true, SkipInit: true}, log)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.Config))
}

// testConnEngine builds a connEngine already past init: schemas exist,
// the working directory has a GPKG/basefile, and the recorded checksum
// baseline matches the working directory exactly, so both Pull (server
// version unchanged) and Push (empty DB diff) take their no-op fast paths.
func testConnEngine(t *testing.T, projectRef string) (connEngine, *rdbtest.Fake, *projectstoretest.Fake, *geodifftest.Fake) {
	t.Helper()
	r := rdbtest.New()
	r.PostGISReady = true
	g := geodifftest.New()
	s := projectstoretest.New()
	s.Projects[projectRef] = projectstore.ProjectInfo{ProjectID: "pid", Version: "v1"}
	r.CreateSchema("base_" + projectRef)
	r.CreateSchema("modified_" + projectRef)
	require.NoError(t, r.SetProjectComment(context.Background(), "base_"+projectRef,
		sync.SchemaComment{Name: projectRef, Version: "v1"}))

	root := t.TempDir()
	wd := workdir.New(root, projectRef, "sync.gpkg")
	require.NoError(t, wd.Init())
	require.NoError(t, os.WriteFile(wd.GPKGPath(), []byte("gpkg-bytes"), 0o644))
	require.NoError(t, wd.SaveBasefile())

	lp := projectstore.NewDirLocalProject(wd.Dir(), projectRef, "pid", "v1", nil)
	checksums, err := lp.Checksums()
	require.NoError(t, err)
	require.NoError(t, wd.SaveChecksums(checksums))

	log := synclog.New(&bytes.Buffer{}, synclog.LevelDebug)
	engine := &sync.Engine{RDB: r, Store: s, Diff: g, WorkDir: wd, Log: log}
	conn := sync.SyncConnection{
		Driver:     sync.DriverPostgres,
		ProjectRef: projectRef,
		SyncFile:   "sync.gpkg",
		Base:       "base_" + projectRef,
		Modified:   "modified_" + projectRef,
	}
	// Mark the push changeset this connection will produce as empty, so
	// Push takes its no-op fast path instead of trying to apply/push a
	// fabricated change; mirrors tempChangesetPath's own naming scheme.
	g.Empty[tempChangesetPath(conn.ProjectName(), "push-base2our")] = true
	return connEngine{conn: conn, engine: engine}, r, s, g
}

func tempChangesetPath(projectName, suffix string) string {
	return filepath.Join(os.TempDir(), projectName+"-dbsync-"+suffix)
}

func TestRunCycleStopsAtFirstFailingConnection(t *testing.T) {
	good, _, _, _ := testConnEngine(t, "alice/good")
	bad, _, _, _ := testConnEngine(t, "alice/bad")
	// Corrupt the "bad" connection's working dir so EnsureComplete fails
	// inside Pull, simulating a mid-run engine error.
	bad.engine.WorkDir = workdir.New(t.TempDir(), "alice/bad", "sync.gpkg")

	log := synclog.New(&bytes.Buffer{}, synclog.LevelDebug)
	err := runCycle(context.Background(), []connEngine{good, bad}, log)
	require.Error(t, err)
}

func TestRunCycleSucceedsForAllConnections(t *testing.T) {
	one, _, _, _ := testConnEngine(t, "alice/one")
	two, _, _, _ := testConnEngine(t, "alice/two")

	log := synclog.New(&bytes.Buffer{}, synclog.LevelDebug)
	err := runCycle(context.Background(), []connEngine{one, two}, log)
	require.NoError(t, err)
}
