package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/lutraconsulting/gdbsync/pkg/geodiff"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/rdb"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
	"github.com/lutraconsulting/gdbsync/pkg/workdir"
)

// gpkgSQLiteDriver is geodiff's driver name for plain SQLite/GPKG files.
const gpkgSQLiteDriver = geodiff.DriverSQLite

// forceInitMessage is appended to errors whose documented recovery is
// re-running with --force-init, mirroring the original's FORCE_INIT_MESSAGE
// constant appended to the equivalent DbSyncError messages.
const forceInitMessage = "You can also use the --force-init flag to drop the schemas and reinitialize everything, " +
	"or remove the working directory to download the Mergin Maps project again."

// Engine is the reconciliation core for a single sync connection. One
// Engine is built per connection by the orchestrator; it holds no
// connection-spanning state itself.
type Engine struct {
	RDB     rdb.Store
	Store   projectstore.Client
	Diff    geodiff.Tool
	WorkDir *workdir.Manager
	Log     synclog.Logger
}

// localProject builds the LocalProject view of the working directory,
// reading the checksum baseline recorded at the last successful sync point
// (not the server's current file list, which would make every run look
// like a fresh checkout). A from-scratch working directory (no prior
// baseline) gets an empty map, so every file looks "added" until the first
// sync point is saved.
func (e *Engine) localProject(conn SyncConnection, version, projectID string) (projectstore.LocalProject, error) {
	baseline, err := e.WorkDir.LoadChecksums()
	if err != nil {
		return nil, err
	}
	return projectstore.NewDirLocalProject(e.WorkDir.Dir(), conn.ProjectRef, projectID, version, baseline), nil
}

// recordSyncPoint persists lp's current checksums as the new baseline,
// marking that version as the last point local and server state agreed.
func (e *Engine) recordSyncPoint(lp projectstore.LocalProject) error {
	dlp, ok := lp.(*projectstore.DirLocalProject)
	if !ok {
		return nil
	}
	checksums, err := dlp.Checksums()
	if err != nil {
		return syncerr.Statef("recording local sync state: %v", err)
	}
	return e.WorkDir.SaveChecksums(checksums)
}

func tempChangesetPath(projectName, suffix string) string {
	return filepath.Join(os.TempDir(), projectName+"-dbsync-"+suffix)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return syncerr.Statef("removing temporary file %q: %v", path, err)
	}
	return nil
}

func gpkgDataset(path string) geodiff.Dataset {
	return geodiff.Dataset{Driver: geodiff.DriverSQLite, Path: path}
}

func rdbDataset(conn SyncConnection, schema string) geodiff.Dataset {
	return geodiff.Dataset{Driver: string(conn.Driver), ConnInfo: conn.ConnInfo.Raw(), Path: schema}
}

// isEmptyChangeset reports whether a changeset file represents no changes,
// tolerating a file that was never created (meaning geodiff found nothing
// to write, which some callers treat identically to an empty file).
func (e *Engine) isEmptyChangeset(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	}
	return e.Diff.IsEmpty(path)
}

// ensurePendingLocalChangesReverted reverts any local edits found in the
// working directory and fails loudly if any remain afterward, porting the
// "There are pending changes in the local directory - that should never
// happen!" guard repeated in pull/push/init.
func (e *Engine) ensurePendingLocalChangesReverted(ctx context.Context, lp projectstore.LocalProject) error {
	changes, err := lp.GetPushChanges()
	if err != nil {
		return syncerr.Statef("computing local changes: %v", err)
	}
	if changes.Empty() {
		return nil
	}
	e.Log.Warn("reverting unexpected local changes", "added", len(changes.Added), "updated", len(changes.Updated), "removed", len(changes.Removed))
	leftover, err := e.WorkDir.RevertPendingChanges(ctx, lp, e.Store)
	if err != nil {
		return err
	}
	if !leftover.Empty() {
		return syncerr.Statef("there are pending changes in the local directory that should never happen: %+v", leftover)
	}
	return nil
}

// copyFileForPull copies the current basefile aside before a pull begins,
// porting "make a copy of the basefile in the current version (base)".
func copyFileForPull(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return syncerr.Statef("reading basefile %q: %v", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return syncerr.Statef("writing basefile copy %q: %v", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return syncerr.Statef("copying basefile %q to %q: %v", src, dst, err)
	}
	return nil
}

// readConflictsBestEffort reads a geodiff conflicts file for reporting,
// swallowing the read error since a missing conflicts file (no conflicts
// were recorded) is not itself a failure.
func readConflictsBestEffort(path string) []byte {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return body
}
