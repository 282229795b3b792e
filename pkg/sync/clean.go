package sync

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Clean tears a connection down: it removes the local working directory
// and, when initFromDB is true, also removes the sync file from the
// project-store project, then drops BASE. MODIFIED is only dropped when
// initFromDB is false (it was created from the GPKG, so it belongs to
// db-sync); in db mode MODIFIED is the pre-existing live user schema and
// must survive. This is the --force-init recovery path, porting
// dbsync.py's clean().
func (e *Engine) Clean(ctx context.Context, conn SyncConnection, initFromDB bool) error {
	dir := e.WorkDir.Dir()
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return syncerr.Statef("unable to remove working directory %q: %v", dir, err)
		}
	}

	if initFromDB {
		if err := e.removeSyncFileFromStore(ctx, conn); err != nil {
			return err
		}
	}

	if err := e.RDB.DropSchema(ctx, conn.Base); err != nil {
		return err
	}
	if initFromDB {
		// MODIFIED is the pre-existing live user schema in db mode; it
		// must survive force-init, not just BASE/the working directory.
		return nil
	}
	return e.RDB.DropSchema(ctx, conn.Modified)
}

// removeSyncFileFromStore downloads the project into a scratch directory,
// deletes the sync file there, and pushes that change back, since the
// sync file must be removed from project-store history, not just locally.
func (e *Engine) removeSyncFileFromStore(ctx context.Context, conn SyncConnection) error {
	tempFolder := filepath.Join(filepath.Dir(e.WorkDir.Dir()), "project_to_delete_sync_file")
	defer func() {
		_ = os.RemoveAll(tempFolder)
	}()

	if err := e.Store.DownloadProject(ctx, conn.ProjectRef, tempFolder, ""); err != nil {
		return syncerr.Statef("error removing sync file from the project store project: %v", err)
	}
	file := filepath.Join(tempFolder, conn.SyncFile)
	if _, err := os.Stat(file); err == nil {
		if err := os.Remove(file); err != nil {
			return syncerr.Statef("error removing sync file from the project store project: %v", err)
		}
	}

	lp := projectstore.NewDirLocalProject(tempFolder, conn.ProjectRef, "", "", nil)
	if err := e.Store.PushProject(ctx, tempFolder, lp); err != nil {
		return syncerr.Statef("error removing sync file from the project store project: %v", err)
	}
	return nil
}
