package sync

import (
	"context"

	"github.com/lutraconsulting/gdbsync/pkg/geodiff"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Init brings a connection into a synced, usable state: it creates the
// BASE/MODIFIED schemas (from the GPKG, if fromGPKG, or from an existing DB
// schema otherwise) the first time it runs, and on subsequent runs performs
// the checks described on initExisting. In db mode an existing MODIFIED
// schema without a BASE schema is the starting point of initFromDB; in gpkg
// mode either schema existing without the other is an error.
func (e *Engine) Init(ctx context.Context, conn SyncConnection, fromGPKG bool) error {
	if conn.Driver == DriverPostgres {
		postgisOK, err := e.RDB.CheckPostGIS(ctx)
		if err != nil {
			return err
		}
		if !postgisOK {
			if err := e.RDB.TryInstallPostGIS(ctx); err != nil {
				return err
			}
		}
	}

	baseExists, err := e.RDB.SchemaExists(ctx, conn.Base)
	if err != nil {
		return err
	}
	modifiedExists, err := e.RDB.SchemaExists(ctx, conn.Modified)
	if err != nil {
		return err
	}

	if baseExists && modifiedExists {
		return e.initExisting(ctx, conn, fromGPKG)
	}
	if modifiedExists {
		if !fromGPKG {
			return e.initFromDB(ctx, conn)
		}
		return syncerr.Statef("the modified schema %q exists but the base schema %q is missing. %s",
			conn.Modified, conn.Base, forceInitMessage)
	}
	if baseExists {
		return syncerr.Statef("the base schema %q exists but the modified schema %q is missing. %s",
			conn.Base, conn.Modified, forceInitMessage)
	}

	if fromGPKG {
		return e.initFromGPKG(ctx, conn)
	}
	return e.initFromDB(ctx, conn)
}

// initExisting handles the "not a first run" branch: both schemas already
// exist. It requires a schema comment without an error marker; when the
// working directory is missing it checks the project id and downloads the
// recorded version, and in gpkg mode it requires the GPKG to be present.
// It does not diff the GPKG against BASE or MODIFIED, does not check the
// project id or version of an existing working directory, and does not
// report pending pull/push changes.
func (e *Engine) initExisting(ctx context.Context, conn SyncConnection, fromGPKG bool) error {
	comment, err := e.RDB.GetProjectComment(ctx, conn.Base)
	if err != nil {
		return err
	}
	if comment == nil {
		return syncerr.Statef(
			"base schema %q exists but is missing the record of which project it belongs to; "+
				"this may be the result of a previously failed init attempt. %s", conn.Base, forceInitMessage)
	}
	if comment.Error != "" {
		e.logFailedInitDiagnostic(ctx, conn)
		return syncerr.Statef("a previous init attempt for %q failed: %s", conn.Base, comment.Error)
	}

	if !e.WorkDir.HasWorkingDir() {
		e.Log.Debug("downloading project for existing schemas", "project", conn.ProjectRef, "version", comment.Version)
		info, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
		if err != nil {
			return err
		}
		if comment.ProjectID != nil && comment.ProjectID.String() != info.ProjectID {
			return syncerr.ProjectIDMismatchf(
				"the database project id (%s) does not match the project store's id (%s) for %q; "+
					"did you change configuration to point at a different project? %s",
				comment.ProjectID, info.ProjectID, conn.ProjectRef, forceInitMessage)
		}
		if err := e.WorkDir.Init(); err != nil {
			return err
		}
		return e.Store.DownloadProject(ctx, conn.ProjectRef, e.WorkDir.Dir(), comment.Version)
	}

	// Working directory already exists: nothing further to validate here
	// beyond what Pull/Push/Status already check on every call; init is
	// idempotent once both schemas and the working dir are in place.
	if fromGPKG {
		if !e.WorkDir.HasSyncFile() {
			return syncerr.Statef("the input GPKG file does not exist: %s", e.WorkDir.GPKGPath())
		}
	}
	return nil
}

// logFailedInitDiagnostic emits a best-effort, row-level JSON diff of the
// local GPKG against BASE when a previous init attempt left an error marker
// behind, porting the "changes_gpkg_base" debug dump that precedes raising
// the stored error in dbsync.py's init(). Failures computing the diagnostic
// itself are logged and otherwise ignored: this is a debugging aid, not
// part of the error path it decorates.
func (e *Engine) logFailedInitDiagnostic(ctx context.Context, conn SyncConnection) {
	changeset := tempChangesetPath(conn.ProjectName(), "failed-init-diag")
	defer removeIfExists(changeset)

	if err := e.Diff.DiffCrossDriver(ctx, gpkgDataset(e.WorkDir.GPKGPath()), rdbDataset(conn, conn.Base), changeset, conn.SkipTables); err != nil {
		e.Log.Debug("could not compute diagnostic changeset for failed init", "error", err)
		return
	}
	asJSON, err := e.Diff.AsJSON(ctx, changeset)
	if err != nil {
		e.Log.Debug("could not render diagnostic changeset as JSON", "error", err)
		return
	}
	e.Log.Debug("changeset from failed init", "project", conn.ProjectRef, "diff", string(asJSON))
}

// initFromGPKG is the from_gpkg=True branch: an existing GeoPackage in the
// project store becomes the seed for brand-new BASE/MODIFIED schemas.
func (e *Engine) initFromGPKG(ctx context.Context, conn SyncConnection) error {
	if !e.WorkDir.HasWorkingDir() {
		if err := e.WorkDir.Init(); err != nil {
			return err
		}
		if err := e.Store.DownloadProject(ctx, conn.ProjectRef, e.WorkDir.Dir(), ""); err != nil {
			return err
		}
	}
	if !e.WorkDir.HasSyncFile() {
		return syncerr.Statef("the input GPKG file does not exist: %s", e.WorkDir.GPKGPath())
	}

	gpkgPath := e.WorkDir.GPKGPath()

	rollback := func(cause error) error {
		e.Log.Debug("cleaning up after a failed init", "base", conn.Base, "modified", conn.Modified)
		_ = e.RDB.DropSchema(ctx, conn.Base)
		_ = e.RDB.DropSchema(ctx, conn.Modified)
		return cause
	}

	if err := e.Diff.Copy(ctx, gpkgDataset(gpkgPath), rdbDataset(conn, conn.Modified), conn.SkipTables); err != nil {
		return rollback(err)
	}
	if err := e.Diff.Copy(ctx, rdbDataset(conn, conn.Modified), rdbDataset(conn, conn.Base), conn.SkipTables); err != nil {
		return rollback(err)
	}

	if err := e.verifyInitSanity(ctx, gpkgDataset(gpkgPath), rdbDataset(conn, conn.Base), conn.SkipTables); err != nil {
		return rollback(err)
	}

	lp, err := e.localProject(conn, "", "")
	if err != nil {
		return err
	}
	info, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
	if err != nil {
		return rollback(err)
	}
	lp.SetVersion(info.Version)
	projectID := info.ProjectID
	if err := e.recordSyncPoint(lp); err != nil {
		return err
	}
	return e.RDB.SetProjectComment(ctx, conn.Base, newSchemaComment(conn.ProjectRef, lp.Version(), projectID))
}

// initFromDB is the from_gpkg=False branch: an existing MODIFIED schema
// becomes the seed for a brand-new BASE schema and output GPKG.
func (e *Engine) initFromDB(ctx context.Context, conn SyncConnection) error {
	modifiedExists, err := e.RDB.SchemaExists(ctx, conn.Modified)
	if err != nil {
		return err
	}
	if !modifiedExists {
		return syncerr.Statef("the modified schema %q does not exist; it is required to initialize from the database", conn.Modified)
	}
	if !e.WorkDir.HasWorkingDir() {
		if err := e.WorkDir.Init(); err != nil {
			return err
		}
	}

	rollback := func(cause error) error {
		_ = e.RDB.DropSchema(ctx, conn.Base)
		return cause
	}

	gpkgPath := e.WorkDir.GPKGPath()
	if err := e.Diff.Copy(ctx, rdbDataset(conn, conn.Modified), rdbDataset(conn, conn.Base), conn.SkipTables); err != nil {
		return rollback(err)
	}
	if err := e.Diff.Copy(ctx, rdbDataset(conn, conn.Modified), gpkgDataset(gpkgPath), conn.SkipTables); err != nil {
		return rollback(err)
	}
	if err := e.verifyInitSanity(ctx, gpkgDataset(gpkgPath), rdbDataset(conn, conn.Base), conn.SkipTables); err != nil {
		return rollback(err)
	}

	lp, err := e.localProject(conn, "", "")
	if err != nil {
		return err
	}
	if err := e.Store.PushProject(ctx, e.WorkDir.Dir(), lp); err != nil {
		return rollback(err)
	}
	info, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
	if err != nil {
		return rollback(err)
	}
	lp.SetVersion(info.Version)

	projectID := info.ProjectID
	if err := e.recordSyncPoint(lp); err != nil {
		return err
	}
	return e.RDB.SetProjectComment(ctx, conn.Base, newSchemaComment(conn.ProjectRef, lp.Version(), projectID))
}

// verifyInitSanity re-diffs gpkg against base right after the initial copy
// and fails loudly if anything differs, porting the "Changeset after
// internal copy (should be empty)" bug check.
func (e *Engine) verifyInitSanity(ctx context.Context, gpkg geodiff.Dataset, base geodiff.Dataset, skip []string) error {
	changeset := tempChangesetPath("init-sanity", "check")
	defer removeIfExists(changeset)

	if err := e.Diff.DiffCrossDriver(ctx, gpkg, base, changeset, skip); err != nil {
		return err
	}
	empty, err := e.isEmptyChangeset(changeset)
	if err != nil {
		return err
	}
	if !empty {
		return syncerr.Statef(
			"initialization produced a non-empty changeset between the GPKG and the base schema; " +
				"this points at a geodiff bug and should be reported")
	}
	return nil
}
