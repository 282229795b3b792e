package sync

import (
	"context"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Push takes changes accumulated in the MODIFIED schema and pushes them to
// the project store, porting dbsync.py's push().
func (e *Engine) Push(ctx context.Context, conn SyncConnection) (PushResult, error) {
	if err := e.WorkDir.EnsureComplete(); err != nil {
		return PushResult{}, err
	}

	comment, err := e.RDB.GetProjectComment(ctx, conn.Base)
	if err != nil {
		return PushResult{}, err
	}
	localVersion, projectID := "", ""
	if comment != nil {
		localVersion = comment.Version
		if comment.ProjectID != nil {
			projectID = comment.ProjectID.String()
		}
	}

	info, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
	if err != nil {
		return PushResult{}, err
	}
	if comment != nil && comment.ProjectID != nil && comment.ProjectID.String() != info.ProjectID {
		return PushResult{}, syncerr.ProjectIDMismatchf(
			"the database project id (%s) does not match the project store's id (%s) for %q; "+
				"did you change configuration to point at a different project? %s",
			comment.ProjectID, info.ProjectID, conn.ProjectRef, forceInitMessage)
	}
	lp, err := e.localProject(conn, localVersion, projectID)
	if err != nil {
		return PushResult{}, err
	}

	pushChanges, err := lp.GetPushChanges()
	if err != nil {
		return PushResult{}, err
	}
	if !pushChanges.Empty() {
		return PushResult{}, syncerr.Statef(
			"there are pending changes in the local directory that should never happen: %+v", pushChanges)
	}

	if info.Version != localVersion {
		return PushResult{}, syncerr.Statef("there are pending changes on the server - need to pull them first")
	}

	baseExists, err := e.RDB.SchemaExists(ctx, conn.Base)
	if err != nil {
		return PushResult{}, err
	}
	if !baseExists {
		return PushResult{}, syncerr.Statef("the base schema does not exist: %s", conn.Base)
	}
	modifiedExists, err := e.RDB.SchemaExists(ctx, conn.Modified)
	if err != nil {
		return PushResult{}, err
	}
	if !modifiedExists {
		return PushResult{}, syncerr.Statef("the modified schema does not exist: %s", conn.Modified)
	}

	changeset := tempChangesetPath(conn.ProjectName(), "push-base2our")
	defer removeIfExists(changeset)
	if err := e.Diff.Diff(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, conn.Modified, changeset, conn.SkipTables); err != nil {
		return PushResult{}, err
	}

	changed, err := e.reportChangesIfAny(ctx, changeset, "")
	if err != nil {
		return PushResult{}, err
	}
	if !changed {
		e.Log.Debug("no changes in the database")
		return PushResult{NoChanges: true}, nil
	}

	e.Log.Debug("writing DB changes to the working directory")
	if err := e.Diff.Apply(ctx, gpkgSQLiteDriver, "", e.WorkDir.GPKGPath(), changeset, conn.SkipTables); err != nil {
		return PushResult{}, err
	}

	if err := e.Store.PushProject(ctx, e.WorkDir.Dir(), lp); err != nil {
		return PushResult{}, err
	}
	pushedInfo, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
	if err != nil {
		return PushResult{}, err
	}
	lp.SetVersion(pushedInfo.Version)
	newVersion := lp.Version()
	e.Log.Debug("pushed new version to the project store", "version", newVersion)

	e.Log.Debug("updating base schema")
	if err := e.Diff.Apply(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, changeset, conn.SkipTables); err != nil {
		return PushResult{}, err
	}

	if err := e.recordSyncPoint(lp); err != nil {
		return PushResult{}, err
	}
	newProjectID, _ := lp.ProjectID()
	if err := e.RDB.SetProjectComment(ctx, conn.Base, newSchemaComment(conn.ProjectRef, newVersion, newProjectID)); err != nil {
		return PushResult{}, err
	}
	return PushResult{NewVersion: newVersion}, nil
}
