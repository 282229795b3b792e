package sync

import (
	"context"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Status reports pending changes in both directions without mutating
// anything, porting dbsync.py's status().
func (e *Engine) Status(ctx context.Context, conn SyncConnection) (StatusResult, error) {
	if err := e.WorkDir.EnsureComplete(); err != nil {
		return StatusResult{}, err
	}

	comment, err := e.RDB.GetProjectComment(ctx, conn.Base)
	if err != nil {
		return StatusResult{}, err
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
		return StatusResult{}, err
	}
	if comment != nil && comment.ProjectID != nil && comment.ProjectID.String() != info.ProjectID {
		return StatusResult{}, syncerr.ProjectIDMismatchf(
			"the database project id (%s) does not match the project store's id (%s) for %q; "+
				"did you change configuration to point at a different project? %s",
			comment.ProjectID, info.ProjectID, conn.ProjectRef, forceInitMessage)
	}
	lp, err := e.localProject(conn, localVersion, projectID)
	if err != nil {
		return StatusResult{}, err
	}

	pushChanges, err := lp.GetPushChanges()
	if err != nil {
		return StatusResult{}, err
	}
	if !pushChanges.Empty() {
		return StatusResult{}, syncerr.Statef(
			"there are pending changes in the local directory that should never happen: %+v", pushChanges)
	}

	pullChanges, err := lp.GetPullChanges(info.Files)
	if err != nil {
		return StatusResult{}, err
	}
	if !pullChanges.Empty() {
		e.Log.Debug("there are pending changes on the server", "added", len(pullChanges.Added),
			"updated", len(pullChanges.Updated), "removed", len(pullChanges.Removed))
	} else {
		e.Log.Debug("no pending changes on the server")
	}

	baseExists, err := e.RDB.SchemaExists(ctx, conn.Base)
	if err != nil {
		return StatusResult{}, err
	}
	if !baseExists {
		return StatusResult{}, syncerr.Statef("the base schema does not exist: %s", conn.Base)
	}
	modifiedExists, err := e.RDB.SchemaExists(ctx, conn.Modified)
	if err != nil {
		return StatusResult{}, err
	}
	if !modifiedExists {
		return StatusResult{}, syncerr.Statef("the modified schema does not exist: %s", conn.Modified)
	}

	changeset := tempChangesetPath(conn.ProjectName(), "status-base2our")
	defer removeIfExists(changeset)
	if err := e.Diff.Diff(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, conn.Modified, changeset, conn.SkipTables); err != nil {
		return StatusResult{}, err
	}
	dbChanged, err := e.reportChangesIfAny(ctx, changeset, "")
	if err != nil {
		return StatusResult{}, err
	}

	return StatusResult{
		LocalVersion:  localVersion,
		ServerVersion: info.Version,
		PendingPull:   !pullChanges.Empty(),
		PendingPush:   dbChanged,
		DBChanged:     dbChanged,
	}, nil
}
