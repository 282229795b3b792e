package sync

import (
	"context"

	"github.com/lutraconsulting/gdbsync/pkg/geodiff"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Pull downloads any changes from the project store and applies them to
// the database, rebasing local DB changes (base2our) against the new
// server version if needed. Ports dbsync.py's pull().
func (e *Engine) Pull(ctx context.Context, conn SyncConnection) (PullResult, error) {
	if err := e.WorkDir.EnsureComplete(); err != nil {
		return PullResult{}, err
	}

	comment, err := e.RDB.GetProjectComment(ctx, conn.Base)
	if err != nil {
		return PullResult{}, err
	}
	localVersion := ""
	projectID := ""
	if comment != nil {
		localVersion = comment.Version
		if comment.ProjectID != nil {
			projectID = comment.ProjectID.String()
		}
	}

	info, err := e.Store.ProjectInfo(ctx, conn.ProjectRef)
	if err != nil {
		return PullResult{}, err
	}
	if comment != nil && comment.ProjectID != nil && comment.ProjectID.String() != info.ProjectID {
		return PullResult{}, syncerr.ProjectIDMismatchf(
			"the database project id (%s) does not match the project store's id (%s) for %q; "+
				"did you change configuration to point at a different project? %s",
			comment.ProjectID, info.ProjectID, conn.ProjectRef, forceInitMessage)
	}

	lp, err := e.localProject(conn, localVersion, projectID)
	if err != nil {
		return PullResult{}, err
	}
	if err := e.ensurePendingLocalChangesReverted(ctx, lp); err != nil {
		return PullResult{}, err
	}

	if info.Version == localVersion {
		e.Log.Debug("no changes on the project store")
		return PullResult{NoChanges: true, ServerVersion: info.Version}, nil
	}

	basefileOld := e.WorkDir.BasefilePath() + "-old"
	if err := copyFileForPull(e.WorkDir.BasefilePath(), basefileOld); err != nil {
		return PullResult{}, err
	}
	defer removeIfExists(basefileOld)

	base2our := tempChangesetPath(conn.ProjectName(), "pull-base2our")
	defer removeIfExists(base2our)
	if err := e.Diff.Diff(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, conn.Modified, base2our, conn.SkipTables); err != nil {
		return PullResult{}, err
	}

	needsRebase, err := e.reportChangesIfAny(ctx, base2our, "DB Changes:")
	if err != nil {
		return PullResult{}, err
	}

	if err := e.Store.PullProject(ctx, e.WorkDir.Dir(), lp); err != nil {
		return PullResult{}, err
	}
	lp.SetVersion(info.Version)
	newVersion := lp.Version()
	e.Log.Debug("pulled new version from the project store", "version", newVersion)

	base2their := tempChangesetPath(conn.ProjectName(), "pull-base2their")
	defer removeIfExists(base2their)
	if err := e.Diff.Diff(ctx, gpkgSQLiteDriver, "", basefileOld, e.WorkDir.BasefilePath(), base2their, conn.SkipTables); err != nil {
		return PullResult{}, err
	}
	if _, err := e.reportChangesIfAny(ctx, base2their, "Project store changes:"); err != nil {
		return PullResult{}, err
	}

	result := PullResult{ServerVersion: info.Version, RebaseNeeded: needsRebase}

	if !needsRebase {
		e.Log.Debug("applying new version", "rebase", false)
		if err := e.Diff.Apply(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, base2their, conn.SkipTables); err != nil {
			return PullResult{}, err
		}
		if err := e.Diff.Apply(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Modified, base2their, conn.SkipTables); err != nil {
			return PullResult{}, err
		}
	} else {
		e.Log.Debug("applying new version", "rebase", true)
		conflicts := tempChangesetPath(conn.ProjectName(), "pull-conflicts")
		defer removeIfExists(conflicts)
		if err := e.Diff.Rebase(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, conn.Modified, base2their, conflicts, conn.SkipTables); err != nil {
			return PullResult{}, err
		}
		if err := e.Diff.Apply(ctx, string(conn.Driver), conn.ConnInfo.Raw(), conn.Base, base2their, conn.SkipTables); err != nil {
			return PullResult{}, err
		}
		result.Conflicts = readConflictsBestEffort(conflicts)
	}

	if err := e.recordSyncPoint(lp); err != nil {
		return PullResult{}, err
	}
	newProjectID, _ := lp.ProjectID()
	if err := e.RDB.SetProjectComment(ctx, conn.Base, newSchemaComment(conn.ProjectRef, newVersion, newProjectID)); err != nil {
		return PullResult{}, err
	}
	return result, nil
}

// reportChangesIfAny summarizes and logs a changeset's contents if it is
// non-empty, returning whether it was non-empty.
func (e *Engine) reportChangesIfAny(ctx context.Context, changesetPath, title string) (bool, error) {
	empty, err := e.isEmptyChangeset(changesetPath)
	if err != nil {
		return false, err
	}
	if empty {
		return false, nil
	}
	rows, err := e.Diff.Summary(ctx, changesetPath)
	if err != nil {
		return true, err
	}
	e.Log.ChangeSummary(title, toChangeRows(rows))
	return true, nil
}

func toChangeRows(summary []geodiff.TableSummary) []synclog.ChangeRow {
	rows := make([]synclog.ChangeRow, 0, len(summary))
	for _, s := range summary {
		rows = append(rows, synclog.ChangeRow{Table: s.Table, Insert: s.Insert, Update: s.Update, Delete: s.Delete})
	}
	return rows
}
