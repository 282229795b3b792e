// Package projectstore talks to the versioned project store (a Mergin
// Maps-compatible server) that owns the authoritative GPKG file history.
// Every method maps to one REST call the Python mergin-client library makes;
// the wrapper exists so pkg/sync depends on an interface it can fake.
package projectstore

import (
	"context"

	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// ProjectInfo is the subset of the server's project metadata the engine
// consults: current version and the file list used to compute pull changes.
type ProjectInfo struct {
	ProjectID string
	Version   string
	Files     []FileInfo
}

// FileInfo describes one file tracked by the project store.
type FileInfo struct {
	Path     string
	Checksum string
	Size     int64
}

// Changes is the three-way classification of local/server file diffs the
// project-store client computes, mirroring MerginProject.get_push_changes
// and get_pull_changes.
type Changes struct {
	Added   []FileInfo
	Updated []FileInfo
	Removed []FileInfo
}

// Empty reports whether a Changes set carries no pending changes.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Client is the project-store surface the reconciliation core needs.
// Implementations must classify auth/network/4xx/5xx failures as
// syncerr.Remote errors (never bare errors), so the core's retry policy can
// rely on syncerr.Is.
type Client interface {
	// Login authenticates and stores a session token; it is safe to call
	// again to refresh an expiring token.
	Login(ctx context.Context, username, password string) error
	// TokenExpiresWithin reports whether the current session token expires
	// within one hour (the orchestrator relogs in proactively).
	TokenExpiresWithin(ctx context.Context) (bool, error)
	// ProjectInfo fetches the server's current metadata for a project.
	ProjectInfo(ctx context.Context, projectRef string) (ProjectInfo, error)
	// DownloadProject downloads a project into localDir. If version is
	// non-empty, that specific version is fetched instead of latest.
	DownloadProject(ctx context.Context, projectRef, localDir, version string) error
	// PullProject fetches and merges server-side changes into localDir,
	// rebasing local pending changes as needed. lp supplies the local
	// change classification (get_push_changes/get_pull_changes in spirit).
	PullProject(ctx context.Context, localDir string, lp LocalProject) error
	// PushProject uploads the local pending changes in localDir.
	PushProject(ctx context.Context, localDir string, lp LocalProject) error
	// DownloadFile fetches a single file at a given project version.
	DownloadFile(ctx context.Context, projectRef, path, version, destPath string) error
	// DeleteProjectNow permanently removes the server-side project. Used
	// only by the clean operation's --force-init recovery path.
	DeleteProjectNow(ctx context.Context, projectRef string) error
}

// LocalProject is the local counterpart of MerginProject: it knows how to
// compute pending local changes against a working directory without talking
// to the server.
type LocalProject interface {
	GetPushChanges() (Changes, error)
	GetPullChanges(serverFiles []FileInfo) (Changes, error)
	ProjectFullName() string
	ProjectID() (string, error)
	Version() string
	// SetVersion updates the version Version() reports, once the caller
	// has learned what the project-store project's version became after a
	// pull or push (PullProject/PushProject do not update it themselves).
	SetVersion(version string)
}

// wrapLogin / wrapClient classify project-store errors as syncerr.Remote,
// matching dbsync.py's treatment of LoginError/ClientError as the single
// "remote is unreachable or rejected us" failure mode.
func wrapLogin(err error, format string, a ...any) error {
	return syncerr.WrapRemote(err, format, a...)
}

func wrapClient(err error, format string, a ...any) error {
	return syncerr.WrapRemote(err, format, a...)
}
