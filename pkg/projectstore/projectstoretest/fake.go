// Package projectstoretest provides an in-memory projectstore.Client fake.
package projectstoretest

import (
	"context"
	"sync"

	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// Fake is a scriptable projectstore.Client. Tests preload Projects (keyed by
// project ref) and can set LoginErr to force a login failure.
type Fake struct {
	mu sync.Mutex

	Projects map[string]projectstore.ProjectInfo
	Files    map[string][]byte // "projectRef/path" -> contents

	LoggedIn    bool
	LoginErr    error
	ExpiresSoon bool

	Downloaded []string
	Uploaded   []string
	Deleted    []string
}

func New() *Fake {
	return &Fake{
		Projects: map[string]projectstore.ProjectInfo{},
		Files:    map[string][]byte{},
	}
}

func (f *Fake) Login(_ context.Context, _, _ string) error {
	if f.LoginErr != nil {
		return f.LoginErr
	}
	f.LoggedIn = true
	return nil
}

func (f *Fake) TokenExpiresWithin(_ context.Context) (bool, error) {
	return f.ExpiresSoon, nil
}

func (f *Fake) ProjectInfo(_ context.Context, projectRef string) (projectstore.ProjectInfo, error) {
	info, ok := f.Projects[projectRef]
	if !ok {
		return projectstore.ProjectInfo{}, syncerr.Remotef("project %q not found", projectRef)
	}
	return info, nil
}

func (f *Fake) DownloadProject(_ context.Context, projectRef, localDir, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Downloaded = append(f.Downloaded, projectRef)
	return nil
}

func (f *Fake) PullProject(_ context.Context, localDir string, lp projectstore.LocalProject) error {
	return nil
}

func (f *Fake) PushProject(_ context.Context, localDir string, lp projectstore.LocalProject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploaded = append(f.Uploaded, localDir)
	return nil
}

func (f *Fake) DownloadFile(_ context.Context, projectRef, path, version, destPath string) error {
	return nil
}

func (f *Fake) DeleteProjectNow(_ context.Context, projectRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, projectRef)
	return nil
}

var _ projectstore.Client = (*Fake)(nil)
