package projectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// DirLocalProject is a LocalProject computed by walking a working
// directory and comparing checksums, the Go equivalent of MerginProject's
// file-tracking state (.mergin/mergin.json in the original).
type DirLocalProject struct {
	Dir        string
	ProjectRef string
	ProjectIDv string
	VersionStr string
	baseline   map[string]string // path -> checksum, as of the last sync point
}

// NewDirLocalProject builds a LocalProject rooted at dir, with baseline
// giving the checksums recorded at the last successful sync (nil for a
// freshly initialized project, meaning every local file looks "added").
func NewDirLocalProject(dir, projectRef, projectID, version string, baseline map[string]string) *DirLocalProject {
	if baseline == nil {
		baseline = map[string]string{}
	}
	return &DirLocalProject{Dir: dir, ProjectRef: projectRef, ProjectIDv: projectID, VersionStr: version, baseline: baseline}
}

// Checksums returns the current per-path checksums of the working
// directory, for the caller to persist as the next baseline once a sync
// point has been reached.
func (p *DirLocalProject) Checksums() (map[string]string, error) {
	return p.currentFiles()
}

func (p *DirLocalProject) ProjectFullName() string    { return p.ProjectRef }
func (p *DirLocalProject) ProjectID() (string, error) { return p.ProjectIDv, nil }
func (p *DirLocalProject) Version() string            { return p.VersionStr }
func (p *DirLocalProject) SetVersion(version string)   { p.VersionStr = version }

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *DirLocalProject) currentFiles() (map[string]string, error) {
	files := map[string]string{}
	err := filepath.Walk(p.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// Skip dotdirs (e.g. the engine's basefile bookkeeping
			// directory): they are not project content, the same way
			// MerginProject's own tracking skips its ".mergin" directory.
			if info.Name() != "." && len(info.Name()) > 0 && info.Name()[0] == '.' && path != p.Dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil {
			return err
		}
		sum, err := checksumFile(path)
		if err != nil {
			return err
		}
		files[rel] = sum
		return nil
	})
	return files, err
}

// GetPushChanges classifies local files against the recorded baseline:
// files present now but not in baseline are Added, files whose checksum
// changed are Updated, files in baseline but missing now are Removed.
func (p *DirLocalProject) GetPushChanges() (Changes, error) {
	current, err := p.currentFiles()
	if err != nil {
		return Changes{}, err
	}
	var c Changes
	for path, sum := range current {
		if baseSum, ok := p.baseline[path]; !ok {
			c.Added = append(c.Added, FileInfo{Path: path, Checksum: sum})
		} else if baseSum != sum {
			c.Updated = append(c.Updated, FileInfo{Path: path, Checksum: sum})
		}
	}
	for path := range p.baseline {
		if _, ok := current[path]; !ok {
			c.Removed = append(c.Removed, FileInfo{Path: path})
		}
	}
	return c, nil
}

// GetPullChanges classifies serverFiles against the same baseline, so the
// caller knows which server files to download.
func (p *DirLocalProject) GetPullChanges(serverFiles []FileInfo) (Changes, error) {
	var c Changes
	seen := map[string]bool{}
	for _, f := range serverFiles {
		seen[f.Path] = true
		if baseSum, ok := p.baseline[f.Path]; !ok {
			c.Added = append(c.Added, f)
		} else if baseSum != f.Checksum {
			c.Updated = append(c.Updated, f)
		}
	}
	for path := range p.baseline {
		if !seen[path] {
			c.Removed = append(c.Removed, FileInfo{Path: path})
		}
	}
	return c, nil
}

var _ LocalProject = (*DirLocalProject)(nil)
