package workdir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lutraconsulting/gdbsync/pkg/projectstore"
	"github.com/lutraconsulting/gdbsync/pkg/projectstore/projectstoretest"
)

func TestEnsureCompleteReportsMissingPieces(t *testing.T) {
	root := t.TempDir()
	m := New(root, "survey", "sync.gpkg")

	err := m.EnsureComplete()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	require.NoError(t, m.Init())
	err = m.EnsureComplete()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output GPKG does not exist")

	require.NoError(t, os.WriteFile(m.GPKGPath(), []byte("gpkg-bytes"), 0o644))
	err = m.EnsureComplete()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "basefile")

	require.NoError(t, m.SaveBasefile())
	assert.NoError(t, m.EnsureComplete())
}

func TestSaveAndRestoreBasefileRoundTrips(t *testing.T) {
	root := t.TempDir()
	m := New(root, "survey", "sync.gpkg")
	require.NoError(t, m.Init())
	require.NoError(t, os.WriteFile(m.GPKGPath(), []byte("version-1"), 0o644))
	require.NoError(t, m.SaveBasefile())

	require.NoError(t, os.WriteFile(m.GPKGPath(), []byte("locally-edited"), 0o644))
	require.NoError(t, m.RestoreFromBasefile())

	got, err := os.ReadFile(m.GPKGPath())
	require.NoError(t, err)
	assert.Equal(t, "version-1", string(got))
}

func TestBasefilePathIsInsideMetaDir(t *testing.T) {
	m := New("/tmp/work", "survey", "sync.gpkg")
	assert.Equal(t, filepath.Join(m.MetaDir(), "sync.gpkg"), m.BasefilePath())
}

func TestRevertPendingChangesNoOpWhenClean(t *testing.T) {
	root := t.TempDir()
	m := New(root, "survey", "sync.gpkg")
	require.NoError(t, m.Init())
	require.NoError(t, os.WriteFile(m.GPKGPath(), []byte("stable"), 0o644))

	sum, err := checksumGPKG(m.GPKGPath())
	require.NoError(t, err)
	lp := projectstore.NewDirLocalProject(m.Dir(), "user/survey", "pid", "v1", map[string]string{
		"sync.gpkg": sum,
	})
	store := projectstoretest.New()
	changes, err := m.RevertPendingChanges(context.Background(), lp, store)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
}

func checksumGPKG(path string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
