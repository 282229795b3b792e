package projectstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestGetPushChangesClassifiesAddedUpdatedRemoved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "survey.gpkg", "v1")
	writeFile(t, dir, "unchanged.txt", "same")

	lp := NewDirLocalProject(dir, "user/proj", "pid", "v1", nil)
	changes, err := lp.GetPushChanges()
	require.NoError(t, err)
	assert.Len(t, changes.Added, 2)
	assert.Empty(t, changes.Updated)
	assert.Empty(t, changes.Removed)

	baseline := map[string]string{}
	for _, f := range changes.Added {
		sum, err := checksumFile(filepath.Join(dir, f.Path))
		require.NoError(t, err)
		baseline[f.Path] = sum
	}

	writeFile(t, dir, "survey.gpkg", "v2")
	require.NoError(t, os.Remove(filepath.Join(dir, "unchanged.txt")))

	lp2 := NewDirLocalProject(dir, "user/proj", "pid", "v1", baseline)
	changes2, err := lp2.GetPushChanges()
	require.NoError(t, err)
	assert.Empty(t, changes2.Added)
	require.Len(t, changes2.Updated, 1)
	assert.Equal(t, "survey.gpkg", changes2.Updated[0].Path)
	require.Len(t, changes2.Removed, 1)
	assert.Equal(t, "unchanged.txt", changes2.Removed[0].Path)
}

func TestGetPullChangesAgainstServerFiles(t *testing.T) {
	dir := t.TempDir()
	lp := NewDirLocalProject(dir, "user/proj", "pid", "v1", map[string]string{
		"a.gpkg": "sumA",
		"b.txt":  "sumB",
	})

	changes, err := lp.GetPullChanges([]FileInfo{
		{Path: "a.gpkg", Checksum: "sumA-changed"},
		{Path: "c.txt", Checksum: "sumC"},
	})
	require.NoError(t, err)
	require.Len(t, changes.Updated, 1)
	assert.Equal(t, "a.gpkg", changes.Updated[0].Path)
	require.Len(t, changes.Added, 1)
	assert.Equal(t, "c.txt", changes.Added[0].Path)
	require.Len(t, changes.Removed, 1)
	assert.Equal(t, "b.txt", changes.Removed[0].Path)
}
