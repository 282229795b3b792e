package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbsync-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalValidConfig = `
mergin:
  url: https://app.merginmaps.com
  username: alice
  password: s3cr3t
init_from: gpkg
connections:
  - driver: postgres
    conn_info: "host=localhost dbname=gis"
    modified: survey_modified
    base: survey_base
    mergin_project: alice/survey
    sync_file: survey.gpkg
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.GeodiffExe)
	assert.Contains(t, cfg.WorkingDir, "dbsync")
	assert.Equal(t, 60, cfg.Daemon.SleepTime)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsMissingMerginSettings(t *testing.T) {
	cfg := defaults()
	cfg.InitFrom = "gpkg"
	cfg.Connections = []Connection{{
		Driver: "postgres", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "a/b", SyncFile: "s.gpkg",
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mergin settings")
}

func TestValidateRejectsEmptyConnections(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "gpkg"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connections list")
}

func TestValidateRejectsBadInitFrom(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "something-else"
	cfg.Connections = []Connection{{
		Driver: "postgres", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "a/b", SyncFile: "s.gpkg",
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init_from")
}

func TestValidateRejectsNonPostgresDriver(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "gpkg"
	cfg.Connections = []Connection{{
		Driver: "mysql", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "a/b", SyncFile: "s.gpkg",
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestValidateRejectsMalformedProjectRef(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "gpkg"
	cfg.Connections = []Connection{{
		Driver: "postgres", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "no-slash-here", SyncFile: "s.gpkg",
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace/name")
}

func TestValidateRejectsDuplicateSchemaAcrossConnections(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "gpkg"
	conn := Connection{
		Driver: "postgres", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "a/b", SyncFile: "s.gpkg",
	}
	conn2 := conn
	conn2.MerginProject = "a/c"
	cfg.Connections = []Connection{conn, conn2}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one connection")
}

func TestValidateRejectsNotificationMissingFields(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "p"}
	cfg.InitFrom = "gpkg"
	cfg.Connections = []Connection{{
		Driver: "postgres", ConnInfo: "x", Modified: "m", Base: "b",
		MerginProject: "a/b", SyncFile: "s.gpkg",
	}}
	cfg.Notification = &Notification{SMTPServer: "smtp.example.com"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email_sender")
}

func TestNormalizedSkipTablesVariants(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want []string
	}{
		{"nil", nil, nil},
		{"string", "spatial_ref_sys", []string{"spatial_ref_sys"}},
		{"list", []interface{}{"a", "b"}, []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := Connection{SkipTables: tc.in}
			got, err := conn.NormalizedSkipTables()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRedactedMasksPasswords(t *testing.T) {
	cfg := defaults()
	cfg.Mergin = Mergin{URL: "u", Username: "n", Password: "s3cr3t"}
	cfg.Notification = &Notification{SMTPPassword: "hunter2"}
	red := cfg.Redacted()
	assert.Equal(t, "*****", red.Mergin.Password)
	assert.Equal(t, "*****", red.Notification.SMTPPassword)
	assert.Equal(t, "s3cr3t", cfg.Mergin.Password) // original untouched
}

func TestSyncConnectionResolvesFields(t *testing.T) {
	conn := Connection{
		Driver: "postgres", ConnInfo: "host=localhost", Modified: "m", Base: "b",
		MerginProject: "alice/survey", SyncFile: "survey.gpkg", SkipTables: "audit_log",
	}
	sc, err := conn.SyncConnection()
	require.NoError(t, err)
	assert.Equal(t, "alice/survey", sc.ProjectRef)
	assert.Equal(t, []string{"audit_log"}, sc.SkipTables)
	assert.Equal(t, "survey", sc.ProjectName())
}
