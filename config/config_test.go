package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	run := Default()

	assert.Equal(t, 4, run.NumThreads)
	assert.Equal(t, DefaultHost, run.Database.Host)
	assert.Equal(t, DefaultPort, run.Database.Port)
	assert.Equal(t, DefaultUser, run.Database.User)
	assert.Equal(t, DefaultMinConn, run.Database.MinConn)
	assert.Equal(t, DefaultMaxConn, run.Database.MaxConn)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
numThreads: 8
database:
  host: db.internal
  password: secret
`), 0o644))

	run, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, run.NumThreads)
	assert.Equal(t, "db.internal", run.Database.Host)
	assert.Equal(t, "secret", run.Database.Password)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultPort, run.Database.Port)
	assert.Equal(t, DefaultUser, run.Database.User)
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	run, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().NumThreads, run.NumThreads)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPasswordFromEnv(t *testing.T) {
	t.Setenv("LIVESQLBENCH_PG_PASSWORD", "primary")
	t.Setenv("POSTGRES_PASSWORD", "fallback")
	assert.Equal(t, "primary", passwordFromEnv())

	t.Setenv("LIVESQLBENCH_PG_PASSWORD", "")
	assert.Equal(t, "fallback", passwordFromEnv())
}

func TestDSN(t *testing.T) {
	db := DB{Host: "localhost", Port: 5433, User: "root", Password: "pw"}
	assert.Equal(t,
		"host='localhost' port=5433 user='root' password='pw' dbname='sales' sslmode=disable",
		db.DSN("sales"))
}

func TestDSNQuotesAwkwardPasswords(t *testing.T) {
	db := DB{Host: "localhost", Port: 5432, User: "root", Password: `p w'd\`}
	assert.Equal(t,
		`host='localhost' port=5432 user='root' password='p w\'d\\' dbname='sales' sslmode=disable`,
		db.DSN("sales"))
}
