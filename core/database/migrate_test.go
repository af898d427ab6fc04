package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesBetweenVersions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_add_index.up.sql", "000002_add_index.down.sql",
		"000001_create_rides.up.sql", "000001_create_rides.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o700))

	files := listMigrationFiles(dir)
	assert.Equal(t, migrations{"000001_create_rides.up.sql", "000002_add_index.up.sql"}, files)

	assert.Equal(t, uint64(2), parseVersion(files[1]))
	assert.Equal(t, uint64(0), parseVersion("bogus.sql"))
	assert.Len(t, files.between(0, 2), 2)
	assert.Len(t, files.between(2, 2), 0)
	assert.Equal(t, migrations{"000002_add_index.up.sql"}, files.between(1, 5))
	assert.Nil(t, listMigrationFiles(filepath.Join(dir, "missing")))
}

func TestResolveMigrationsDir(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "m")
	got, err := resolveMigrationsDir(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)

	got, err = resolveMigrationsDir("")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, defaultMigrationsDir, filepath.Base(got))
}

func TestConfigConnectionStrings(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "rides", Password: "secret", Name: "rides"}
	assert.Equal(t, "user=rides password=secret host=db port=5432 dbname=rides sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://rides:secret@db:5432/rides?sslmode=disable", cfg.URL())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.URL(), "sslmode=require")
}
