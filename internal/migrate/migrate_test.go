package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_b.sql", "002_a.sql", "notes.md", "001_init.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o700))

	files, err := Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_a.sql", "010_b.sql"}, files)
}

func TestFilesRepositoryMigrations(t *testing.T) {
	files, err := Files(filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0])
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("CREATE TABLE a ();"))
	b := Checksum([]byte("CREATE TABLE b ();"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Checksum([]byte("CREATE TABLE a ();")))
}

func TestSeedMissingDirectory(t *testing.T) {
	err := Seed(context.Background(), nil, filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
}
