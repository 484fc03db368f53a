package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandPath("~/.config/emily/config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/emily/config.json"), expanded)

	expanded, err = ExpandPath("/etc/emily.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/emily.json", expanded)
}

func TestExistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	ok, err := DirectoryExists(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, CreateDirectoryIfNotExist(dir))
	require.NoError(t, CreateDirectoryIfNotExist(dir))
	ok, err = DirectoryExists(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	// A directory is not a file.
	ok, err = Exists(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	ok, err = Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)
}
