package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}

	t.Run("0644 ok", func(t *testing.T) {
		path := writeTempFile(t, 0o644)
		warn, err := CheckFilePermissions(path)
		assert.NoError(t, err)
		assert.Equal(t, "", warn)
	})

	t.Run("0664 warns", func(t *testing.T) {
		path := writeTempFile(t, 0o664)
		warn, err := CheckFilePermissions(path)
		assert.NoError(t, err)
		assert.Contains(t, warn, "group-writable")
	})

	t.Run("0646 fails", func(t *testing.T) {
		path := writeTempFile(t, 0o646)
		_, err := CheckFilePermissions(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must not be writable by others")
	})

	t.Run("0000 fails", func(t *testing.T) {
		path := writeTempFile(t, 0o000)
		_, err := CheckFilePermissions(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "readable by owner")
	})

	t.Run("directory fails", func(t *testing.T) {
		_, err := CheckFilePermissions(t.TempDir())
		assert.ErrorContains(t, err, "regular file")
	})
}

func writeTempFile(t *testing.T, mode os.FileMode) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	require.NoError(t, os.Chmod(path, mode))
	return path
}
