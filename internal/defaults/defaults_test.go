package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDirOverride(t *testing.T) {
	t.Setenv("BINGUS_DATA_DIR", "/srv/bingus")
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/bingus", dir)
}

func TestDataDirDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BINGUS_DATA_DIR", "")
	t.Setenv("HOME", home)

	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".bingus"), dir)
}

func TestEnsureDataDirCreates(t *testing.T) {
	want := filepath.Join(t.TempDir(), "a", "b")
	dir, err := EnsureDataDir(want)
	require.NoError(t, err)
	assert.Equal(t, want, dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(want, WakeFile), WakePath(dir))
}
