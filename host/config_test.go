package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)

	c, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)

	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage: /data/app\npackage: assets/secondary.lua\ndebug: true\n"), 0o600))
	c, err = LoadConfig(p)
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, 8*1024, c.BufferSize)
	assert.Equal(t, filepath.Join("/data/app", "dex"), c.PackageDir())
	assert.Equal(t, filepath.Join("/data/app", "outdex"), c.OutputDir())
	assert.Equal(t, filepath.Join("/data/app", "dex", "secondary.lua"), c.PackagePath())

	require.NoError(t, os.WriteFile(p, []byte("storage: [oops"), 0o600))
	_, err = LoadConfig(p)
	assert.Error(t, err)
}
