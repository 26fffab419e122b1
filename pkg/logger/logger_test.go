package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", OutputFile: path, Quiet: true}))
	defer Close()

	assert.Equal(t, path, GetCurrentLogFile())
	WithField("component", "test").Infof("auction %s created", "0xabc")
	require.NoError(t, Rotate())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 1)

	var all strings.Builder
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(filepath.Dir(path), e.Name()))
		require.NoError(t, err)
		all.Write(b)
	}
	assert.Contains(t, all.String(), `"component":"test"`)
	assert.Contains(t, all.String(), "auction 0xabc created")
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "loud"}))
	assert.Equal(t, "info", Logger.GetLevel().String())
}
