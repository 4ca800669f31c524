package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l, err = New("")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	_, err = New("loud")
	require.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "core.log")
	l, err := NewWithFile("warn", path)
	require.NoError(t, err)
	l.Warn("written")
	assert.FileExists(t, path)
}
