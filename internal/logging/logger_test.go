package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestForTagsCategory(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	For(CategoryPlugins).Info("discovered")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "discovered", entries[0].Message)
	assert.Equal(t, "plugins", entries[0].ContextMap()["category"])
}

func TestDefaultLoggerIsNop(t *testing.T) {
	SetLogger(nil)
	// Must not panic and must produce no output.
	For(CategoryCore).Error("dropped")
	Sync()
}

func TestInitializeDebug(t *testing.T) {
	require.NoError(t, Initialize(true))
	defer SetLogger(nil)
	assert.True(t, For(CategoryCore).Core().Enabled(zap.DebugLevel))
}
