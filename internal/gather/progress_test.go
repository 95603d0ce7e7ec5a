package gather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTrackerEmptySet(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	require.NoError(t, err)

	assert.False(t, pt.IsTriedEmpty("SPY"))
	require.NoError(t, pt.MarkEmpty([]string{"SPY", "QQQ"}))
	assert.True(t, pt.IsTriedEmpty("SPY"))
	require.NoError(t, pt.Close())

	// The set survives a restart.
	pt2, err := newProgressTracker(dir)
	require.NoError(t, err)
	defer pt2.Close()
	assert.True(t, pt2.IsTriedEmpty("QQQ"))
	assert.False(t, pt2.IsTriedEmpty("IWM"))
}

func TestProgressTrackerCompletion(t *testing.T) {
	pt, err := newProgressTracker(t.TempDir())
	require.NoError(t, err)
	defer pt.Close()

	assert.False(t, pt.IsCompleted("2024-05-01"))
	assert.Equal(t, "", pt.LastCompleted())

	require.NoError(t, pt.MarkCompleted("2024-05-01"))
	assert.True(t, pt.IsCompleted("2024-05-01"))
	assert.False(t, pt.IsCompleted("2024-05-02"))
	assert.Equal(t, "2024-05-01", pt.LastCompleted())
}

func TestProgressTrackerReset(t *testing.T) {
	pt, err := newProgressTracker(t.TempDir())
	require.NoError(t, err)
	defer pt.Close()

	require.NoError(t, pt.MarkEmpty([]string{"SPY"}))
	require.NoError(t, pt.Reset())

	assert.False(t, pt.IsTriedEmpty("SPY"))
	// The tracker stays usable after a reset.
	require.NoError(t, pt.MarkEmpty([]string{"QQQ"}))
	assert.True(t, pt.IsTriedEmpty("QQQ"))
}
