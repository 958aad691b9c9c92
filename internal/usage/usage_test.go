package usage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAccumulates(t *testing.T) {
	tracker, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = tracker.Close() }()

	tracker.Observe(Record{
		ProviderType: "qwen",
		CredentialID: "qwen:abc",
		Model:        "qwen3-coder-plus",
		InputTokens:  10,
		OutputTokens: 20,
		Success:      true,
	})
	tracker.Observe(Record{
		ProviderType: "qwen",
		CredentialID: "qwen:abc",
		Model:        "qwen3-coder-flash",
		InputTokens:  5,
		OutputTokens: 1,
	})

	stats := tracker.Get("qwen:abc")
	require.NotNil(t, stats)
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(15), stats.InputTokens)
	assert.Equal(t, int64(21), stats.OutputTokens)
	assert.Equal(t, "qwen3-coder-flash", stats.LastModel)
	assert.NotNil(t, stats.LastUsedAt)
}

func TestSnapshotListsAllCredentials(t *testing.T) {
	tracker, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() { _ = tracker.Close() }()

	tracker.Observe(Record{ProviderType: "warp", CredentialID: "warp:a", Success: true})
	tracker.Observe(Record{ProviderType: "kiro", CredentialID: "kiro:b", Success: true})

	snapshot := tracker.Snapshot()
	assert.Len(t, snapshot, 2)
}

func TestNilTrackerIsNoOp(t *testing.T) {
	var tracker *Tracker
	tracker.Observe(Record{CredentialID: "x"})
	assert.Nil(t, tracker.Snapshot())
	assert.Nil(t, tracker.Get("x"))
	assert.NoError(t, tracker.Close())
}
