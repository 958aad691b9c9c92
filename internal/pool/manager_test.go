package pool

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePools(t *testing.T, path string, pools map[string][]*CredentialConfig) {
	t.Helper()
	data, err := json.Marshal(pools)
	require.NoError(t, err)
	require.NoError(t, util.WriteFileLocked(path, data, 0o644))
}

func newLoadedManager(t *testing.T, pools map[string][]*CredentialConfig) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provider_pools.json")
	writePools(t, path, pools)
	m := NewManager(path, nil)
	require.NoError(t, m.Load())
	return m
}

func TestSelectLeastUsedWithPriorityTiebreak(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {
			{UUID: "busy", IsHealthy: true, UsageCount: 5},
			{UUID: "low-priority", IsHealthy: true, Priority: 2},
			{UUID: "high-priority", IsHealthy: true, Priority: 1},
		},
	})

	selected, err := m.Select("qwen")
	require.NoError(t, err)
	assert.Equal(t, "high-priority", selected.UUID)
	assert.Equal(t, int64(1), selected.UsageCount)
	require.NotNil(t, selected.LastUsed)

	// Usage bump moves rotation to the next idle entry.
	selected, err = m.Select("qwen")
	require.NoError(t, err)
	assert.Equal(t, "low-priority", selected.UUID)
}

func TestSelectSkipsNonSelectableEntries(t *testing.T) {
	future := time.Now().Add(time.Hour)
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {
			{UUID: "disabled", IsHealthy: true, IsDisabled: true},
			{UUID: "draining", IsHealthy: true, DrainMode: true},
			{UUID: "refreshing", IsHealthy: true, NeedsRefresh: true},
			{UUID: "broken", IsHealthy: false},
			{UUID: "cooling", IsHealthy: true, ScheduledRecoveryTime: &future},
		},
	})

	_, err := m.Select("qwen")
	assert.ErrorIs(t, err, ErrNoHealthyCredential)

	_, err = m.Select("kiro")
	assert.ErrorIs(t, err, ErrProviderPoolEmpty)
}

func TestSelectAfterCooldownExpiry(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {{UUID: "recovered", IsHealthy: true, ScheduledRecoveryTime: &past}},
	})

	selected, err := m.Select("qwen")
	require.NoError(t, err)
	assert.Equal(t, "recovered", selected.UUID)
}

func TestSelectionPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provider_pools.json")
	writePools(t, path, map[string][]*CredentialConfig{
		"qwen": {{UUID: "u1", IsHealthy: true}},
	})
	m := NewManager(path, nil)
	require.NoError(t, m.Load())
	_, err := m.Select("qwen")
	require.NoError(t, err)

	fresh := NewManager(path, nil)
	require.NoError(t, fresh.Load())
	entries := fresh.Entries("qwen")
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].UsageCount)
}

func TestMarkUnhealthyAndRecover(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"kiro": {{UUID: "u1", IsHealthy: true, UsageCount: 7}},
	})
	recovery := time.Now().Add(time.Hour)

	require.NoError(t, m.MarkUnhealthy("kiro", "u1", "boom https://user:pw@proxy.local", &recovery))
	_, err := m.Select("kiro")
	assert.ErrorIs(t, err, ErrNoHealthyCredential)

	entry := m.Entries("kiro")[0]
	assert.False(t, entry.IsHealthy)
	assert.Equal(t, int64(1), entry.ErrorCount)
	assert.NotContains(t, entry.LastErrorMessage, "pw")
	require.NotNil(t, entry.ScheduledRecoveryTime)

	require.NoError(t, m.MarkHealthy("kiro", "u1", false))
	entry = m.Entries("kiro")[0]
	assert.True(t, entry.IsHealthy)
	assert.Nil(t, entry.ScheduledRecoveryTime)
	assert.Empty(t, entry.LastErrorMessage)
	// Usage reset puts the entry at the front of rotation again.
	assert.Equal(t, int64(0), entry.UsageCount)
}

func TestMarkHealthyPreservingUsage(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"kiro": {{UUID: "u1", IsHealthy: false, UsageCount: 7}},
	})
	require.NoError(t, m.MarkHealthy("kiro", "u1", true))
	assert.Equal(t, int64(7), m.Entries("kiro")[0].UsageCount)
}

func TestRefreshCycle(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {{UUID: "u1", IsHealthy: true}},
	})

	require.NoError(t, m.MarkNeedRefresh("qwen", "u1"))
	_, err := m.Select("qwen")
	assert.ErrorIs(t, err, ErrNoHealthyCredential)

	require.NoError(t, m.ClearNeedRefresh("qwen", "u1"))
	entry := m.Entries("qwen")[0]
	assert.False(t, entry.NeedsRefresh)
	assert.Equal(t, int64(1), entry.RefreshCount)

	_, err = m.Select("qwen")
	assert.NoError(t, err)
}

func TestRateLimitCooldownDrivesLifecycleState(t *testing.T) {
	store := lifecycle.NewStore(filepath.Join(t.TempDir(), "lifecycle.json"), 100)
	store.SetFlushDelay(0)
	riskMgr := risk.NewManager(store, risk.ModeEnforceSoft, time.Minute)

	path := filepath.Join(t.TempDir(), "provider_pools.json")
	writePools(t, path, map[string][]*CredentialConfig{
		"qwen": {{UUID: "u1", IsHealthy: true}},
	})
	m := NewManager(path, riskMgr)
	require.NoError(t, m.Load())
	store.InitializeFromPools(m.Seeds())

	until := time.Now().Add(30 * time.Second)
	require.NoError(t, m.ApplyCooldown("qwen", "u1", until, true))

	record := store.GetCredential("qwen:u1")
	require.NotNil(t, record)
	assert.Equal(t, lifecycle.StateCooldown, record.LifecycleState)
	require.NotNil(t, record.CooldownUntil)
	assert.WithinDuration(t, until, *record.CooldownUntil, time.Second)

	// The entry itself is out of rotation until the window passes.
	_, err := m.Select("qwen")
	assert.ErrorIs(t, err, ErrNoHealthyCredential)
}

func TestApplyAndClearCooldown(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {{UUID: "u1", IsHealthy: true}},
	})
	until := time.Now().Add(time.Hour)

	require.NoError(t, m.ApplyCooldown("qwen", "u1", until, true))
	_, err := m.Select("qwen")
	assert.ErrorIs(t, err, ErrNoHealthyCredential)

	require.NoError(t, m.ClearCooldown("qwen", "u1"))
	_, err = m.Select("qwen")
	assert.NoError(t, err)
}

func TestAddGeneratesUUIDAndRejectsDuplicates(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{})

	added, err := m.Add("warp", &CredentialConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.UUID)
	assert.True(t, added.IsHealthy)

	_, err = m.Add("warp", &CredentialConfig{UUID: added.UUID})
	assert.Error(t, err)
}

func TestUpdateKeepsUUIDImmutable(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"warp": {{UUID: "u1", IsHealthy: true, APIKey: "old"}},
	})

	err := m.Update("warp", "u1", &CredentialConfig{UUID: "u2"})
	assert.ErrorIs(t, err, ErrUUIDImmutable)

	require.NoError(t, m.Update("warp", "u1", &CredentialConfig{APIKey: "new", Priority: 4}))
	entry := m.Entries("warp")[0]
	assert.Equal(t, "new", entry.APIKey)
	assert.Equal(t, 4, entry.Priority)
	assert.Equal(t, "u1", entry.UUID)
}

func TestDeleteRemovesEmptyProviderKey(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"warp": {{UUID: "u1", IsHealthy: true}},
	})

	require.NoError(t, m.Delete("warp", "u1"))
	assert.Empty(t, m.ProviderTypes())
	assert.ErrorIs(t, m.Delete("warp", "u1"), ErrCredentialNotFound)
}

func TestDeleteUnhealthy(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {
			{UUID: "ok", IsHealthy: true},
			{UUID: "bad1", IsHealthy: false},
			{UUID: "bad2", IsHealthy: false},
		},
	})

	removed := m.DeleteUnhealthy("qwen")
	assert.ElementsMatch(t, []string{"bad1", "bad2"}, removed)
	entries := m.Entries("qwen")
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].UUID)
}

func TestRefreshUUIDRotates(t *testing.T) {
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"kiro": {{UUID: "u1", IsHealthy: true}},
	})

	newID, err := m.RefreshUUID("kiro", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, "u1", newID)

	entry := m.Entries("kiro")[0]
	assert.Equal(t, newID, entry.UUID)
	assert.Equal(t, int64(1), entry.RefreshCount)

	_, err = m.RefreshUUID("kiro", "u1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestSeedsDeriveFromConfigFlags(t *testing.T) {
	future := time.Now().Add(time.Hour)
	m := newLoadedManager(t, map[string][]*CredentialConfig{
		"qwen": {
			{UUID: "u1", IsHealthy: true, Priority: 2},
			{UUID: "u2", IsHealthy: false, IsDisabled: true, NeedsRefresh: true, ScheduledRecoveryTime: &future},
		},
	})

	seeds := m.Seeds()
	require.Len(t, seeds, 2)
	byID := make(map[string]bool)
	for _, seed := range seeds {
		byID[seed.CredentialID] = true
		if seed.CredentialID == "qwen:u2" {
			assert.True(t, seed.Disabled)
			assert.True(t, seed.NeedsRefresh)
			assert.True(t, seed.Unhealthy)
			require.NotNil(t, seed.RecoveryTime)
		}
	}
	assert.True(t, byID["qwen:u1"])
	assert.True(t, byID["qwen:u2"])
}
