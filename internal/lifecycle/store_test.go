package lifecycle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxEvents int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.json")
	store := NewStore(path, maxEvents)
	store.SetFlushDelay(0)
	return store, path
}

func TestInitializeFromPoolsDerivesStates(t *testing.T) {
	store, _ := newTestStore(t, 100)
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	store.InitializeFromPools([]Seed{
		{CredentialID: "qwen:disabled", Disabled: true, Unhealthy: true},
		{CredentialID: "qwen:refresh", NeedsRefresh: true},
		{CredentialID: "qwen:cooling", RecoveryTime: &future},
		{CredentialID: "qwen:expired-cooldown", RecoveryTime: &past},
		{CredentialID: "qwen:broken", Unhealthy: true},
		{CredentialID: "qwen:ok"},
	})

	expect := map[string]State{
		"qwen:disabled":         StateDisabled,
		"qwen:refresh":          StateNeedsRefresh,
		"qwen:cooling":          StateCooldown,
		"qwen:expired-cooldown": StateHealthy,
		"qwen:broken":           StateQuarantined,
		"qwen:ok":               StateHealthy,
	}
	for id, state := range expect {
		record := store.GetCredential(id)
		require.NotNil(t, record, id)
		assert.Equal(t, state, record.LifecycleState, id)
	}
	cooling := store.GetCredential("qwen:cooling")
	require.NotNil(t, cooling.CooldownUntil)
	assert.WithinDuration(t, future, *cooling.CooldownUntil, time.Second)
}

func TestInitializeFromPoolsPreservesExistingRecords(t *testing.T) {
	store, _ := newTestStore(t, 100)
	store.UpsertCredential("qwen:u1", func(record *Record) {
		record.LifecycleState = StateSuspended
	})

	store.InitializeFromPools([]Seed{{CredentialID: "qwen:u1", Priority: 3}})

	record := store.GetCredential("qwen:u1")
	assert.Equal(t, StateSuspended, record.LifecycleState)
	assert.Equal(t, 3, record.Metadata["priority"])
}

func TestEventLogTrimsOldest(t *testing.T) {
	store, _ := newTestStore(t, 3)
	for i := 0; i < 5; i++ {
		store.AppendEvent(Event{
			EventID:      string(rune('a' + i)),
			CredentialID: "kiro:u1",
			SignalType:   "success",
			Decision:     "no_state_change",
		})
	}

	events := store.GetRecentEvents(EventFilter{Limit: 10})
	require.Len(t, events, 3)
	// Newest first; the two oldest were trimmed.
	assert.Equal(t, "e", events[0].EventID)
	assert.Equal(t, "c", events[2].EventID)
}

func TestEventFilters(t *testing.T) {
	store, _ := newTestStore(t, 100)
	store.AppendEvent(Event{CredentialID: "a:1", SignalType: "auth_invalid", Decision: "transition"})
	store.AppendEvent(Event{CredentialID: "a:2", SignalType: "rate_limited", Decision: "no_state_change"})
	store.AppendEvent(Event{CredentialID: "a:1", SignalType: "success", Decision: "transition"})

	events := store.GetRecentEvents(EventFilter{CredentialID: "a:1", Limit: 10})
	assert.Len(t, events, 2)

	events = store.GetRecentEvents(EventFilter{SignalType: "rate_limited", Limit: 10})
	require.Len(t, events, 1)
	assert.Equal(t, "a:2", events[0].CredentialID)

	events = store.GetRecentEvents(EventFilter{Decision: "transition", Limit: 1})
	assert.Len(t, events, 1)
}

func TestCredentialFilters(t *testing.T) {
	store, _ := newTestStore(t, 100)
	store.UpsertCredential("qwen:u1", func(r *Record) { r.LifecycleState = StateHealthy })
	store.UpsertCredential("qwen:u2", func(r *Record) { r.LifecycleState = StateCooldown })
	store.UpsertCredential("kiro:u1", func(r *Record) { r.LifecycleState = StateHealthy })

	assert.Len(t, store.GetAllCredentials(CredentialFilter{}), 3)
	assert.Len(t, store.GetAllCredentials(CredentialFilter{ProviderType: "qwen"}), 2)

	healthy := store.GetAllCredentials(CredentialFilter{LifecycleState: StateHealthy})
	require.Len(t, healthy, 2)
	// Ordered by credential id.
	assert.Equal(t, "kiro:u1", healthy[0].CredentialID)
}

func TestSummaryCountsByState(t *testing.T) {
	store, _ := newTestStore(t, 100)
	store.UpsertCredential("a:1", func(r *Record) { r.LifecycleState = StateHealthy })
	store.UpsertCredential("a:2", func(r *Record) { r.LifecycleState = StateHealthy })
	store.UpsertCredential("a:3", func(r *Record) { r.LifecycleState = StateBanned })
	store.AppendEvent(Event{CredentialID: "a:1", SignalType: "success", Decision: "transition"})

	summary := store.GetSummary()
	assert.Equal(t, 3, summary.TotalCredentials)
	assert.Equal(t, 1, summary.TotalEvents)
	assert.Equal(t, 2, summary.ByState[StateHealthy])
	assert.Equal(t, 1, summary.ByState[StateBanned])
}

func TestFlushAndReloadRoundTrip(t *testing.T) {
	store, path := newTestStore(t, 100)
	store.UpsertCredential("qwen:u1", func(r *Record) {
		r.LifecycleState = StateCooldown
		r.LastReasonCode = "http_429"
	})
	store.AppendEvent(Event{CredentialID: "qwen:u1", SignalType: "rate_limited", Decision: "no_state_change"})

	reloaded := NewStore(path, 100)
	reloaded.Load()

	record := reloaded.GetCredential("qwen:u1")
	require.NotNil(t, record)
	assert.Equal(t, StateCooldown, record.LifecycleState)
	assert.Equal(t, "http_429", record.LastReasonCode)
	assert.Len(t, reloaded.GetRecentEvents(EventFilter{Limit: 10}), 1)
}

func TestLoadCoercesInvalidState(t *testing.T) {
	store, path := newTestStore(t, 100)
	store.UpsertCredential("qwen:u1", func(r *Record) {
		r.LifecycleState = State("made_up")
	})
	// Upsert already coerces on write.
	assert.Equal(t, StateUnknown, store.GetCredential("qwen:u1").LifecycleState)

	reloaded := NewStore(path, 100)
	reloaded.Load()
	assert.Equal(t, StateUnknown, reloaded.GetCredential("qwen:u1").LifecycleState)
}

func TestAppendEventCreatesPlaceholderRecord(t *testing.T) {
	store, _ := newTestStore(t, 100)
	store.AppendEvent(Event{CredentialID: "orchids:new", SignalType: "success", Decision: "transition"})

	record := store.GetCredential("orchids:new")
	require.NotNil(t, record)
	assert.Equal(t, StateUnknown, record.LifecycleState)
}
