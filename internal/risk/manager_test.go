package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, mode Mode) (*Manager, *lifecycle.Store) {
	t.Helper()
	store := lifecycle.NewStore(filepath.Join(t.TempDir(), "lifecycle.json"), 100)
	store.SetFlushDelay(0)
	return NewManager(store, mode, time.Minute), store
}

func TestObserveErrorTransitionsAndLogsEvent(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)

	normalized := mgr.ObserveError(ErrorInfo{StatusCode: 401, Message: "expired"}, ObserveContext{
		ProviderType: "qwen",
		UUID:         "u1",
		Source:       "dispatch",
		RequestID:    "req-1",
	})
	assert.Equal(t, SignalAuthInvalid, normalized.Signal)

	record := store.GetCredential("qwen:u1")
	require.NotNil(t, record)
	assert.Equal(t, lifecycle.StateNeedsRefresh, record.LifecycleState)
	assert.Equal(t, "http_401", record.LastReasonCode)

	events := store.GetRecentEvents(lifecycle.EventFilter{CredentialID: "qwen:u1", Limit: 10})
	require.Len(t, events, 1)
	assert.Equal(t, string(SignalAuthInvalid), events[0].SignalType)
	assert.Equal(t, string(DecisionTransition), events[0].Decision)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestCooldownWindowSetAndCleared(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)
	until := time.Now().Add(time.Hour)

	mgr.ObserveError(ErrorInfo{StatusCode: 402, Message: "quota exhausted"}, ObserveContext{
		ProviderType:  "kiro",
		UUID:          "u1",
		CooldownUntil: &until,
	})
	record := store.GetCredential("kiro:u1")
	require.NotNil(t, record)
	assert.Equal(t, lifecycle.StateCooldown, record.LifecycleState)
	require.NotNil(t, record.CooldownUntil)
	assert.WithinDuration(t, until, *record.CooldownUntil, time.Second)

	mgr.ObserveSuccess(ObserveContext{ProviderType: "kiro", UUID: "u1"})
	record = store.GetCredential("kiro:u1")
	assert.Equal(t, lifecycle.StateHealthy, record.LifecycleState)
	assert.Nil(t, record.CooldownUntil)
}

func TestRateLimitTransitionsToCooldown(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)
	until := time.Now().Add(30 * time.Second)

	mgr.ObserveSignal(SignalRateLimited, Normalized{Signal: SignalRateLimited, StatusCode: 429, ReasonCode: "http_429"}, ObserveContext{
		ProviderType:  "qwen",
		UUID:          "u1",
		CooldownUntil: &until,
	})

	record := store.GetCredential("qwen:u1")
	require.NotNil(t, record)
	assert.Equal(t, lifecycle.StateCooldown, record.LifecycleState)
	require.NotNil(t, record.CooldownUntil)
	assert.WithinDuration(t, until, *record.CooldownUntil, time.Second)
}

func TestCooldownWindowNeverGoesStale(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)
	until := time.Now().Add(time.Hour)

	mgr.ObserveError(ErrorInfo{StatusCode: 402, Message: "quota exhausted"}, ObserveContext{
		ProviderType:  "kiro",
		UUID:          "u1",
		CooldownUntil: &until,
	})
	require.NotNil(t, store.GetCredential("kiro:u1").CooldownUntil)

	// A later rate signal without a window drops the old one rather than
	// carrying it into the new episode.
	mgr.ObserveError(ErrorInfo{StatusCode: 429, Message: "slow down"}, ObserveContext{
		ProviderType: "kiro",
		UUID:         "u1",
	})
	record := store.GetCredential("kiro:u1")
	assert.Equal(t, lifecycle.StateCooldown, record.LifecycleState)
	assert.Nil(t, record.CooldownUntil)
}

func TestObserveModeRecordsWithoutMutating(t *testing.T) {
	mgr, store := newTestManager(t, ModeObserve)

	mgr.ObserveError(ErrorInfo{StatusCode: 401}, ObserveContext{ProviderType: "warp", UUID: "u1"})

	record := store.GetCredential("warp:u1")
	require.NotNil(t, record)
	assert.Equal(t, lifecycle.StateUnknown, record.LifecycleState)

	events := store.GetRecentEvents(lifecycle.EventFilter{CredentialID: "warp:u1", Limit: 10})
	require.Len(t, events, 1)
	assert.Equal(t, string(DecisionObserveOnly), events[0].Decision)
}

func TestDisabledStateOverridesSignals(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)

	mgr.RecordControlPlaneAction(SignalProviderDisabled, ObserveContext{ProviderType: "qwen", UUID: "u1", Source: "control"})
	assert.Equal(t, lifecycle.StateDisabled, store.GetCredential("qwen:u1").LifecycleState)

	mgr.ObserveError(ErrorInfo{StatusCode: 401}, ObserveContext{ProviderType: "qwen", UUID: "u1"})
	assert.Equal(t, lifecycle.StateDisabled, store.GetCredential("qwen:u1").LifecycleState)

	mgr.RecordControlPlaneAction(SignalProviderEnabled, ObserveContext{ProviderType: "qwen", UUID: "u1", Source: "control"})
	assert.Equal(t, lifecycle.StateHealthy, store.GetCredential("qwen:u1").LifecycleState)
}

func TestAdmissionFollowsModeAndState(t *testing.T) {
	mgr, _ := newTestManager(t, ModeEnforceSoft)
	mgr.ObserveError(ErrorInfo{StatusCode: 403, Message: "account suspended"}, ObserveContext{ProviderType: "kiro", UUID: "u1"})

	decision := mgr.Admission("kiro", "u1")
	assert.True(t, decision.Blocked)
	assert.Equal(t, lifecycle.StateSuspended, decision.LifecycleState)

	require.NoError(t, mgr.UpdatePolicyConfig(ModeObserve, 0))
	assert.False(t, mgr.Admission("kiro", "u1").Blocked)

	require.NoError(t, mgr.UpdatePolicyConfig(ModeProtectiveEmergency, 0))
	assert.True(t, mgr.Admission("kiro", "u1").Blocked)
	// Emergency mode blocks even never-seen credentials (unknown state).
	assert.True(t, mgr.Admission("kiro", "unseen").Blocked)
}

func TestManualReleaseValidation(t *testing.T) {
	mgr, _ := newTestManager(t, ModeEnforceSoft)
	mgr.ObserveError(ErrorInfo{StatusCode: 403, Message: "account suspended"}, ObserveContext{ProviderType: "kiro", UUID: "u1"})

	base := ManualReleaseRequest{
		CredentialID:        "kiro:u1",
		TargetState:         lifecycle.StateHealthy,
		Reason:              "verified with provider support",
		ConfirmCredentialID: "kiro:u1",
	}

	_, err := mgr.ManualRelease(ManualReleaseRequest{CredentialID: "kiro:gone", TargetState: lifecycle.StateHealthy, Reason: "long enough", ConfirmCredentialID: "kiro:gone"})
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	bad := base
	bad.TargetState = lifecycle.StateBanned
	_, err = mgr.ManualRelease(bad)
	assert.ErrorIs(t, err, ErrReleaseBadTarget)

	bad = base
	bad.Reason = "short"
	_, err = mgr.ManualRelease(bad)
	assert.ErrorIs(t, err, ErrReleaseReasonTooShort)

	bad = base
	bad.ConfirmCredentialID = "kiro:u2"
	_, err = mgr.ManualRelease(bad)
	assert.ErrorIs(t, err, ErrReleaseConfirmMismatch)

	// Suspended releases demand an explicit force.
	_, err = mgr.ManualRelease(base)
	assert.ErrorIs(t, err, ErrReleaseForceRequired)
}

func TestManualReleaseInvokesHook(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)
	mgr.ObserveError(ErrorInfo{StatusCode: 403, Message: "account suspended"}, ObserveContext{ProviderType: "kiro", UUID: "u1"})

	var hookProvider, hookID string
	var hookTarget lifecycle.State
	mgr.SetReleaseHook(func(providerType, id string, target lifecycle.State) {
		hookProvider, hookID, hookTarget = providerType, id, target
	})

	evaluation, err := mgr.ManualRelease(ManualReleaseRequest{
		CredentialID:        "kiro:u1",
		TargetState:         lifecycle.StateHealthy,
		Reason:              "verified with provider support",
		ConfirmCredentialID: "kiro:u1",
		Force:               true,
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateHealthy, evaluation.NextState)
	assert.Equal(t, "kiro", hookProvider)
	assert.Equal(t, "u1", hookID)
	assert.Equal(t, lifecycle.StateHealthy, hookTarget)
	assert.Equal(t, lifecycle.StateHealthy, store.GetCredential("kiro:u1").LifecycleState)
}

func TestIdentityCollisionRaisesEvent(t *testing.T) {
	mgr, store := newTestManager(t, ModeEnforceSoft)

	mgr.ObserveIdentityClaim(ObserveContext{ProviderType: "kiro", UUID: "u1", IdentityProfileID: "profile-9"})
	mgr.ObserveIdentityClaim(ObserveContext{ProviderType: "kiro", UUID: "u2", IdentityProfileID: "profile-9"})

	events := store.GetRecentEvents(lifecycle.EventFilter{SignalType: string(SignalIdentityCollision), Limit: 10})
	require.Len(t, events, 1)
	assert.Equal(t, "kiro:u2", events[0].CredentialID)
	assert.Equal(t, "kiro:u1", events[0].CollidedWith)

	// Same credential re-claiming its own identity is not a collision.
	mgr.ObserveIdentityClaim(ObserveContext{ProviderType: "kiro", UUID: "u2", IdentityProfileID: "profile-9"})
	events = store.GetRecentEvents(lifecycle.EventFilter{SignalType: string(SignalIdentityCollision), Limit: 10})
	assert.Len(t, events, 1)
}
