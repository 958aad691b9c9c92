package risk

import (
	"testing"

	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateTransitions(t *testing.T) {
	cases := []struct {
		name    string
		current lifecycle.State
		signal  Signal
		next    lifecycle.State
	}{
		{"success heals", lifecycle.StateQuarantined, SignalSuccess, lifecycle.StateHealthy},
		{"auth invalid flags refresh", lifecycle.StateHealthy, SignalAuthInvalid, lifecycle.StateNeedsRefresh},
		{"quota cools down", lifecycle.StateHealthy, SignalQuotaExceeded, lifecycle.StateCooldown},
		{"rate limit cools down", lifecycle.StateHealthy, SignalRateLimited, lifecycle.StateCooldown},
		{"transient keeps state", lifecycle.StateCooldown, SignalNetworkTransient, lifecycle.StateCooldown},
		{"suspension", lifecycle.StateHealthy, SignalSuspended, lifecycle.StateSuspended},
		{"ban", lifecycle.StateSuspended, SignalBanned, lifecycle.StateBanned},
		{"disable", lifecycle.StateHealthy, SignalProviderDisabled, lifecycle.StateDisabled},
		{"unhealthy quarantines healthy", lifecycle.StateHealthy, SignalProviderMarkedUnhealthy, lifecycle.StateQuarantined},
		{"unhealthy keeps suspension", lifecycle.StateSuspended, SignalProviderMarkedUnhealthy, lifecycle.StateSuspended},
		{"collision keeps state", lifecycle.StateHealthy, SignalIdentityCollision, lifecycle.StateHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Evaluate(tc.current, tc.signal, EvalContext{Mode: ModeEnforceSoft})
			assert.Equal(t, tc.next, out.NextState)
			assert.Equal(t, tc.current, out.PreviousState)
			assert.Equal(t, tc.next != tc.current, out.Changed)
		})
	}
}

func TestEvaluateObserveModeNeverEnforces(t *testing.T) {
	out := Evaluate(lifecycle.StateHealthy, SignalBanned, EvalContext{Mode: ModeObserve})
	assert.Equal(t, DecisionObserveOnly, out.Decision)
	assert.Equal(t, lifecycle.StateBanned, out.NextState)
}

func TestEvaluateManualReleaseTarget(t *testing.T) {
	out := Evaluate(lifecycle.StateSuspended, SignalManualRelease, EvalContext{
		Mode:        ModeEnforceSoft,
		TargetState: lifecycle.StateNeedsRefresh,
	})
	assert.Equal(t, lifecycle.StateNeedsRefresh, out.NextState)

	out = Evaluate(lifecycle.StateSuspended, SignalManualRelease, EvalContext{Mode: ModeEnforceSoft})
	assert.Equal(t, lifecycle.StateHealthy, out.NextState)
}

func TestBlockedByMode(t *testing.T) {
	blocked, _ := Blocked(ModeObserve, lifecycle.StateBanned)
	assert.False(t, blocked)

	blocked, _ = Blocked(ModeEnforceSoft, lifecycle.StateSuspended)
	assert.True(t, blocked)
	blocked, _ = Blocked(ModeEnforceSoft, lifecycle.StateQuarantined)
	assert.False(t, blocked)

	blocked, _ = Blocked(ModeEnforceStrict, lifecycle.StateQuarantined)
	assert.True(t, blocked)
	blocked, _ = Blocked(ModeEnforceStrict, lifecycle.StateCooldown)
	assert.False(t, blocked)

	blocked, reason := Blocked(ModeProtectiveEmergency, lifecycle.StateCooldown)
	assert.True(t, blocked)
	assert.NotEmpty(t, reason)
	blocked, _ = Blocked(ModeProtectiveEmergency, lifecycle.StateHealthy)
	assert.False(t, blocked)
}
