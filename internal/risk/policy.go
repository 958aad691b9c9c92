package risk

import (
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
)

// Mode is the enforcement mode of the policy engine.
type Mode string

const (
	// ModeObserve evaluates transitions but never enforces them.
	ModeObserve Mode = "observe"
	// ModeEnforceSoft blocks suspended and banned credentials.
	ModeEnforceSoft Mode = "enforce_soft"
	// ModeEnforceStrict additionally blocks disabled and quarantined ones.
	ModeEnforceStrict Mode = "enforce_strict"
	// ModeProtectiveEmergency blocks anything not healthy.
	ModeProtectiveEmergency Mode = "protective_emergency"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeObserve, ModeEnforceSoft, ModeEnforceStrict, ModeProtectiveEmergency:
		return true
	}
	return false
}

// Decision labels the outcome of a policy evaluation.
type Decision string

const (
	DecisionObserveOnly   Decision = "observe_only"
	DecisionTransition    Decision = "transition"
	DecisionNoStateChange Decision = "no_state_change"
	DecisionControlAction Decision = "control_action"
)

// EvalContext carries the inputs of an evaluation beyond the signal.
type EvalContext struct {
	Mode Mode
	// TargetState is honored for manual_release only.
	TargetState lifecycle.State
}

// Evaluation is the pure output of the policy engine.
type Evaluation struct {
	Decision      Decision
	PreviousState lifecycle.State
	NextState     lifecycle.State
	Changed       bool
	Mode          Mode
}

// Evaluate applies the signal→target-state table to the current state.
// It performs no I/O and has no side effects.
func Evaluate(current lifecycle.State, signal Signal, ctx EvalContext) Evaluation {
	if current == "" {
		current = lifecycle.StateUnknown
	}
	next := targetState(current, signal, ctx)

	out := Evaluation{
		PreviousState: current,
		NextState:     next,
		Changed:       next != current,
		Mode:          ctx.Mode,
	}
	switch {
	case ctx.Mode == ModeObserve:
		out.Decision = DecisionObserveOnly
	case out.Changed:
		out.Decision = DecisionTransition
	default:
		out.Decision = DecisionNoStateChange
	}
	return out
}

func targetState(current lifecycle.State, signal Signal, ctx EvalContext) lifecycle.State {
	switch signal {
	case SignalSuccess, SignalProviderMarkedHealthy, SignalProviderEnabled:
		return lifecycle.StateHealthy
	case SignalManualRelease:
		if ctx.TargetState == lifecycle.StateHealthy || ctx.TargetState == lifecycle.StateNeedsRefresh {
			return ctx.TargetState
		}
		return lifecycle.StateHealthy
	case SignalAuthInvalid, SignalProviderNeedsRefresh:
		return lifecycle.StateNeedsRefresh
	case SignalQuotaExceeded, SignalRateLimited:
		return lifecycle.StateCooldown
	case SignalNetworkTransient, SignalIdentityCollision:
		return current
	case SignalSuspended:
		return lifecycle.StateSuspended
	case SignalBanned:
		return lifecycle.StateBanned
	case SignalProviderDisabled:
		return lifecycle.StateDisabled
	case SignalProviderMarkedUnhealthy:
		if current == lifecycle.StateHealthy || current == lifecycle.StateUnknown {
			return lifecycle.StateQuarantined
		}
		return current
	default:
		return current
	}
}

// Blocked reports whether a credential in the given state is denied
// admission under the mode.
func Blocked(mode Mode, state lifecycle.State) (bool, string) {
	switch mode {
	case ModeObserve:
		return false, ""
	case ModeEnforceSoft:
		if state == lifecycle.StateSuspended || state == lifecycle.StateBanned {
			return true, "state " + string(state) + " blocked in enforce_soft"
		}
	case ModeEnforceStrict:
		switch state {
		case lifecycle.StateSuspended, lifecycle.StateBanned, lifecycle.StateDisabled, lifecycle.StateQuarantined:
			return true, "state " + string(state) + " blocked in enforce_strict"
		}
	case ModeProtectiveEmergency:
		if state != lifecycle.StateHealthy {
			return true, "state " + string(state) + " blocked in protective_emergency"
		}
	}
	return false, ""
}
