package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
)

// ObserveContext identifies the credential an observation is about and
// carries request metadata for the event log.
type ObserveContext struct {
	ProviderType      string
	UUID              string
	Source            string
	RequestID         string
	Streamed          bool
	Model             string
	IdentityProfileID string
	// CooldownUntil is honored for quota_exceeded / rate_limited signals.
	CooldownUntil *time.Time
	// TargetState is honored for manual_release.
	TargetState lifecycle.State
}

// CredentialID builds the canonical "providerType:uuid" id.
func CredentialID(providerType, id string) string {
	return providerType + ":" + id
}

// AdmissionDecision answers "may I dispatch on this credential now?".
type AdmissionDecision struct {
	Blocked        bool            `json:"blocked"`
	Mode           Mode            `json:"mode"`
	LifecycleState lifecycle.State `json:"lifecycleState"`
	Reason         string          `json:"reason,omitempty"`
}

// ManualReleaseRequest is the operator request to release a credential
// out of a protective state.
type ManualReleaseRequest struct {
	CredentialID        string          `json:"credentialId"`
	TargetState         lifecycle.State `json:"targetState"`
	Reason              string          `json:"reason"`
	ConfirmCredentialID string          `json:"confirmCredentialId"`
	Force               bool            `json:"force"`
	Source              string          `json:"source,omitempty"`
}

// Typed manual-release rejections.
var (
	ErrCredentialNotFound     = errors.New("risk: credential not found")
	ErrReleaseBadState        = errors.New("risk: credential state is not releasable")
	ErrReleaseBadTarget       = errors.New("risk: target state must be healthy or needs_refresh")
	ErrReleaseReasonTooShort  = errors.New("risk: release reason must be at least 8 characters")
	ErrReleaseConfirmMismatch = errors.New("risk: confirmCredentialId does not match")
	ErrReleaseForceRequired   = errors.New("risk: force=true required to release this credential")
)

type identityClaim struct {
	providerType string
	uuid         string
	lastSeenAt   time.Time
}

// ReleaseHook is invoked after a successful manual release so the pool
// manager can restore the entry without the risk package importing it.
type ReleaseHook func(providerType, uuid string, target lifecycle.State)

// Manager mediates signals, admission decisions, manual releases, and
// identity-collision detection. Observations for the same credential are
// linearized behind its mutex.
type Manager struct {
	mu             sync.Mutex
	store          *lifecycle.Store
	mode           Mode
	identityWindow time.Duration
	claims         map[string]identityClaim
	releaseHook    ReleaseHook
}

// NewManager creates a risk manager over the given lifecycle store.
func NewManager(store *lifecycle.Store, mode Mode, identityWindow time.Duration) *Manager {
	if !mode.Valid() {
		mode = ModeEnforceSoft
	}
	if identityWindow <= 0 {
		identityWindow = 10 * time.Minute
	}
	return &Manager{
		store:          store,
		mode:           mode,
		identityWindow: identityWindow,
		claims:         make(map[string]identityClaim),
	}
}

// SetReleaseHook registers the pool-side callback for manual releases.
func (m *Manager) SetReleaseHook(hook ReleaseHook) {
	m.mu.Lock()
	m.releaseHook = hook
	m.mu.Unlock()
}

// UpdatePolicyConfig swaps the enforcement mode and collision window.
func (m *Manager) UpdatePolicyConfig(mode Mode, identityWindow time.Duration) error {
	if !mode.Valid() {
		return fmt.Errorf("risk: unknown mode %q", mode)
	}
	m.mu.Lock()
	m.mode = mode
	if identityWindow > 0 {
		m.identityWindow = identityWindow
	}
	m.mu.Unlock()
	log.Infof("risk: policy mode set to %s", mode)
	return nil
}

// Mode returns the current enforcement mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// ObserveSuccess records a successful call on the credential.
func (m *Manager) ObserveSuccess(ctx ObserveContext) {
	m.ObserveSignal(SignalSuccess, Normalized{Signal: SignalSuccess}, ctx)
}

// ObserveError normalizes the error and routes it through ObserveSignal.
func (m *Manager) ObserveError(info ErrorInfo, ctx ObserveContext) Normalized {
	normalized := Normalize(info)
	m.ObserveSignal(normalized.Signal, normalized, ctx)
	return normalized
}

// ObserveSignal evaluates the signal against the credential's current
// state, applies the transition unless observing, and appends an event.
func (m *Manager) ObserveSignal(signal Signal, normalized Normalized, ctx ObserveContext) Evaluation {
	return m.observe(signal, normalized, ctx, "", "")
}

func (m *Manager) observe(signal Signal, normalized Normalized, ctx ObserveContext, decisionOverride Decision, collidedWith string) Evaluation {
	credentialID := CredentialID(ctx.ProviderType, ctx.UUID)

	m.mu.Lock()
	mode := m.mode
	m.pruneClaimsLocked(time.Now())
	m.mu.Unlock()

	current := lifecycle.StateUnknown
	if record := m.store.GetCredential(credentialID); record != nil {
		current = record.LifecycleState
		// Disabled overrides everything until explicitly enabled.
		if current == lifecycle.StateDisabled && signal != SignalProviderEnabled {
			m.appendEvent(credentialID, signal, normalized, ctx, Evaluation{
				Decision:      DecisionNoStateChange,
				PreviousState: current,
				NextState:     current,
				Mode:          mode,
			}, decisionOverride, collidedWith)
			return Evaluation{Decision: DecisionNoStateChange, PreviousState: current, NextState: current, Mode: mode}
		}
	}

	evaluation := Evaluate(current, signal, EvalContext{Mode: mode, TargetState: ctx.TargetState})

	if evaluation.Decision != DecisionObserveOnly {
		m.store.UpsertCredential(credentialID, func(record *lifecycle.Record) {
			record.LifecycleState = evaluation.NextState
			record.LastSignalType = string(signal)
			record.LastReasonCode = normalized.ReasonCode
			record.LastStatusCode = normalized.StatusCode
			record.LastSource = ctx.Source
			record.LastErrorMessage = util.RedactURLUserinfo(normalized.RawMessage)
			applyCooldownWindow(record, signal, ctx.CooldownUntil)
			if record.Metadata == nil {
				record.Metadata = make(map[string]any)
			}
			record.Metadata["isHealthy"] = evaluation.NextState == lifecycle.StateHealthy
			if ctx.IdentityProfileID != "" {
				record.Metadata["identityProfileId"] = ctx.IdentityProfileID
			}
		})
	}

	m.appendEvent(credentialID, signal, normalized, ctx, evaluation, decisionOverride, collidedWith)
	return evaluation
}

// applyCooldownWindow keeps the invariant: cooldownUntil is set iff the
// latest rate_limited/quota_exceeded signal carried a window. Any other
// signal, or one without a window, clears it so no stale window survives
// a new transition.
func applyCooldownWindow(record *lifecycle.Record, signal Signal, until *time.Time) {
	record.CooldownUntil = nil
	if (signal == SignalQuotaExceeded || signal == SignalRateLimited) && until != nil {
		t := *until
		record.CooldownUntil = &t
	}
}

func (m *Manager) appendEvent(credentialID string, signal Signal, normalized Normalized, ctx ObserveContext, evaluation Evaluation, decisionOverride Decision, collidedWith string) {
	decision := evaluation.Decision
	if decisionOverride != "" {
		decision = decisionOverride
	}
	now := time.Now()
	m.store.AppendEvent(lifecycle.Event{
		EventID:           fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Timestamp:         now,
		CredentialID:      credentialID,
		SignalType:        string(signal),
		ReasonCode:        normalized.ReasonCode,
		StatusCode:        normalized.StatusCode,
		Source:            ctx.Source,
		Mode:              string(evaluation.Mode),
		Decision:          string(decision),
		PreviousState:     evaluation.PreviousState,
		NextState:         evaluation.NextState,
		Changed:           evaluation.Changed,
		RequestID:         ctx.RequestID,
		Streamed:          ctx.Streamed,
		Model:             ctx.Model,
		RawMessage:        util.RedactURLUserinfo(normalized.RawMessage),
		IdentityProfileID: ctx.IdentityProfileID,
		CollidedWith:      collidedWith,
	})
}

// ObserveIdentityClaim records that the credential claims the given
// remote identity. A different credential claiming the same identity
// within the window raises a non-state-changing identity_collision event
// on the current credential, with CollidedWith naming the first claimant.
func (m *Manager) ObserveIdentityClaim(ctx ObserveContext) {
	if ctx.IdentityProfileID == "" {
		return
	}
	now := time.Now()
	credentialID := CredentialID(ctx.ProviderType, ctx.UUID)

	m.mu.Lock()
	m.pruneClaimsLocked(now)
	previous, exists := m.claims[ctx.IdentityProfileID]
	m.claims[ctx.IdentityProfileID] = identityClaim{
		providerType: ctx.ProviderType,
		uuid:         ctx.UUID,
		lastSeenAt:   now,
	}
	window := m.identityWindow
	m.mu.Unlock()

	if !exists {
		return
	}
	previousID := CredentialID(previous.providerType, previous.uuid)
	if previousID == credentialID {
		return
	}
	if now.Sub(previous.lastSeenAt) > window {
		return
	}
	log.Warnf("risk: identity %s claimed by %s while held by %s", ctx.IdentityProfileID, credentialID, previousID)
	m.observe(SignalIdentityCollision, Normalized{
		Signal:     SignalIdentityCollision,
		ReasonCode: "identity_collision",
	}, ctx, "", previousID)
}

// pruneClaimsLocked drops identity claims older than twice the window.
func (m *Manager) pruneClaimsLocked(now time.Time) {
	horizon := 2 * m.identityWindow
	for id, claim := range m.claims {
		if now.Sub(claim.lastSeenAt) > horizon {
			delete(m.claims, id)
		}
	}
}

// Admission returns the mode-gated admission decision for a credential.
// Callers consult this, never the lifecycle state directly.
func (m *Manager) Admission(providerType, id string) AdmissionDecision {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()

	state := lifecycle.StateUnknown
	if record := m.store.GetCredential(CredentialID(providerType, id)); record != nil {
		state = record.LifecycleState
	}
	blocked, reason := Blocked(mode, state)
	return AdmissionDecision{
		Blocked:        blocked,
		Mode:           mode,
		LifecycleState: state,
		Reason:         reason,
	}
}

// releasableStates are the states a manual release may leave.
var releasableStates = map[lifecycle.State]bool{
	lifecycle.StateQuarantined:  true,
	lifecycle.StateSuspended:    true,
	lifecycle.StateBanned:       true,
	lifecycle.StateCooldown:     true,
	lifecycle.StateNeedsRefresh: true,
}

// ManualRelease moves a credential out of a protective state after
// validating the operator request.
func (m *Manager) ManualRelease(req ManualReleaseRequest) (Evaluation, error) {
	record := m.store.GetCredential(req.CredentialID)
	if record == nil {
		return Evaluation{}, ErrCredentialNotFound
	}
	if !releasableStates[record.LifecycleState] {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrReleaseBadState, record.LifecycleState)
	}
	if req.TargetState != lifecycle.StateHealthy && req.TargetState != lifecycle.StateNeedsRefresh {
		return Evaluation{}, ErrReleaseBadTarget
	}
	if len(req.Reason) < 8 {
		return Evaluation{}, ErrReleaseReasonTooShort
	}
	if req.ConfirmCredentialID != req.CredentialID {
		return Evaluation{}, ErrReleaseConfirmMismatch
	}
	needsForce := record.LifecycleState == lifecycle.StateSuspended ||
		record.LifecycleState == lifecycle.StateBanned ||
		(record.LifecycleState == lifecycle.StateCooldown &&
			record.CooldownUntil != nil && record.CooldownUntil.After(time.Now()))
	if needsForce && !req.Force {
		return Evaluation{}, ErrReleaseForceRequired
	}

	providerType, id := splitCredentialID(req.CredentialID)
	evaluation := m.observe(SignalManualRelease, Normalized{
		Signal:     SignalManualRelease,
		ReasonCode: "manual_release",
		RawMessage: req.Reason,
	}, ObserveContext{
		ProviderType: providerType,
		UUID:         id,
		Source:       req.Source,
		TargetState:  req.TargetState,
	}, "", "")

	m.mu.Lock()
	hook := m.releaseHook
	m.mu.Unlock()
	if hook != nil && evaluation.Decision != DecisionObserveOnly {
		hook(providerType, id, evaluation.NextState)
	}
	return evaluation, nil
}

// RecordControlPlaneAction applies an operator-driven signal (enable,
// disable, mark healthy/unhealthy, needs-refresh) and tags the event as
// a control action.
func (m *Manager) RecordControlPlaneAction(signal Signal, ctx ObserveContext) Evaluation {
	return m.observe(signal, Normalized{Signal: signal, ReasonCode: "control_plane"}, ctx, DecisionControlAction, "")
}

// Summary, Credentials and Events are read-side passthroughs.

func (m *Manager) Summary() lifecycle.Summary {
	return m.store.GetSummary()
}

func (m *Manager) Credentials(filter lifecycle.CredentialFilter) []*lifecycle.Record {
	return m.store.GetAllCredentials(filter)
}

func (m *Manager) Events(filter lifecycle.EventFilter) []lifecycle.Event {
	return m.store.GetRecentEvents(filter)
}

func splitCredentialID(credentialID string) (string, string) {
	for i := 0; i < len(credentialID); i++ {
		if credentialID[i] == ':' {
			return credentialID[:i], credentialID[i+1:]
		}
	}
	return credentialID, ""
}
