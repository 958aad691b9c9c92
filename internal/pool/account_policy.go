package pool

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/risk"
)

// Action is the coarse pool action derived from a classified signal.
type Action string

const (
	ActionNone             Action = "none"
	ActionRefreshThenRetry Action = "refresh_then_retry"
	ActionCooldown         Action = "cooldown"
	ActionQuarantine       Action = "quarantine"
	ActionSwitchCredential Action = "switch_credential"
	ActionRetrySame        Action = "retry_same"
)

// AccountIdentity names the credential the decision is about.
type AccountIdentity struct {
	ProviderType string
	UUID         string
	AuthMethod   string
}

// CooldownDefaults are the fallback durations when the upstream gives no
// retry hint.
type CooldownDefaults struct {
	Quota     time.Duration
	RateLimit time.Duration
}

// Hints are explicit per-error overrides supplied by an adapter. Nil
// pointer means no opinion.
type Hints struct {
	ShouldSwitchCredential *bool
	MarkNeedRefresh        *bool
	SkipErrorCount         *bool
	Retryable              *bool
}

// AccountDecision is the full policy output for one classified error.
type AccountDecision struct {
	Action                   Action
	ShouldSwitchCredential   bool
	ShouldRefreshCredential  bool
	MarkNeedRefresh          bool
	MarkUnhealthy            bool
	MarkUnhealthyImmediately bool
	CooldownUntil            *time.Time
	Retryable                bool
	SkipErrorCount           bool
	AlreadyMarkedUnhealthy   bool
}

// oauthLikeMethods are the auth methods whose credentials can be
// refreshed rather than quarantined on an auth failure.
var oauthLikeMethods = map[string]bool{
	"oauth2":     true,
	"social":     true,
	"idc":        true,
	"builder-id": true,
}

// DecideAccountAction classifies the normalized signal into a pool
// action for the credential. retryAttempt is zero-based.
func DecideAccountAction(normalized risk.Normalized, identity AccountIdentity, retryAttempt int, defaults CooldownDefaults, headers http.Header, hints Hints) AccountDecision {
	decision := AccountDecision{Action: ActionNone}

	switch normalized.Signal {
	case risk.SignalAuthInvalid, risk.SignalProviderNeedsRefresh:
		if oauthLikeMethods[identity.AuthMethod] {
			decision.Action = ActionRefreshThenRetry
			decision.ShouldRefreshCredential = true
			decision.MarkNeedRefresh = true
			decision.Retryable = true
			decision.SkipErrorCount = true
		} else {
			decision.Action = ActionQuarantine
			decision.MarkUnhealthy = true
			decision.MarkUnhealthyImmediately = true
			decision.ShouldSwitchCredential = true
			decision.Retryable = true
		}

	case risk.SignalQuotaExceeded:
		decision.Action = ActionCooldown
		decision.ShouldSwitchCredential = true
		decision.Retryable = true
		decision.CooldownUntil = cooldownFromHeaders(headers, defaults.Quota)

	case risk.SignalRateLimited:
		decision.Action = ActionCooldown
		decision.ShouldSwitchCredential = true
		decision.Retryable = true
		decision.CooldownUntil = cooldownFromHeaders(headers, defaults.RateLimit)

	case risk.SignalSuspended, risk.SignalBanned:
		decision.Action = ActionQuarantine
		decision.MarkUnhealthy = true
		decision.MarkUnhealthyImmediately = true
		decision.Retryable = false

	case risk.SignalNetworkTransient:
		if retryAttempt == 0 {
			decision.Action = ActionRetrySame
		} else {
			decision.Action = ActionSwitchCredential
			decision.ShouldSwitchCredential = true
		}
		decision.Retryable = true
		decision.SkipErrorCount = true

	case risk.SignalUnknown:
		if normalized.StatusCode >= 500 && normalized.StatusCode <= 599 {
			decision.Action = ActionSwitchCredential
			decision.ShouldSwitchCredential = true
			decision.Retryable = true
		}

	case risk.SignalSuccess:
		// Nothing to do.
	}

	applyHints(&decision, hints)
	return decision
}

// applyHints honors explicit adapter overrides.
func applyHints(decision *AccountDecision, hints Hints) {
	if hints.ShouldSwitchCredential != nil {
		decision.ShouldSwitchCredential = *hints.ShouldSwitchCredential
		if decision.ShouldSwitchCredential && decision.Action == ActionNone {
			decision.Action = ActionSwitchCredential
		}
	}
	if hints.MarkNeedRefresh != nil {
		decision.MarkNeedRefresh = *hints.MarkNeedRefresh
	}
	if hints.SkipErrorCount != nil {
		decision.SkipErrorCount = *hints.SkipErrorCount
	}
	if hints.Retryable != nil {
		decision.Retryable = *hints.Retryable
	}
}

// cooldownFromHeaders parses Retry-After and X-RateLimit-Reset into an
// absolute cooldown instant, falling back to the default duration.
// Accepted forms: integer seconds, unix timestamps (seconds or millis),
// ISO-8601 / HTTP dates.
func cooldownFromHeaders(headers http.Header, fallback time.Duration) *time.Time {
	now := time.Now()
	if headers != nil {
		for _, key := range []string{"Retry-After", "X-Ratelimit-Reset", "X-RateLimit-Reset"} {
			value := strings.TrimSpace(headers.Get(key))
			if value == "" {
				continue
			}
			if until, ok := parseRetryValue(value, now); ok {
				return &until
			}
		}
	}
	until := now.Add(fallback)
	return &until
}

func parseRetryValue(value string, now time.Time) (time.Time, bool) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		switch {
		case seconds > 1_000_000_000_000:
			// Millisecond unix timestamp.
			return time.UnixMilli(seconds), true
		case seconds > 1_000_000_000:
			// Second unix timestamp.
			return time.Unix(seconds, 0), true
		case seconds >= 0:
			return now.Add(time.Duration(seconds) * time.Second), true
		}
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC1123Z} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
