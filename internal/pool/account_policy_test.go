package pool

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cooldownDefaults = CooldownDefaults{
	Quota:     30 * time.Minute,
	RateLimit: time.Minute,
}

func TestAuthInvalidRefreshesOAuthCredentials(t *testing.T) {
	normalized := risk.Normalized{Signal: risk.SignalAuthInvalid, StatusCode: 401}

	decision := DecideAccountAction(normalized, AccountIdentity{ProviderType: "qwen", AuthMethod: "oauth2"}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionRefreshThenRetry, decision.Action)
	assert.True(t, decision.ShouldRefreshCredential)
	assert.True(t, decision.MarkNeedRefresh)
	assert.True(t, decision.Retryable)
	assert.True(t, decision.SkipErrorCount)
	assert.False(t, decision.MarkUnhealthyImmediately)
}

func TestAuthInvalidQuarantinesAPIKeyCredentials(t *testing.T) {
	normalized := risk.Normalized{Signal: risk.SignalAuthInvalid, StatusCode: 401}

	decision := DecideAccountAction(normalized, AccountIdentity{ProviderType: "openai-custom", AuthMethod: "api_key"}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionQuarantine, decision.Action)
	assert.True(t, decision.MarkUnhealthyImmediately)
	assert.True(t, decision.ShouldSwitchCredential)
	assert.True(t, decision.Retryable)
}

func TestQuotaAndRateLimitCooldowns(t *testing.T) {
	now := time.Now()

	decision := DecideAccountAction(risk.Normalized{Signal: risk.SignalQuotaExceeded, StatusCode: 402}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionCooldown, decision.Action)
	require.NotNil(t, decision.CooldownUntil)
	assert.WithinDuration(t, now.Add(cooldownDefaults.Quota), *decision.CooldownUntil, 5*time.Second)

	decision = DecideAccountAction(risk.Normalized{Signal: risk.SignalRateLimited, StatusCode: 429}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
	require.NotNil(t, decision.CooldownUntil)
	assert.WithinDuration(t, now.Add(cooldownDefaults.RateLimit), *decision.CooldownUntil, 5*time.Second)
	assert.True(t, decision.ShouldSwitchCredential)
	assert.True(t, decision.Retryable)
}

func TestRetryAfterHeaderOverridesDefault(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "120")

	decision := DecideAccountAction(risk.Normalized{Signal: risk.SignalRateLimited, StatusCode: 429}, AccountIdentity{}, 0, cooldownDefaults, headers, Hints{})
	require.NotNil(t, decision.CooldownUntil)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), *decision.CooldownUntil, 5*time.Second)
}

func TestRetryAfterUnixTimestamp(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	headers := http.Header{}
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	decision := DecideAccountAction(risk.Normalized{Signal: risk.SignalRateLimited, StatusCode: 429}, AccountIdentity{}, 0, cooldownDefaults, headers, Hints{})
	require.NotNil(t, decision.CooldownUntil)
	assert.WithinDuration(t, time.Unix(reset, 0), *decision.CooldownUntil, time.Second)
}

func TestSuspensionAndBanAreTerminal(t *testing.T) {
	for _, signal := range []risk.Signal{risk.SignalSuspended, risk.SignalBanned} {
		decision := DecideAccountAction(risk.Normalized{Signal: signal}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
		assert.Equal(t, ActionQuarantine, decision.Action, signal)
		assert.True(t, decision.MarkUnhealthyImmediately, signal)
		assert.False(t, decision.Retryable, signal)
	}
}

func TestNetworkTransientRetriesSameThenSwitches(t *testing.T) {
	normalized := risk.Normalized{Signal: risk.SignalNetworkTransient}

	decision := DecideAccountAction(normalized, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionRetrySame, decision.Action)
	assert.False(t, decision.ShouldSwitchCredential)
	assert.True(t, decision.SkipErrorCount)

	decision = DecideAccountAction(normalized, AccountIdentity{}, 1, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionSwitchCredential, decision.Action)
	assert.True(t, decision.ShouldSwitchCredential)
	assert.True(t, decision.Retryable)
}

func TestUnknownServerErrorSwitches(t *testing.T) {
	decision := DecideAccountAction(risk.Normalized{Signal: risk.SignalUnknown, StatusCode: 503}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionSwitchCredential, decision.Action)
	assert.True(t, decision.Retryable)

	decision = DecideAccountAction(risk.Normalized{Signal: risk.SignalUnknown, StatusCode: 400}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{})
	assert.Equal(t, ActionNone, decision.Action)
	assert.False(t, decision.Retryable)
}

func TestHintsOverrideDecision(t *testing.T) {
	yes, no := true, false

	decision := DecideAccountAction(risk.Normalized{Signal: risk.SignalUnknown, StatusCode: 400}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{
		ShouldSwitchCredential: &yes,
		Retryable:              &yes,
	})
	assert.Equal(t, ActionSwitchCredential, decision.Action)
	assert.True(t, decision.Retryable)

	decision = DecideAccountAction(risk.Normalized{Signal: risk.SignalNetworkTransient}, AccountIdentity{}, 0, cooldownDefaults, nil, Hints{
		Retryable: &no,
	})
	assert.False(t, decision.Retryable)
}
