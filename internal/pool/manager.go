// Package pool implements the provider credential pools: the persisted
// per-provider ordered pools file, health bookkeeping and selection, the
// cooldown timers, and the account policy that turns a classified error
// into a concrete pool action.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
)

// CredentialConfig is one pools-file entry: transport knobs plus runtime
// counters. UUID is immutable across updates; refresh-uuid is its own
// explicit mutation.
type CredentialConfig struct {
	UUID             string `json:"uuid"`
	CustomName       string `json:"customName,omitempty"`
	AccountID        string `json:"accountId,omitempty"`
	ProfileArn       string `json:"profileArn,omitempty"`
	AuthMethod       string `json:"authMethod,omitempty"`
	MachineCode      string `json:"machineCode,omitempty"`
	BrowserProfileID string `json:"browserProfileId,omitempty"`
	Priority         int    `json:"priority,omitempty"`
	IsDisabled       bool   `json:"isDisabled,omitempty"`

	// Transport knobs.
	BaseURL             string `json:"baseUrl,omitempty"`
	APIKey              string `json:"apiKey,omitempty"`
	ProxyURL            string `json:"proxyUrl,omitempty"`
	CredsFilePath       string `json:"credsFilePath,omitempty"`
	CheckHealth         bool   `json:"checkHealth,omitempty"`
	CheckModelName      string `json:"checkModelName,omitempty"`
	IdentityProfileID   string `json:"identityProfileId,omitempty"`

	// Runtime counters.
	IsHealthy             bool       `json:"isHealthy"`
	UsageCount            int64      `json:"usageCount"`
	ErrorCount            int64      `json:"errorCount"`
	RefreshCount          int64      `json:"refreshCount,omitempty"`
	LastUsed              *time.Time `json:"lastUsed,omitempty"`
	NeedsRefresh          bool       `json:"needsRefresh,omitempty"`
	DrainMode             bool       `json:"drainMode,omitempty"`
	ScheduledRecoveryTime *time.Time `json:"scheduledRecoveryTime,omitempty"`
	LastErrorMessage      string     `json:"lastErrorMessage,omitempty"`
}

// Clone returns a deep copy of the config.
func (c *CredentialConfig) Clone() *CredentialConfig {
	if c == nil {
		return nil
	}
	copyConfig := *c
	if c.LastUsed != nil {
		t := *c.LastUsed
		copyConfig.LastUsed = &t
	}
	if c.ScheduledRecoveryTime != nil {
		t := *c.ScheduledRecoveryTime
		copyConfig.ScheduledRecoveryTime = &t
	}
	return &copyConfig
}

// CredentialID returns the canonical "providerType:uuid" id for an entry
// of the given provider pool.
func (c *CredentialConfig) CredentialID(providerType string) string {
	return risk.CredentialID(providerType, c.UUID)
}

// HealthCheckResult is the outcome of a single-provider health check.
type HealthCheckResult struct {
	Success      bool   `json:"success"`
	ModelName    string `json:"modelName,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// HealthCheckFunc performs one upstream probe for the credential and
// returns a model name proving liveness. Injected by the wiring layer so
// the pool package stays transport-free.
type HealthCheckFunc func(ctx context.Context, providerType string, cfg *CredentialConfig) (string, error)

// Errors surfaced by pool operations.
var (
	ErrProviderPoolEmpty   = errors.New("pool: no credentials configured for provider")
	ErrNoHealthyCredential = errors.New("pool: no healthy credential available")
	ErrCredentialNotFound  = errors.New("pool: credential not found")
	ErrUUIDImmutable       = errors.New("pool: uuid cannot be changed by update")
)

// Manager owns the per-provider ordered pools and keeps the in-memory
// status strictly in sync with the pools file: every persisted mutation
// rewrites the file whole under the mutex.
type Manager struct {
	mu      sync.Mutex
	path    string
	pools   map[string][]*CredentialConfig
	riskMgr *risk.Manager
	checker HealthCheckFunc
}

// NewManager creates a pool manager persisting to path and reporting
// state changes to the risk manager.
func NewManager(path string, riskMgr *risk.Manager) *Manager {
	return &Manager{
		path:    path,
		pools:   make(map[string][]*CredentialConfig),
		riskMgr: riskMgr,
	}
}

// SetHealthChecker injects the upstream probe used by CheckHealth.
func (m *Manager) SetHealthChecker(checker HealthCheckFunc) {
	m.mu.Lock()
	m.checker = checker
	m.mu.Unlock()
}

// Load reads the pools file. An absent file leaves the manager empty.
func (m *Manager) Load() error {
	data, err := util.ReadFileLocked(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pool: failed to read %s: %w", m.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	pools := make(map[string][]*CredentialConfig)
	if err = json.Unmarshal(data, &pools); err != nil {
		return fmt.Errorf("pool: failed to parse %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.pools = pools
	for providerType, entries := range m.pools {
		kept := entries[:0]
		for _, entry := range entries {
			if entry == nil || entry.UUID == "" {
				log.Warnf("pool: dropping %s entry without uuid", providerType)
				continue
			}
			kept = append(kept, entry)
		}
		m.pools[providerType] = kept
	}
	m.mu.Unlock()
	return nil
}

// saveLocked rewrites the pools file whole. Callers hold m.mu.
func (m *Manager) saveLocked() {
	data, err := json.MarshalIndent(m.pools, "", "  ")
	if err != nil {
		log.Errorf("pool: failed to marshal pools: %v", err)
		return
	}
	if err = util.WriteFileLocked(m.path, data, 0o644); err != nil {
		log.Errorf("pool: failed to write %s: %v", m.path, err)
	}
}

// Seeds derives lifecycle seeds for every configured credential.
func (m *Manager) Seeds() []lifecycle.Seed {
	m.mu.Lock()
	defer m.mu.Unlock()
	seeds := make([]lifecycle.Seed, 0)
	for providerType, entries := range m.pools {
		for _, entry := range entries {
			seed := lifecycle.Seed{
				CredentialID: entry.CredentialID(providerType),
				Disabled:     entry.IsDisabled,
				NeedsRefresh: entry.NeedsRefresh,
				Unhealthy:    !entry.IsHealthy,
				Priority:     entry.Priority,
			}
			if entry.ScheduledRecoveryTime != nil {
				t := *entry.ScheduledRecoveryTime
				seed.RecoveryTime = &t
			}
			seeds = append(seeds, seed)
		}
	}
	return seeds
}

// ProviderTypes lists the configured provider types, sorted.
func (m *Manager) ProviderTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.pools))
	for providerType := range m.pools {
		types = append(types, providerType)
	}
	sort.Strings(types)
	return types
}

// Entries returns copies of the pool entries for the provider type.
func (m *Manager) Entries(providerType string) []*CredentialConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*CredentialConfig, 0, len(m.pools[providerType]))
	for _, entry := range m.pools[providerType] {
		entries = append(entries, entry.Clone())
	}
	return entries
}

// selectable reports whether the entry may serve a request right now.
func selectable(entry *CredentialConfig, now time.Time) bool {
	if entry.IsDisabled || entry.DrainMode || entry.NeedsRefresh {
		return false
	}
	if !entry.IsHealthy {
		return false
	}
	if entry.ScheduledRecoveryTime != nil && entry.ScheduledRecoveryTime.After(now) {
		return false
	}
	return true
}

// Select picks a credential for the provider type: healthy, enabled,
// non-cooldown entries, least usageCount first with priority as the
// tiebreaker. The selected entry's usage counter is bumped and persisted.
func (m *Manager) Select(providerType string) (*CredentialConfig, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pools[providerType]
	if len(entries) == 0 {
		return nil, ErrProviderPoolEmpty
	}
	var best *CredentialConfig
	for _, entry := range entries {
		if !selectable(entry, now) {
			continue
		}
		if best == nil {
			best = entry
			continue
		}
		if entry.UsageCount < best.UsageCount ||
			(entry.UsageCount == best.UsageCount && entry.Priority < best.Priority) {
			best = entry
		}
	}
	if best == nil {
		return nil, ErrNoHealthyCredential
	}
	best.UsageCount++
	used := now
	best.LastUsed = &used
	m.saveLocked()
	return best.Clone(), nil
}

// findLocked returns the live entry or nil.
func (m *Manager) findLocked(providerType, id string) *CredentialConfig {
	for _, entry := range m.pools[providerType] {
		if entry.UUID == id {
			return entry
		}
	}
	return nil
}

// mutate runs fn on the live entry under the mutex, persists the pools
// file, and reports the derived signal to the risk manager.
func (m *Manager) mutate(providerType, id string, signal risk.Signal, source string, fn func(*CredentialConfig)) error {
	m.mu.Lock()
	entry := m.findLocked(providerType, id)
	if entry == nil {
		m.mu.Unlock()
		return ErrCredentialNotFound
	}
	fn(entry)
	var cooldown *time.Time
	if entry.ScheduledRecoveryTime != nil {
		t := *entry.ScheduledRecoveryTime
		cooldown = &t
	}
	m.saveLocked()
	m.mu.Unlock()

	if signal != "" && m.riskMgr != nil {
		m.riskMgr.RecordControlPlaneAction(signal, risk.ObserveContext{
			ProviderType:  providerType,
			UUID:          id,
			Source:        source,
			CooldownUntil: cooldown,
		})
	}
	return nil
}

// MarkHealthy restores an entry to the selectable state. When
// preserveUsageCount is false the usage counter is reset so the entry
// rejoins rotation at the front.
func (m *Manager) MarkHealthy(providerType, id string, preserveUsageCount bool) error {
	return m.mutate(providerType, id, risk.SignalProviderMarkedHealthy, "pool", func(entry *CredentialConfig) {
		entry.IsHealthy = true
		entry.NeedsRefresh = false
		entry.ScheduledRecoveryTime = nil
		entry.LastErrorMessage = ""
		if !preserveUsageCount {
			entry.UsageCount = 0
		}
	})
}

// MarkUnhealthy records a failure. Idempotent: an already-unhealthy
// entry only accumulates the error count.
func (m *Manager) MarkUnhealthy(providerType, id, errorMessage string, recovery *time.Time) error {
	return m.mutate(providerType, id, risk.SignalProviderMarkedUnhealthy, "pool", func(entry *CredentialConfig) {
		entry.ErrorCount++
		entry.IsHealthy = false
		entry.LastErrorMessage = util.RedactURLUserinfo(errorMessage)
		if recovery != nil {
			t := *recovery
			entry.ScheduledRecoveryTime = &t
		}
	})
}

// MarkUnhealthyImmediately quarantines an entry for auth-class errors,
// skipping any error-count threshold.
func (m *Manager) MarkUnhealthyImmediately(providerType, id, errorMessage string) error {
	return m.mutate(providerType, id, risk.SignalProviderMarkedUnhealthy, "pool", func(entry *CredentialConfig) {
		entry.ErrorCount++
		entry.IsHealthy = false
		entry.ScheduledRecoveryTime = nil
		entry.LastErrorMessage = util.RedactURLUserinfo(errorMessage)
	})
}

// MarkNeedRefresh flags the entry for token refresh before next use.
func (m *Manager) MarkNeedRefresh(providerType, id string) error {
	return m.mutate(providerType, id, risk.SignalProviderNeedsRefresh, "pool", func(entry *CredentialConfig) {
		entry.NeedsRefresh = true
	})
}

// ClearNeedRefresh marks a completed refresh.
func (m *Manager) ClearNeedRefresh(providerType, id string) error {
	return m.mutate(providerType, id, "", "pool", func(entry *CredentialConfig) {
		entry.NeedsRefresh = false
		entry.RefreshCount++
	})
}

// ApplyCooldown makes the entry non-selectable until the given instant.
func (m *Manager) ApplyCooldown(providerType, id string, until time.Time, rateLimited bool) error {
	signal := risk.SignalQuotaExceeded
	if rateLimited {
		signal = risk.SignalRateLimited
	}
	return m.mutate(providerType, id, signal, "pool", func(entry *CredentialConfig) {
		t := until
		entry.ScheduledRecoveryTime = &t
	})
}

// ClearCooldown removes a pending recovery time.
func (m *Manager) ClearCooldown(providerType, id string) error {
	return m.mutate(providerType, id, risk.SignalProviderMarkedHealthy, "pool", func(entry *CredentialConfig) {
		entry.ScheduledRecoveryTime = nil
		entry.IsHealthy = true
	})
}

// SetDrainMode keeps the entry configured but out of selection.
func (m *Manager) SetDrainMode(providerType, id string, drain bool) error {
	return m.mutate(providerType, id, "", "pool", func(entry *CredentialConfig) {
		entry.DrainMode = drain
	})
}

// Enable re-enables a disabled entry.
func (m *Manager) Enable(providerType, id string) error {
	return m.mutate(providerType, id, risk.SignalProviderEnabled, "control", func(entry *CredentialConfig) {
		entry.IsDisabled = false
	})
}

// Disable takes the entry out of service until explicitly enabled.
func (m *Manager) Disable(providerType, id string) error {
	return m.mutate(providerType, id, risk.SignalProviderDisabled, "control", func(entry *CredentialConfig) {
		entry.IsDisabled = true
	})
}

// ResetHealth clears error bookkeeping for the entry.
func (m *Manager) ResetHealth(providerType, id string) error {
	return m.mutate(providerType, id, risk.SignalProviderMarkedHealthy, "control", func(entry *CredentialConfig) {
		entry.IsHealthy = true
		entry.ErrorCount = 0
		entry.NeedsRefresh = false
		entry.ScheduledRecoveryTime = nil
		entry.LastErrorMessage = ""
	})
}

// Add appends a credential to the provider pool. A missing uuid is
// generated.
func (m *Manager) Add(providerType string, cfg *CredentialConfig) (*CredentialConfig, error) {
	if cfg == nil {
		return nil, errors.New("pool: nil credential config")
	}
	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}
	m.mu.Lock()
	if existing := m.findLocked(providerType, cfg.UUID); existing != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("pool: duplicate uuid %s for %s", cfg.UUID, providerType)
	}
	cfg.IsHealthy = true
	m.pools[providerType] = append(m.pools[providerType], cfg)
	m.saveLocked()
	m.mu.Unlock()

	if m.riskMgr != nil {
		m.riskMgr.RecordControlPlaneAction(risk.SignalProviderEnabled, risk.ObserveContext{
			ProviderType: providerType,
			UUID:         cfg.UUID,
			Source:       "control",
		})
	}
	return cfg.Clone(), nil
}

// Update patches a credential in place. The uuid is immutable.
func (m *Manager) Update(providerType string, id string, patch *CredentialConfig) error {
	if patch != nil && patch.UUID != "" && patch.UUID != id {
		return ErrUUIDImmutable
	}
	return m.mutate(providerType, id, "", "control", func(entry *CredentialConfig) {
		if patch == nil {
			return
		}
		if patch.CustomName != "" {
			entry.CustomName = patch.CustomName
		}
		if patch.BaseURL != "" {
			entry.BaseURL = patch.BaseURL
		}
		if patch.APIKey != "" {
			entry.APIKey = patch.APIKey
		}
		if patch.ProxyURL != "" {
			entry.ProxyURL = patch.ProxyURL
		}
		if patch.CredsFilePath != "" {
			entry.CredsFilePath = patch.CredsFilePath
		}
		if patch.CheckModelName != "" {
			entry.CheckModelName = patch.CheckModelName
		}
		if patch.Priority != 0 {
			entry.Priority = patch.Priority
		}
	})
}

// Delete removes a credential; deleting the last entry of a provider
// type removes the key.
func (m *Manager) Delete(providerType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pools[providerType]
	for i, entry := range entries {
		if entry.UUID == id {
			m.pools[providerType] = append(entries[:i], entries[i+1:]...)
			if len(m.pools[providerType]) == 0 {
				delete(m.pools, providerType)
			}
			m.saveLocked()
			return nil
		}
	}
	return ErrCredentialNotFound
}

// DeleteUnhealthy removes every non-healthy entry of the provider type
// and returns the removed uuids.
func (m *Manager) DeleteUnhealthy(providerType string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.pools[providerType]
	kept := entries[:0]
	removed := make([]string, 0)
	for _, entry := range entries {
		if entry.IsHealthy {
			kept = append(kept, entry)
		} else {
			removed = append(removed, entry.UUID)
		}
	}
	m.pools[providerType] = kept
	if len(m.pools[providerType]) == 0 {
		delete(m.pools, providerType)
	}
	if len(removed) > 0 {
		m.saveLocked()
	}
	return removed
}

// RefreshUUID rotates an entry's uuid and returns the new value. This is
// the one mutation allowed to change a uuid.
func (m *Manager) RefreshUUID(providerType, id string) (string, error) {
	newID := uuid.NewString()
	m.mu.Lock()
	entry := m.findLocked(providerType, id)
	if entry == nil {
		m.mu.Unlock()
		return "", ErrCredentialNotFound
	}
	entry.UUID = newID
	entry.RefreshCount++
	m.saveLocked()
	m.mu.Unlock()
	return newID, nil
}

// CheckHealth probes a single credential. The probe is forced when
// invoked by the admin path, bypassing the per-entry checkHealth flag;
// otherwise a disabled flag skips the probe. Auth-class failures mark
// the entry unhealthy immediately.
func (m *Manager) CheckHealth(ctx context.Context, providerType, id string, forced bool) HealthCheckResult {
	m.mu.Lock()
	entry := m.findLocked(providerType, id)
	checker := m.checker
	m.mu.Unlock()
	if entry == nil {
		return HealthCheckResult{Success: false, ErrorMessage: ErrCredentialNotFound.Error()}
	}
	if !forced && !entry.CheckHealth {
		return HealthCheckResult{Success: true, ModelName: entry.CheckModelName}
	}
	if checker == nil {
		return HealthCheckResult{Success: false, ErrorMessage: "pool: no health checker configured"}
	}

	modelName, err := checker(ctx, providerType, entry.Clone())
	if err != nil {
		status := 0
		if withStatus, ok := err.(interface{ HTTPStatus() int }); ok {
			status = withStatus.HTTPStatus()
		}
		normalized := risk.Normalize(risk.ErrorInfo{StatusCode: status, Message: err.Error()})
		if normalized.Signal == risk.SignalAuthInvalid {
			_ = m.MarkUnhealthyImmediately(providerType, id, err.Error())
		} else {
			_ = m.MarkUnhealthy(providerType, id, err.Error(), nil)
		}
		return HealthCheckResult{Success: false, ErrorMessage: util.RedactURLUserinfo(err.Error())}
	}
	_ = m.MarkHealthy(providerType, id, true)
	return HealthCheckResult{Success: true, ModelName: modelName}
}
