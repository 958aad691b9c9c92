// Package lifecycle implements the persisted credential lifecycle store.
// It keeps a map of credential id to lifecycle record plus a bounded
// append-only event log, snapshotted to a single JSON file with a
// debounced flush. The store never classifies anything itself; the risk
// manager drives every state change through it.
package lifecycle

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
)

// State is a credential lifecycle state.
type State string

const (
	StateHealthy      State = "healthy"
	StateNeedsRefresh State = "needs_refresh"
	StateCooldown     State = "cooldown"
	StateQuarantined  State = "quarantined"
	StateSuspended    State = "suspended"
	StateBanned       State = "banned"
	StateDisabled     State = "disabled"
	StateUnknown      State = "unknown"
)

// Valid reports whether s is one of the eight lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateHealthy, StateNeedsRefresh, StateCooldown, StateQuarantined,
		StateSuspended, StateBanned, StateDisabled, StateUnknown:
		return true
	}
	return false
}

// Record is the persisted lifecycle record for one credential.
type Record struct {
	CredentialID     string         `json:"credentialId"`
	LifecycleState   State          `json:"lifecycleState"`
	CooldownUntil    *time.Time     `json:"cooldownUntil,omitempty"`
	LastSignalType   string         `json:"lastSignalType,omitempty"`
	LastReasonCode   string         `json:"lastReasonCode,omitempty"`
	LastStatusCode   int            `json:"lastStatusCode,omitempty"`
	LastSource       string         `json:"lastSource,omitempty"`
	LastErrorMessage string         `json:"lastErrorMessage,omitempty"`
	FirstSeenAt      time.Time      `json:"firstSeenAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers never mutate store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	copyRecord := *r
	if r.CooldownUntil != nil {
		t := *r.CooldownUntil
		copyRecord.CooldownUntil = &t
	}
	if len(r.Metadata) > 0 {
		copyRecord.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			copyRecord.Metadata[k] = v
		}
	}
	return &copyRecord
}

// Event is one entry of the bounded event log.
type Event struct {
	EventID           string    `json:"eventId"`
	Timestamp         time.Time `json:"timestamp"`
	CredentialID      string    `json:"credentialId"`
	SignalType        string    `json:"signalType"`
	ReasonCode        string    `json:"reasonCode,omitempty"`
	StatusCode        int       `json:"statusCode,omitempty"`
	Source            string    `json:"source,omitempty"`
	Mode              string    `json:"mode,omitempty"`
	Decision          string    `json:"decision"`
	PreviousState     State     `json:"previousState,omitempty"`
	NextState         State     `json:"nextState,omitempty"`
	Changed           bool      `json:"changed"`
	RequestID         string    `json:"requestId,omitempty"`
	Streamed          bool      `json:"streamed,omitempty"`
	Model             string    `json:"model,omitempty"`
	RawMessage        string    `json:"rawMessage,omitempty"`
	IdentityProfileID string    `json:"identityProfileId,omitempty"`
	CollidedWith      string    `json:"collidedWith,omitempty"`
}

// Seed carries the config-derived flags used to derive an initial state
// for a credential that has no lifecycle record yet.
type Seed struct {
	CredentialID string
	Disabled     bool
	NeedsRefresh bool
	RecoveryTime *time.Time
	Unhealthy    bool
	Priority     int
}

// snapshot is the on-disk file shape.
type snapshot struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Credentials []*Record `json:"credentials"`
	Events      []Event   `json:"events"`
}

// CredentialFilter narrows GetAllCredentials results.
type CredentialFilter struct {
	ProviderType   string
	LifecycleState State
}

// EventFilter narrows GetRecentEvents results.
type EventFilter struct {
	CredentialID string
	SignalType   string
	Decision     string
	Limit        int
}

// Summary reports per-state credential counts plus event totals.
type Summary struct {
	TotalCredentials int           `json:"totalCredentials"`
	TotalEvents      int           `json:"totalEvents"`
	ByState          map[State]int `json:"byState"`
}

const defaultFlushDelay = 500 * time.Millisecond

// Store is the persisted lifecycle map and event log.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEvents  int
	flushDelay time.Duration

	credentials map[string]*Record
	events      []Event
	dirty       bool
	timer       *time.Timer
}

// NewStore creates a store persisting to path, keeping at most maxEvents
// events.
func NewStore(path string, maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = 5000
	}
	return &Store{
		path:        path,
		maxEvents:   maxEvents,
		flushDelay:  defaultFlushDelay,
		credentials: make(map[string]*Record),
	}
}

// SetFlushDelay overrides the debounce delay. Zero flushes synchronously
// on every mutation; used by tests.
func (s *Store) SetFlushDelay(d time.Duration) {
	s.mu.Lock()
	s.flushDelay = d
	s.mu.Unlock()
}

// Load reads the snapshot file. An absent or empty file means a fresh
// store; a corrupt file logs and degrades to empty state, which the next
// flush overwrites.
func (s *Store) Load() {
	data, err := util.ReadFileLocked(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("lifecycle: failed to read %s: %v", s.path, err)
		}
		return
	}
	if len(data) == 0 {
		return
	}
	var snap snapshot
	if err = json.Unmarshal(data, &snap); err != nil {
		log.Warnf("lifecycle: corrupt snapshot %s, starting fresh: %v", s.path, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range snap.Credentials {
		if record == nil || record.CredentialID == "" {
			continue
		}
		if !record.LifecycleState.Valid() {
			record.LifecycleState = StateUnknown
		}
		s.credentials[record.CredentialID] = record
	}
	s.events = snap.Events
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
}

// InitializeFromPools merges pool-configured credentials into the store,
// preserving any existing record and deriving the initial state for new
// ones from config flags: disabled > needs_refresh > cooldown (future
// recovery time) > quarantined (unhealthy) > healthy.
func (s *Store) InitializeFromPools(seeds []Seed) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seed := range seeds {
		if seed.CredentialID == "" {
			continue
		}
		if existing, ok := s.credentials[seed.CredentialID]; ok {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]any)
			}
			existing.Metadata["priority"] = seed.Priority
			continue
		}
		record := &Record{
			CredentialID:   seed.CredentialID,
			LifecycleState: deriveInitialState(seed, now),
			FirstSeenAt:    now,
			UpdatedAt:      now,
			Metadata: map[string]any{
				"priority":  seed.Priority,
				"isHealthy": !seed.Unhealthy && !seed.Disabled,
			},
		}
		if record.LifecycleState == StateCooldown && seed.RecoveryTime != nil {
			t := *seed.RecoveryTime
			record.CooldownUntil = &t
		}
		s.credentials[seed.CredentialID] = record
	}
	s.markDirtyLocked()
}

func deriveInitialState(seed Seed, now time.Time) State {
	switch {
	case seed.Disabled:
		return StateDisabled
	case seed.NeedsRefresh:
		return StateNeedsRefresh
	case seed.RecoveryTime != nil && seed.RecoveryTime.After(now):
		return StateCooldown
	case seed.Unhealthy:
		return StateQuarantined
	default:
		return StateHealthy
	}
}

// UpsertCredential shallow-merges patch into the credential record,
// creating it when absent, and bumps UpdatedAt.
func (s *Store) UpsertCredential(credentialID string, patch func(*Record)) *Record {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.ensureRecordLocked(credentialID, now)
	if patch != nil {
		patch(record)
	}
	if !record.LifecycleState.Valid() {
		record.LifecycleState = StateUnknown
	}
	record.UpdatedAt = now
	s.markDirtyLocked()
	return record.Clone()
}

// ensureRecordLocked returns the record for credentialID, creating an
// unknown-state placeholder when absent. Guarantees every event appended
// later references an existing credential.
func (s *Store) ensureRecordLocked(credentialID string, now time.Time) *Record {
	record, ok := s.credentials[credentialID]
	if !ok {
		record = &Record{
			CredentialID:   credentialID,
			LifecycleState: StateUnknown,
			FirstSeenAt:    now,
			UpdatedAt:      now,
		}
		s.credentials[credentialID] = record
	}
	return record
}

// AppendEvent pushes an event and trims the log from the oldest end when
// it exceeds maxEvents. The referenced credential is created as a
// placeholder when missing so the snapshot invariant holds.
func (s *Store) AppendEvent(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.CredentialID != "" {
		s.ensureRecordLocked(event.CredentialID, event.Timestamp)
	}
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.markDirtyLocked()
}

// GetCredential returns a copy of the record for credentialID, or nil.
func (s *Store) GetCredential(credentialID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[credentialID].Clone()
}

// GetAllCredentials returns copies of the records matching the filter,
// ordered by credential id.
func (s *Store) GetAllCredentials(filter CredentialFilter) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*Record, 0, len(s.credentials))
	for _, record := range s.credentials {
		if filter.ProviderType != "" && providerOf(record.CredentialID) != filter.ProviderType {
			continue
		}
		if filter.LifecycleState != "" && record.LifecycleState != filter.LifecycleState {
			continue
		}
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CredentialID < records[j].CredentialID
	})
	return records
}

// GetRecentEvents returns the newest events matching the filter, newest
// first. The limit is clamped to [1, 1000].
func (s *Store) GetRecentEvents(filter EventFilter) []Event {
	limit := filter.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(matched) < limit; i-- {
		event := s.events[i]
		if filter.CredentialID != "" && event.CredentialID != filter.CredentialID {
			continue
		}
		if filter.SignalType != "" && event.SignalType != filter.SignalType {
			continue
		}
		if filter.Decision != "" && event.Decision != filter.Decision {
			continue
		}
		matched = append(matched, event)
	}
	return matched
}

// GetSummary returns per-state counts.
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := Summary{
		TotalCredentials: len(s.credentials),
		TotalEvents:      len(s.events),
		ByState:          make(map[State]int),
	}
	for _, record := range s.credentials {
		summary.ByState[record.LifecycleState]++
	}
	return summary
}

// markDirtyLocked sets the dirty flag and arms the single debounce timer.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.flushDelay <= 0 {
		s.flushLocked()
		return
	}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.flushDelay, func() {
		s.mu.Lock()
		s.timer = nil
		s.flushLocked()
		s.mu.Unlock()
	})
}

// FlushNow writes the whole snapshot immediately if dirty.
func (s *Store) FlushNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.flushLocked()
}

// flushLocked rewrites the snapshot file whole. On a write failure the
// dirty flag stays set so a later flush retries.
func (s *Store) flushLocked() {
	if !s.dirty {
		return
	}
	snap := snapshot{
		Version:     1,
		GeneratedAt: time.Now(),
		Credentials: make([]*Record, 0, len(s.credentials)),
		Events:      s.events,
	}
	for _, record := range s.credentials {
		snap.Credentials = append(snap.Credentials, record)
	}
	sort.Slice(snap.Credentials, func(i, j int) bool {
		return snap.Credentials[i].CredentialID < snap.Credentials[j].CredentialID
	})
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Errorf("lifecycle: failed to marshal snapshot: %v", err)
		return
	}
	if err = util.WriteFileLocked(s.path, data, 0o644); err != nil {
		log.Errorf("lifecycle: failed to write %s: %v", s.path, err)
		return
	}
	s.dirty = false
}

// providerOf returns the providerType half of a "providerType:uuid" id.
func providerOf(credentialID string) string {
	for i := 0; i < len(credentialID); i++ {
		if credentialID[i] == ':' {
			return credentialID[:i]
		}
	}
	return credentialID
}
