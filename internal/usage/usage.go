// Package usage persists per-credential request and token counters in a
// bbolt database. The dispatcher records one entry per completed
// request; the management API reads the aggregates back.
package usage

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var bucketCredentials = []byte("credentials")

// Record is one completed upstream call.
type Record struct {
	ProviderType string
	CredentialID string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Success      bool
}

// Stats are the persisted aggregates for one credential.
type Stats struct {
	CredentialID string     `json:"credentialId"`
	ProviderType string     `json:"providerType"`
	Requests     int64      `json:"requests"`
	Failures     int64      `json:"failures"`
	InputTokens  int64      `json:"inputTokens"`
	OutputTokens int64      `json:"outputTokens"`
	LastModel    string     `json:"lastModel,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// Tracker owns the bbolt database. A nil tracker is a no-op so callers
// need not branch on whether usage tracking is enabled.
type Tracker struct {
	db *bolt.DB
}

// Open creates or opens the usage database at path.
func Open(path string) (*Tracker, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("usage: failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketCredentials)
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: failed to initialize %s: %w", path, err)
	}
	return &Tracker{db: db}, nil
}

// Close releases the database.
func (t *Tracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Observe folds one request into the credential's aggregates.
func (t *Tracker) Observe(record Record) {
	if t == nil || t.db == nil || record.CredentialID == "" {
		return
	}
	err := t.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCredentials)

		stats := Stats{CredentialID: record.CredentialID, ProviderType: record.ProviderType}
		if existing := bucket.Get([]byte(record.CredentialID)); existing != nil {
			if unmarshalErr := json.Unmarshal(existing, &stats); unmarshalErr != nil {
				log.Warnf("usage: resetting corrupt entry for %s: %v", record.CredentialID, unmarshalErr)
				stats = Stats{CredentialID: record.CredentialID, ProviderType: record.ProviderType}
			}
		}

		stats.Requests++
		if !record.Success {
			stats.Failures++
		}
		stats.InputTokens += record.InputTokens
		stats.OutputTokens += record.OutputTokens
		if record.Model != "" {
			stats.LastModel = record.Model
		}
		now := time.Now()
		stats.LastUsedAt = &now

		data, marshalErr := json.Marshal(stats)
		if marshalErr != nil {
			return marshalErr
		}
		return bucket.Put([]byte(record.CredentialID), data)
	})
	if err != nil {
		log.Warnf("usage: failed to record request for %s: %v", record.CredentialID, err)
	}
}

// Snapshot returns the aggregates for every credential ever observed.
func (t *Tracker) Snapshot() []Stats {
	if t == nil || t.db == nil {
		return nil
	}
	var all []Stats
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(_, value []byte) error {
			var stats Stats
			if unmarshalErr := json.Unmarshal(value, &stats); unmarshalErr != nil {
				return nil
			}
			all = append(all, stats)
			return nil
		})
	})
	if err != nil {
		log.Warnf("usage: snapshot failed: %v", err)
	}
	return all
}

// Get returns the aggregates for one credential, or nil when unseen.
func (t *Tracker) Get(credentialID string) *Stats {
	if t == nil || t.db == nil {
		return nil
	}
	var stats *Stats
	_ = t.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketCredentials).Get([]byte(credentialID))
		if value == nil {
			return nil
		}
		var s Stats
		if err := json.Unmarshal(value, &s); err == nil {
			stats = &s
		}
		return nil
	})
	return stats
}
