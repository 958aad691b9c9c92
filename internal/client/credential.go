package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
)

// TokenFile is the on-disk shape of an OAuth-style credential file: at
// minimum an access token or cookie plus an ISO-8601 expiry. The file
// is rewritten whole under the per-path lock whenever expiry changes.
type TokenFile struct {
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Cookie       string    `json:"cookie,omitempty"`
	ResourceURL  string    `json:"resourceUrl,omitempty"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// LoadTokenFile reads and parses a credential file under its lock.
func LoadTokenFile(path string) (*TokenFile, error) {
	data, err := util.ReadFileLocked(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file %s: %w", path, err)
	}
	var tf TokenFile
	if err = json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse credential file %s: %w", path, err)
	}
	return &tf, nil
}

// SaveTokenFile rewrites the credential file whole under its lock.
func SaveTokenFile(path string, tf *TokenFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}
	if err = util.WriteFileLocked(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file %s: %w", path, err)
	}
	return nil
}

// NearExpiry reports whether the token expires within the leeway. A
// zero expiry means the file never recorded one and is treated as
// expired so the adapter refreshes before first use.
func (t *TokenFile) NearExpiry(leeway time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(t.ExpiresAt) < leeway
}
