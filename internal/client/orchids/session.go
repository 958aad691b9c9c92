// Package orchids implements the WebSocket coding-agent adapter. Each
// request refreshes the browser session token, opens a single-use
// socket, and translates upstream agent events into the Claude Messages
// streaming grammar, executing sandboxed filesystem operations the
// upstream requests along the way.
package orchids

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/client"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	sessionEndpoint = "https://clerk.orchids.app/v1/client/sessions"

	// defaultTokenLifetime is assumed when the session JWT carries no
	// exp claim.
	defaultTokenLifetime = 50 * time.Second
)

// session is the per-request result of a refresh: the short-lived
// WebSocket JWT plus the ids the request envelope needs. The JWT must
// not be reused across requests.
type session struct {
	SessionID string
	UserID    string
	JWT       string
	ExpiresAt time.Time
}

// refreshSession reads the credential file's client cookie, lists the
// browser sessions, and returns the first session's active token. The
// new expiry is persisted back to the credential file under its lock.
func (c *OrchidsClient) refreshSession(ctx context.Context) (*session, error) {
	tf, err := client.LoadTokenFile(c.credsFilePath)
	if err != nil {
		return nil, err
	}
	if tf.Cookie == "" {
		return nil, fmt.Errorf("orchids: credential file has no client cookie")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("orchids: failed to create session request: %w", err)
	}
	req.Header.Set("Cookie", "__client="+tf.Cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchids: session listing failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("orchids: session listing returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("orchids: failed to read session listing: %w", err)
	}

	first := gjson.GetBytes(body, "response.0")
	if !first.Exists() {
		first = gjson.GetBytes(body, "0")
	}
	jwt := first.Get("last_active_token.jwt").String()
	if jwt == "" {
		return nil, fmt.Errorf("orchids: session listing has no active token")
	}

	sess := &session{
		SessionID: first.Get("id").String(),
		UserID:    first.Get("user.id").String(),
		JWT:       jwt,
		ExpiresAt: tokenExpiry(jwt),
	}

	tf.ExpiresAt = sess.ExpiresAt
	if err = client.SaveTokenFile(c.credsFilePath, tf); err != nil {
		log.Warnf("orchids: failed to persist session expiry: %v", err)
	}
	return sess, nil
}

// tokenExpiry decodes the JWT exp claim; absent or undecodable claims
// fall back to the default lifetime.
func tokenExpiry(jwt string) time.Time {
	segments := strings.Split(jwt, ".")
	if len(segments) == 3 {
		if claims, err := base64.RawURLEncoding.DecodeString(segments[1]); err == nil {
			if exp := gjson.GetBytes(claims, "exp"); exp.Exists() {
				return time.Unix(exp.Int(), 0)
			}
		}
	}
	return time.Now().Add(defaultTokenLifetime)
}
