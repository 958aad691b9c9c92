package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	kiroEndpoint        = "https://codewhisperer.us-east-1.amazonaws.com"
	kiroRefreshEndpoint = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
)

// KiroClient talks to the OAuth-brokered Kiro service, which speaks the
// Claude Messages dialect. The credential file carries social or
// builder-id tokens; the pool entry's profileArn travels with every
// request.
type KiroClient struct {
	httpBase

	mu    sync.Mutex
	token *TokenFile
}

// NewKiroClient builds an adapter for one kiro credential.
func NewKiroClient(cfg *config.Config, cred *pool.CredentialConfig) *KiroClient {
	return &KiroClient{httpBase: newHTTPBase(cfg, cred)}
}

func (c *KiroClient) ProviderType() string { return constant.Kiro }

func (c *KiroClient) Dialect() string { return constant.Claude }

func (c *KiroClient) ensureToken(ctx context.Context) (*TokenFile, *ErrorMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		tf, err := LoadTokenFile(c.cred.CredsFilePath)
		if err != nil {
			return nil, &ErrorMessage{StatusCode: 401, Err: err}
		}
		c.token = tf
	}
	if c.token.NearExpiry(tokenRefreshLeeway) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, &ErrorMessage{StatusCode: 401, Err: err}
		}
	}
	return c.token, nil
}

// refreshLocked exchanges the refresh token at the Kiro auth broker.
// Callers hold c.mu.
func (c *KiroClient) refreshLocked(ctx context.Context) error {
	if c.token.RefreshToken == "" {
		return fmt.Errorf("kiro: no refresh token available")
	}

	payload, _ := json.Marshal(map[string]string{"refreshToken": c.token.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, kiroRefreshEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("kiro: failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kiro: token refresh failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kiro: token refresh returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var refreshed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&refreshed); err != nil {
		return fmt.Errorf("kiro: failed to parse refresh response: %w", err)
	}

	c.token.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		c.token.RefreshToken = refreshed.RefreshToken
	}
	if refreshed.ExpiresIn > 0 {
		c.token.ExpiresAt = time.Now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	}

	if err = SaveTokenFile(c.cred.CredsFilePath, c.token); err != nil {
		log.Warnf("kiro: failed to persist refreshed token: %v", err)
	}
	log.Debug("kiro tokens refreshed")
	return nil
}

// RefreshCredential forces a token refresh regardless of expiry.
func (c *KiroClient) RefreshCredential(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		tf, err := LoadTokenFile(c.cred.CredsFilePath)
		if err != nil {
			return err
		}
		c.token = tf
	}
	return c.refreshLocked(ctx)
}

func (c *KiroClient) baseURL() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return kiroEndpoint
}

func (c *KiroClient) headers(tf *TokenFile) map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + tf.AccessToken,
	}
	if c.cred.ProfileArn != "" {
		headers["x-amzn-codewhisperer-profile-arn"] = c.cred.ProfileArn
	}
	return headers
}

func (c *KiroClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	tf, errMsg := c.ensureToken(ctx)
	if errMsg != nil {
		return nil, errMsg
	}
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", false)

	body, errMsg := c.doPost(ctx, c.baseURL()+"/v1/messages", rawJSON, c.headers(tf))
	if errMsg != nil {
		return nil, errMsg
	}
	defer func() { _ = body.Close() }()
	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, NewErrorMessage(fmt.Errorf("failed to read response: %w", err))
	}
	return bodyBytes, nil
}

func (c *KiroClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)
	go func() {
		defer close(dataChan)
		defer close(errChan)

		tf, errMsg := c.ensureToken(ctx)
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
		rawJSON, _ = sjson.SetBytes(rawJSON, "stream", true)

		stream, errMsg := c.doPost(ctx, c.baseURL()+"/v1/messages", rawJSON, c.headers(tf))
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		log.Debugf("kiro stream opened for model %s", model)
		pumpSSE(stream, dataChan, errChan)
	}()
	return dataChan, errChan
}

func (c *KiroClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetKiroModels(), nil
}
