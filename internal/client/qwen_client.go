package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

const (
	qwenEndpoint           = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	qwenOAuthTokenEndpoint = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenOAuthClientID      = "f0304373b74a44d2b584a3fb70ca9e56"

	// tokenRefreshLeeway is how close to expiry a token may get before
	// the adapter refreshes it ahead of a request.
	tokenRefreshLeeway = 30 * time.Second
)

// QwenClient talks to the OAuth-brokered Qwen Code service, which
// speaks the OpenAI Chat Completions dialect. Tokens live in the
// credential file named by the pool entry and are refreshed before a
// request whenever they are near expiry.
type QwenClient struct {
	httpBase

	mu    sync.Mutex
	token *TokenFile
}

// NewQwenClient builds an adapter for one qwen credential.
func NewQwenClient(cfg *config.Config, cred *pool.CredentialConfig) *QwenClient {
	return &QwenClient{httpBase: newHTTPBase(cfg, cred)}
}

func (c *QwenClient) ProviderType() string { return constant.Qwen }

func (c *QwenClient) Dialect() string { return constant.OpenAI }

// ensureToken loads the credential file on first use and refreshes the
// access token when it is near expiry, persisting the new expiry back
// to the file under its lock.
func (c *QwenClient) ensureToken(ctx context.Context) (*TokenFile, *ErrorMessage) {
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

// refreshLocked exchanges the refresh token at the Qwen OAuth endpoint.
// Callers hold c.mu.
func (c *QwenClient) refreshLocked(ctx context.Context) error {
	if c.token.RefreshToken == "" {
		return fmt.Errorf("qwen: no refresh token available")
	}

	conf := &oauth2.Config{
		ClientID: qwenOAuthClientID,
		Endpoint: oauth2.Endpoint{TokenURL: qwenOAuthTokenEndpoint},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	newToken, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("qwen: token refresh failed: %w", err)
	}

	c.token.AccessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		c.token.RefreshToken = newToken.RefreshToken
	}
	c.token.ExpiresAt = newToken.Expiry
	if resourceURL, ok := newToken.Extra("resource_url").(string); ok && resourceURL != "" {
		c.token.ResourceURL = resourceURL
	}

	if err = SaveTokenFile(c.cred.CredsFilePath, c.token); err != nil {
		log.Warnf("qwen: failed to persist refreshed token: %v", err)
	}
	log.Debug("qwen tokens refreshed")
	return nil
}

// RefreshCredential forces a token refresh regardless of expiry.
func (c *QwenClient) RefreshCredential(ctx context.Context) error {
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

func (c *QwenClient) baseURL(tf *TokenFile) string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	if tf.ResourceURL != "" {
		return "https://" + tf.ResourceURL + "/v1"
	}
	return qwenEndpoint
}

func (c *QwenClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	tf, errMsg := c.ensureToken(ctx)
	if errMsg != nil {
		return nil, errMsg
	}
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", false)

	body, errMsg := c.doPost(ctx, c.baseURL(tf)+"/chat/completions", rawJSON, map[string]string{
		"Authorization": "Bearer " + tf.AccessToken,
	})
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

func (c *QwenClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
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
		if !gjson.GetBytes(rawJSON, "stream_options.include_usage").Exists() {
			rawJSON, _ = sjson.SetBytes(rawJSON, "stream_options.include_usage", true)
		}

		stream, errMsg := c.doPost(ctx, c.baseURL(tf)+"/chat/completions", rawJSON, map[string]string{
			"Authorization": "Bearer " + tf.AccessToken,
		})
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		log.Debugf("qwen stream opened for model %s", model)
		pumpSSE(stream, dataChan, errChan)
	}()
	return dataChan, errChan
}

func (c *QwenClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetQwenModels(), nil
}
