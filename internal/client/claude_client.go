package client

import (
	"context"
	"fmt"
	"io"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const claudeEndpoint = "https://api.anthropic.com"

// ClaudeClient talks to the Anthropic Messages API with a static API
// key. The credential's baseUrl overrides the default endpoint.
type ClaudeClient struct {
	httpBase
}

// NewClaudeClient builds an adapter for one claude-custom credential.
func NewClaudeClient(cfg *config.Config, cred *pool.CredentialConfig) *ClaudeClient {
	return &ClaudeClient{httpBase: newHTTPBase(cfg, cred)}
}

func (c *ClaudeClient) ProviderType() string { return constant.ClaudeCustom }

func (c *ClaudeClient) Dialect() string { return constant.Claude }

func (c *ClaudeClient) baseURL() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return claudeEndpoint
}

func (c *ClaudeClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.cred.APIKey,
		"anthropic-version": "2023-06-01",
	}
}

func (c *ClaudeClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", false)

	body, errMsg := c.doPost(ctx, c.baseURL()+"/v1/messages", rawJSON, c.headers())
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

func (c *ClaudeClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", true)

	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)
	go func() {
		defer close(dataChan)
		defer close(errChan)

		stream, errMsg := c.doPost(ctx, c.baseURL()+"/v1/messages", rawJSON, c.headers())
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		log.Debugf("claude stream opened for model %s", model)
		pumpSSE(stream, dataChan, errChan)
	}()
	return dataChan, errChan
}

func (c *ClaudeClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetClaudeModels(), nil
}

// RefreshCredential is a no-op: API-key credentials do not expire.
func (c *ClaudeClient) RefreshCredential(context.Context) error { return nil }
