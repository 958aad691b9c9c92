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
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const openAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient talks to an OpenAI-compatible Chat Completions API with
// a static API key. The credential's baseUrl overrides the default
// endpoint, which is how self-hosted compatible servers are wired in.
type OpenAIClient struct {
	httpBase
}

// NewOpenAIClient builds an adapter for one openai-custom credential.
func NewOpenAIClient(cfg *config.Config, cred *pool.CredentialConfig) *OpenAIClient {
	return &OpenAIClient{httpBase: newHTTPBase(cfg, cred)}
}

func (c *OpenAIClient) ProviderType() string { return constant.OpenAICustom }

func (c *OpenAIClient) Dialect() string { return constant.OpenAI }

func (c *OpenAIClient) baseURL() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return openAIEndpoint
}

func (c *OpenAIClient) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.cred.APIKey,
	}
}

func (c *OpenAIClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", false)

	body, errMsg := c.doPost(ctx, c.baseURL()+"/chat/completions", rawJSON, c.headers())
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

func (c *OpenAIClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "model", model)
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", true)
	// Ask for the trailing usage chunk so downstream translators can
	// report token counts.
	if !gjson.GetBytes(rawJSON, "stream_options.include_usage").Exists() {
		rawJSON, _ = sjson.SetBytes(rawJSON, "stream_options.include_usage", true)
	}

	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)
	go func() {
		defer close(dataChan)
		defer close(errChan)

		stream, errMsg := c.doPost(ctx, c.baseURL()+"/chat/completions", rawJSON, c.headers())
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		log.Debugf("openai stream opened for model %s", model)
		pumpSSE(stream, dataChan, errChan)
	}()
	return dataChan, errChan
}

func (c *OpenAIClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetOpenAIModels(), nil
}

// RefreshCredential is a no-op: API-key credentials do not expire.
func (c *OpenAIClient) RefreshCredential(context.Context) error { return nil }
