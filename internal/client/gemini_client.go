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
)

const geminiEndpoint = "https://generativelanguage.googleapis.com"

// GeminiClient talks to the Gemini GenerateContent API with a static
// API key. The model travels in the URL path; streaming uses alt=sse so
// chunks arrive as SSE data lines.
type GeminiClient struct {
	httpBase
}

// NewGeminiClient builds an adapter for one gemini-custom credential.
func NewGeminiClient(cfg *config.Config, cred *pool.CredentialConfig) *GeminiClient {
	return &GeminiClient{httpBase: newHTTPBase(cfg, cred)}
}

func (c *GeminiClient) ProviderType() string { return constant.GeminiCustom }

func (c *GeminiClient) Dialect() string { return constant.Gemini }

func (c *GeminiClient) baseURL() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return geminiEndpoint
}

func (c *GeminiClient) headers() map[string]string {
	return map[string]string{
		"x-goog-api-key": c.cred.APIKey,
	}
}

func (c *GeminiClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL(), model)
	body, errMsg := c.doPost(ctx, url, rawJSON, c.headers())
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

func (c *GeminiClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL(), model)

	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)
	go func() {
		defer close(dataChan)
		defer close(errChan)

		stream, errMsg := c.doPost(ctx, url, rawJSON, c.headers())
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		log.Debugf("gemini stream opened for model %s", model)
		pumpSSE(stream, dataChan, errChan)
	}()
	return dataChan, errChan
}

func (c *GeminiClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetGeminiModels(), nil
}

// RefreshCredential is a no-op: API-key credentials do not expire.
func (c *GeminiClient) RefreshCredential(context.Context) error { return nil }
