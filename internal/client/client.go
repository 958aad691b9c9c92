// Package client implements the upstream service adapters. Every
// adapter exposes the same three operations (GenerateContent,
// GenerateContentStream, ListModels) against one credential, speaks its
// provider's native dialect on the wire, and owns the credential's
// token lifecycle.
//
// Streaming adapters strip SSE framing before handing chunks to the
// caller: the data channel carries one bare JSON payload per upstream
// event, with the OpenAI "[DONE]" marker passed through literally.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
)

// streamBufferSize bounds a single SSE line; some providers emit very
// large base64 payloads in one event.
const streamBufferSize = 10 * 1024 * 1024

// ErrorMessage is the adapter error carrying the upstream HTTP status
// and any response headers the account policy needs (retry-after,
// ratelimit reset).
type ErrorMessage struct {
	StatusCode int
	Headers    http.Header
	Err        error
}

func (e *ErrorMessage) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("upstream error: status %d", e.StatusCode)
}

// HTTPStatus exposes the upstream status code to callers that only see
// an error value.
func (e *ErrorMessage) HTTPStatus() int {
	return e.StatusCode
}

// NewErrorMessage wraps an internal failure with status 500.
func NewErrorMessage(err error) *ErrorMessage {
	return &ErrorMessage{StatusCode: http.StatusInternalServerError, Err: err}
}

// Client is the uniform adapter contract the dispatcher works against.
type Client interface {
	// ProviderType names the credential pool this adapter serves.
	ProviderType() string

	// Dialect is the wire dialect the upstream speaks.
	Dialect() string

	// GenerateContent performs a unary call. The body is already in the
	// upstream's dialect; the response is returned untranslated.
	GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage)

	// GenerateContentStream opens an upstream stream and delivers bare
	// JSON payloads until the stream ends. Both channels close when the
	// stream is done; cancelling ctx terminates the upstream connection.
	GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage)

	// ListModels returns the adapter's model catalog.
	ListModels(ctx context.Context) ([]*registry.ModelInfo, *ErrorMessage)

	// RefreshCredential renews the credential's token material when the
	// provider has a refresh mechanism; a no-op otherwise.
	RefreshCredential(ctx context.Context) error
}

// httpBase carries what every HTTP-transport adapter needs: the global
// config, the selected credential, and a proxy-aware HTTP client.
type httpBase struct {
	cfg        *config.Config
	cred       *pool.CredentialConfig
	httpClient *http.Client
}

func newHTTPBase(cfg *config.Config, cred *pool.CredentialConfig) httpBase {
	proxyURL := cfg.ProxyURL
	if cred.ProxyURL != "" {
		proxyURL = cred.ProxyURL
	}
	return httpBase{
		cfg:        cfg,
		cred:       cred,
		httpClient: util.SetProxy(proxyURL, &http.Client{}),
	}
}

// doPost issues a POST and returns the body reader, or an ErrorMessage
// holding the upstream status, headers, and response body text.
func (b *httpBase) doPost(ctx context.Context, url string, body []byte, headers map[string]string) (io.ReadCloser, *ErrorMessage) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewErrorMessage(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, NewErrorMessage(fmt.Errorf("failed to execute request: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &ErrorMessage{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Err:        fmt.Errorf("%s", string(bodyBytes)),
		}
	}
	return resp.Body, nil
}

// pumpSSE drains an SSE stream into dataChan as bare JSON payloads.
// Lines without a "data: " prefix (event names, comments, keep-alives)
// are dropped; the "[DONE]" marker is forwarded literally. Closes the
// stream when done.
func pumpSSE(stream io.ReadCloser, dataChan chan<- []byte, errChan chan<- *ErrorMessage) {
	defer func() { _ = stream.Close() }()

	dataTag := []byte("data: ")
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, streamBufferSize), streamBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, dataTag) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataTag):])
		if len(payload) == 0 {
			continue
		}
		dataChan <- bytes.Clone(payload)
	}
	if err := scanner.Err(); err != nil {
		errChan <- NewErrorMessage(fmt.Errorf("stream read failed: %w", err))
	}
}
