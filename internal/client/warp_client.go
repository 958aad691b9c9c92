package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
	"golang.org/x/net/http2"
	"google.golang.org/protobuf/encoding/protowire"
)

const warpEndpoint = "https://app.warp.dev/ai/completions"

// Warp envelope field numbers. The payload is OpenAI-shaped JSON
// carried as bytes inside a thin protobuf wrapper; the schema is fixed
// upstream and consumed as-is here.
const (
	warpFieldModel   = 1
	warpFieldPayload = 2
)

// WarpClient talks to the Warp completion service: protobuf envelopes
// over HTTP/2, with OpenAI Chat Completions JSON inside. Streaming
// responses arrive as varint length-prefixed frames on the response
// body.
type WarpClient struct {
	cfg        *config.Config
	cred       *pool.CredentialConfig
	httpClient *http.Client
}

// NewWarpClient builds an adapter for one warp credential. The
// transport is a dedicated HTTP/2 client; Warp rejects HTTP/1.1.
func NewWarpClient(cfg *config.Config, cred *pool.CredentialConfig) *WarpClient {
	return &WarpClient{
		cfg:        cfg,
		cred:       cred,
		httpClient: &http.Client{Transport: &http2.Transport{}},
	}
}

func (c *WarpClient) ProviderType() string { return constant.Warp }

func (c *WarpClient) Dialect() string { return constant.OpenAI }

func (c *WarpClient) endpoint() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return warpEndpoint
}

// encodeEnvelope wraps the JSON request in the Warp protobuf envelope.
func encodeEnvelope(model string, payload []byte) []byte {
	var out []byte
	out = protowire.AppendTag(out, warpFieldModel, protowire.BytesType)
	out = protowire.AppendString(out, model)
	out = protowire.AppendTag(out, warpFieldPayload, protowire.BytesType)
	out = protowire.AppendBytes(out, payload)
	return out
}

// decodeEnvelope extracts the JSON payload from one Warp response
// message, skipping fields it does not know.
func decodeEnvelope(message []byte) ([]byte, error) {
	for len(message) > 0 {
		fieldNum, wireType, n := protowire.ConsumeTag(message)
		if n < 0 {
			return nil, fmt.Errorf("warp: malformed response tag")
		}
		message = message[n:]

		if wireType == protowire.BytesType {
			value, m := protowire.ConsumeBytes(message)
			if m < 0 {
				return nil, fmt.Errorf("warp: malformed response field %d", fieldNum)
			}
			message = message[m:]
			if fieldNum == warpFieldPayload {
				return value, nil
			}
			continue
		}

		m := protowire.ConsumeFieldValue(fieldNum, wireType, message)
		if m < 0 {
			return nil, fmt.Errorf("warp: malformed response field %d", fieldNum)
		}
		message = message[m:]
	}
	return nil, nil
}

func (c *WarpClient) request(ctx context.Context, model string, rawJSON []byte) (io.ReadCloser, *ErrorMessage) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(encodeEnvelope(model, rawJSON)))
	if err != nil {
		return nil, NewErrorMessage(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Authorization", "Bearer "+c.cred.APIKey)

	resp, err := c.httpClient.Do(req)
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

func (c *WarpClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", false)

	body, errMsg := c.request(ctx, model, rawJSON)
	if errMsg != nil {
		return nil, errMsg
	}
	defer func() { _ = body.Close() }()
	message, err := io.ReadAll(body)
	if err != nil {
		return nil, NewErrorMessage(fmt.Errorf("failed to read response: %w", err))
	}
	payload, err := decodeEnvelope(message)
	if err != nil {
		return nil, NewErrorMessage(err)
	}
	return payload, nil
}

func (c *WarpClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *ErrorMessage) {
	rawJSON, _ = sjson.SetBytes(rawJSON, "stream", true)

	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)
	go func() {
		defer close(dataChan)
		defer close(errChan)

		body, errMsg := c.request(ctx, model, rawJSON)
		if errMsg != nil {
			errChan <- errMsg
			return
		}
		defer func() { _ = body.Close() }()
		log.Debugf("warp stream opened for model %s", model)

		reader := bufio.NewReader(body)
		for {
			message, err := readFrame(reader)
			if err == io.EOF {
				return
			}
			if err != nil {
				errChan <- NewErrorMessage(fmt.Errorf("warp: stream read failed: %w", err))
				return
			}
			payload, err := decodeEnvelope(message)
			if err != nil {
				errChan <- NewErrorMessage(err)
				return
			}
			if len(payload) > 0 {
				dataChan <- payload
			}
		}
	}()
	return dataChan, errChan
}

// readFrame reads one varint length-prefixed protobuf message.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	var lengthBuf []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		lengthBuf = append(lengthBuf, b)
		if b < 0x80 {
			break
		}
		if len(lengthBuf) > 10 {
			return nil, fmt.Errorf("varint overflow")
		}
	}
	length, n := protowire.ConsumeVarint(lengthBuf)
	if n < 0 {
		return nil, fmt.Errorf("malformed frame length")
	}
	message := make([]byte, length)
	if _, err := io.ReadFull(reader, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (c *WarpClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *ErrorMessage) {
	return registry.GetWarpModels(), nil
}

// RefreshCredential is a no-op: warp credentials are static tokens.
func (c *WarpClient) RefreshCredential(context.Context) error { return nil }
