package orchids

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/justlovemaki/AIClient-2-API/internal/client"
	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	wsEndpoint = "wss://api.orchids.app/agent/ws"

	// connectTimeout bounds the wait for the connected handshake.
	connectTimeout = 30 * time.Second

	// idleTimeout terminates a stream that stops producing messages.
	idleTimeout = 120 * time.Second
)

// OrchidsClient is the coding-agent adapter. It speaks the Claude
// Messages dialect outward; inward it drives a single-use WebSocket per
// request with a freshly refreshed session token.
type OrchidsClient struct {
	cfg           *config.Config
	cred          *pool.CredentialConfig
	credsFilePath string
	httpClient    *http.Client
	fs            *fsExecutor
}

// NewOrchidsClient builds an adapter for one orchids credential.
func NewOrchidsClient(cfg *config.Config, cred *pool.CredentialConfig) *OrchidsClient {
	proxyURL := cfg.ProxyURL
	if cred.ProxyURL != "" {
		proxyURL = cred.ProxyURL
	}
	return &OrchidsClient{
		cfg:           cfg,
		cred:          cred,
		credsFilePath: cred.CredsFilePath,
		httpClient:    util.SetProxy(proxyURL, &http.Client{Timeout: connectTimeout}),
		fs:            newFSExecutor(cfg.Providers.Orchids),
	}
}

func (c *OrchidsClient) ProviderType() string { return constant.Orchids }

func (c *OrchidsClient) Dialect() string { return constant.Claude }

func (c *OrchidsClient) ListModels(_ context.Context) ([]*registry.ModelInfo, *client.ErrorMessage) {
	return registry.GetOrchidsModels(), nil
}

// RefreshCredential refreshes the browser session once, proving the
// cookie is still valid.
func (c *OrchidsClient) RefreshCredential(ctx context.Context) error {
	_, err := c.refreshSession(ctx)
	return err
}

func (c *OrchidsClient) wsBase() string {
	if c.cred.BaseURL != "" {
		return c.cred.BaseURL
	}
	return wsEndpoint
}

// GenerateContent aggregates the streaming adapter into one unary
// Claude Messages response.
func (c *OrchidsClient) GenerateContent(ctx context.Context, model string, rawJSON []byte) ([]byte, *client.ErrorMessage) {
	dataChan, errChan := c.GenerateContentStream(ctx, model, rawJSON)

	agg := newUnaryAggregator(model)
	for payload := range dataChan {
		agg.consume(payload)
	}
	if errMsg := <-errChan; errMsg != nil {
		return nil, errMsg
	}
	return agg.response(), nil
}

// GenerateContentStream opens a fresh socket and translates upstream
// agent events into bare Claude event payloads. A synthetic
// message_start is emitted immediately and message_stop is always the
// final payload, upstream failure included.
func (c *OrchidsClient) GenerateContentStream(ctx context.Context, model string, rawJSON []byte) (<-chan []byte, <-chan *client.ErrorMessage) {
	dataChan := make(chan []byte)
	errChan := make(chan *client.ErrorMessage, 1)

	go func() {
		defer close(dataChan)
		defer close(errChan)

		state := newTranslator(model, clientToolsFromRequest(rawJSON), c.fs, c.cfg.Providers.Orchids.EmitToolUse)

		// The handshake can take seconds; the client sees progress
		// immediately.
		dataChan <- state.messageStart()

		sess, err := c.refreshSession(ctx)
		if err != nil {
			errChan <- &client.ErrorMessage{StatusCode: 401, Err: err}
			dataChan <- state.messageStop()
			return
		}

		conn, errMsg := c.dial(ctx, sess)
		if errMsg != nil {
			errChan <- errMsg
			dataChan <- state.messageStop()
			return
		}
		defer func() { _ = conn.Close() }()

		if err = conn.WriteJSON(c.requestEnvelope(sess, model, rawJSON)); err != nil {
			errChan <- client.NewErrorMessage(fmt.Errorf("orchids: failed to send request: %w", err))
			dataChan <- state.messageStop()
			return
		}

		// Reader goroutine drains the socket; the translator loop below
		// owns the state machine. stopRead releases a reader blocked on
		// a full buffer once this request is over.
		messages := make(chan []byte, 64)
		readErr := make(chan error, 1)
		stopRead := make(chan struct{})
		defer close(stopRead)
		go readPump(conn, messages, readErr, stopRead)

		idle := time.NewTimer(idleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				flush(dataChan, state.finish())
				return

			case <-idle.C:
				log.Warn("orchids: stream idle timeout")
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				flush(dataChan, state.finish())
				return

			case message, ok := <-messages:
				if !ok {
					select {
					case errRead := <-readErr:
						if !websocket.IsCloseError(errRead, websocket.CloseNormalClosure) {
							log.Debugf("orchids: socket closed: %v", errRead)
						}
					default:
					}
					flush(dataChan, state.finish())
					return
				}
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(idleTimeout)

				events, replies, done := state.handle(message)
				flush(dataChan, events)
				for _, reply := range replies {
					if errWrite := conn.WriteJSON(reply); errWrite != nil {
						log.Debugf("orchids: dropped fs reply: %v", errWrite)
					}
				}
				if done {
					flush(dataChan, state.finish())
					return
				}
			}
		}
	}()

	return dataChan, errChan
}

// dial opens the socket and waits for the connected handshake.
func (c *OrchidsClient) dial(ctx context.Context, sess *session) (*websocket.Conn, *client.ErrorMessage) {
	wsURL := c.wsBase() + "?token=" + url.QueryEscape(sess.JWT)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &client.ErrorMessage{StatusCode: status, Err: fmt.Errorf("orchids: dial failed: %w", err)}
	}

	_ = conn.SetReadDeadline(time.Now().Add(connectTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, client.NewErrorMessage(fmt.Errorf("orchids: no handshake: %w", err))
	}
	if gjson.GetBytes(message, "type").String() != "connected" {
		_ = conn.Close()
		return nil, client.NewErrorMessage(fmt.Errorf("orchids: unexpected handshake message %s", string(message)))
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// requestEnvelope builds the upstream request message.
func (c *OrchidsClient) requestEnvelope(sess *session, model string, rawJSON []byte) map[string]interface{} {
	var payload interface{}
	_ = json.Unmarshal(rawJSON, &payload)
	return map[string]interface{}{
		"type":       "agent_request",
		"request_id": uuid.NewString(),
		"session_id": sess.SessionID,
		"user_id":    sess.UserID,
		"model":      model,
		"payload":    payload,
	}
}

// messageReader is the socket surface the read pump needs.
type messageReader interface {
	ReadMessage() (int, []byte, error)
}

// readPump forwards socket messages until a read error or stop. The
// forward select keeps the goroutine from leaking when the consumer
// quits while the buffer is full.
func readPump(conn messageReader, messages chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	defer close(messages)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case messages <- message:
		case <-stop:
			return
		}
	}
}

func flush(dataChan chan<- []byte, events [][]byte) {
	for _, event := range events {
		dataChan <- event
	}
}

// clientToolsFromRequest extracts the client-advertised tool list used
// by the tool-name mapper.
func clientToolsFromRequest(rawJSON []byte) []clientTool {
	var tools []clientTool
	gjson.GetBytes(rawJSON, "tools").ForEach(func(_, tool gjson.Result) bool {
		ct := clientTool{Name: tool.Get("name").String()}
		tool.Get("input_schema.properties").ForEach(func(key, _ gjson.Result) bool {
			ct.Properties = append(ct.Properties, key.String())
			return true
		})
		tools = append(tools, ct)
		return true
	})
	return tools
}
