package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/justlovemaki/AIClient-2-API/internal/client"
	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/logging"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/registry"
	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/justlovemaki/AIClient-2-API/internal/strategy"
	"github.com/justlovemaki/AIClient-2-API/internal/telemetry"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
	"github.com/justlovemaki/AIClient-2-API/internal/usage"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Dispatcher routes one inbound request through model resolution,
// admission, credential selection, dialect conversion, and the bounded
// retry loop.
type Dispatcher struct {
	cfg       *config.Config
	poolMgr   *pool.Manager
	riskMgr   *risk.Manager
	promptLog *logging.PromptLogger
	tracker   *usage.Tracker
	reporter  *telemetry.Reporter
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(cfg *config.Config, poolMgr *pool.Manager, riskMgr *risk.Manager, promptLog *logging.PromptLogger, tracker *usage.Tracker, reporter *telemetry.Reporter) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		poolMgr:   poolMgr,
		riskMgr:   riskMgr,
		promptLog: promptLog,
		tracker:   tracker,
		reporter:  reporter,
	}
}

// dispatchState carries the resolved routing facts for one request.
type dispatchState struct {
	requestID      string
	endpoint       string
	inboundDialect string
	providerType   string
	dialect        string
	model          string
	stream         bool
	started        time.Time

	originalBody []byte
	body         []byte
}

// resolve parses the request body and derives the routing facts.
func (d *Dispatcher) resolve(c *gin.Context, endpoint string) (*dispatchState, strategy.Strategy, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read request body: %w", err)
	}

	inboundDialect := constant.EndpointDialect[endpoint]
	strat := strategy.ForDialect(inboundDialect)

	meta := strategy.RequestMeta{
		PathModel:  c.Param("model"),
		PathAction: c.Param("action"),
	}
	model, stream := strat.ExtractModelAndStream(meta, body)
	if model == "" {
		return nil, nil, fmt.Errorf("request names no model")
	}

	brandProvider, cleanModel := registry.StripBrandPrefix(model)
	providerType := brandProvider
	if providerType == "" {
		providerType = registry.RouteModel(cleanModel, d.cfg.DefaultProvider)
	}

	strat.ManageSystemPrompt(d.cfg, body)
	body = strat.ApplySystemPromptFromFile(d.cfg, body)
	d.promptLog.LogInput(strat.ExtractPromptText(body))

	return &dispatchState{
		requestID:      uuid.NewString(),
		endpoint:       endpoint,
		inboundDialect: inboundDialect,
		providerType:   providerType,
		dialect:        registry.ProviderDialect(providerType),
		model:          cleanModel,
		stream:         stream,
		started:        time.Now(),
		originalBody:   body,
		body:           translator.Request(inboundDialect, registry.ProviderDialect(providerType), cleanModel, body, stream),
	}, strat, nil
}

// HandleGenerate serves the four content-generation endpoints.
func (d *Dispatcher) HandleGenerate(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, strat, err := d.resolve(c, endpoint)
		if err != nil {
			writeDialectError(c, constant.EndpointDialect[endpoint], http.StatusBadRequest, err.Error())
			return
		}
		d.dispatch(c, state, strat)
	}
}

// dispatch runs the bounded retry loop over pool credentials.
func (d *Dispatcher) dispatch(c *gin.Context, state *dispatchState, strat strategy.Strategy) {
	defaults := pool.CooldownDefaults{
		Quota:     time.Duration(d.cfg.Cooldown.QuotaMs) * time.Millisecond,
		RateLimit: time.Duration(d.cfg.Cooldown.RateLimitMs) * time.Millisecond,
	}

	var lastErr *client.ErrorMessage
	// pinned carries the previous credential into the next attempt when
	// the account policy says retry on the same one (retry_same, or a
	// refresh that succeeded).
	var pinned *pool.CredentialConfig
	attempts := d.cfg.RequestRetry
	for attempt := 0; attempt < attempts; attempt++ {
		cred := pinned
		pinned = nil
		if cred == nil {
			var err error
			cred, err = d.poolMgr.Select(state.providerType)
			if err != nil {
				status := http.StatusServiceUnavailable
				if lastErr != nil {
					status = lastErr.StatusCode
				}
				writeDialectError(c, state.inboundDialect, status, d.exhaustedMessage(state, lastErr, err))
				return
			}
		}

		admission := d.riskMgr.Admission(state.providerType, cred.UUID)
		if admission.Blocked {
			log.Warnf("dispatch: admission blocked %s (%s): %s", cred.CredentialID(state.providerType), admission.LifecycleState, admission.Reason)
			lastErr = &client.ErrorMessage{StatusCode: http.StatusForbidden, Err: fmt.Errorf("credential blocked: %s", admission.Reason)}
			continue
		}

		adapter, err := NewClient(d.cfg, state.providerType, cred)
		if err != nil {
			writeDialectError(c, state.inboundDialect, http.StatusBadGateway, err.Error())
			return
		}

		var errMsg *client.ErrorMessage
		if state.stream {
			errMsg = d.runStream(c, state, adapter, cred)
		} else {
			errMsg = d.runUnary(c, state, strat, adapter, cred)
		}
		if errMsg == nil {
			return
		}
		lastErr = errMsg

		retry, sameCred := d.handleUpstreamError(c.Request.Context(), state, adapter, cred, errMsg, attempt, defaults)
		if !retry {
			writeDialectError(c, state.inboundDialect, errMsg.StatusCode, errMsg.Error())
			return
		}
		if sameCred {
			pinned = cred
		}
	}
	status := http.StatusServiceUnavailable
	if lastErr != nil {
		status = lastErr.StatusCode
	}
	writeDialectError(c, state.inboundDialect, status, d.exhaustedMessage(state, lastErr, nil))
}

func (d *Dispatcher) exhaustedMessage(state *dispatchState, lastErr *client.ErrorMessage, selectErr error) string {
	if lastErr != nil {
		return lastErr.Error()
	}
	if selectErr != nil {
		return selectErr.Error()
	}
	return fmt.Sprintf("no usable credential for provider %s", state.providerType)
}

// handleUpstreamError classifies the failure, applies the pool action,
// and reports whether another attempt may follow and whether that
// attempt must reuse the same credential.
func (d *Dispatcher) handleUpstreamError(ctx context.Context, state *dispatchState, adapter client.Client, cred *pool.CredentialConfig, errMsg *client.ErrorMessage, attempt int, defaults pool.CooldownDefaults) (bool, bool) {
	observeCtx := risk.ObserveContext{
		ProviderType: state.providerType,
		UUID:         cred.UUID,
		Source:       "dispatch",
		RequestID:    state.requestID,
		Streamed:     state.stream,
		Model:        state.model,
	}
	normalized := d.riskMgr.ObserveError(risk.ErrorInfo{
		StatusCode: errMsg.StatusCode,
		Message:    errMsg.Error(),
	}, observeCtx)

	decision := pool.DecideAccountAction(normalized, pool.AccountIdentity{
		ProviderType: state.providerType,
		UUID:         cred.UUID,
		AuthMethod:   cred.AuthMethod,
	}, attempt, defaults, errMsg.Headers, pool.Hints{})

	credentialID := cred.CredentialID(state.providerType)
	switch {
	case decision.MarkNeedRefresh:
		_ = d.poolMgr.MarkNeedRefresh(state.providerType, cred.UUID)
		if refreshErr := adapter.RefreshCredential(ctx); refreshErr != nil {
			log.Warnf("dispatch: refresh failed for %s: %v", credentialID, refreshErr)
			_ = d.poolMgr.MarkUnhealthyImmediately(state.providerType, cred.UUID, refreshErr.Error())
			decision.ShouldSwitchCredential = true
		} else {
			_ = d.poolMgr.ClearNeedRefresh(state.providerType, cred.UUID)
			_ = d.poolMgr.MarkHealthy(state.providerType, cred.UUID, true)
		}
	case decision.CooldownUntil != nil:
		_ = d.poolMgr.ApplyCooldown(state.providerType, cred.UUID, *decision.CooldownUntil, normalized.Signal == risk.SignalRateLimited)
	case decision.MarkUnhealthyImmediately:
		_ = d.poolMgr.MarkUnhealthyImmediately(state.providerType, cred.UUID, errMsg.Error())
	case decision.MarkUnhealthy:
		_ = d.poolMgr.MarkUnhealthy(state.providerType, cred.UUID, errMsg.Error(), nil)
	}

	d.tracker.Observe(usage.Record{
		ProviderType: state.providerType,
		CredentialID: credentialID,
		Model:        state.model,
	})
	d.report(state, credentialID, errMsg.StatusCode, attempt)

	retry := decision.Retryable && attempt+1 < d.cfg.RequestRetry
	return retry, retry && !decision.ShouldSwitchCredential
}

func (d *Dispatcher) observeSuccess(state *dispatchState, cred *pool.CredentialConfig, inputTokens, outputTokens int64, attempt int) {
	credentialID := cred.CredentialID(state.providerType)
	d.riskMgr.ObserveSuccess(risk.ObserveContext{
		ProviderType: state.providerType,
		UUID:         cred.UUID,
		Source:       "dispatch",
		RequestID:    state.requestID,
		Streamed:     state.stream,
		Model:        state.model,
	})
	if cred.IdentityProfileID != "" {
		d.riskMgr.ObserveIdentityClaim(risk.ObserveContext{
			ProviderType:      state.providerType,
			UUID:              cred.UUID,
			Source:            "dispatch",
			IdentityProfileID: cred.IdentityProfileID,
		})
	}
	d.tracker.Observe(usage.Record{
		ProviderType: state.providerType,
		CredentialID: credentialID,
		Model:        state.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Success:      true,
	})
	d.report(state, credentialID, http.StatusOK, attempt)
}

func (d *Dispatcher) report(state *dispatchState, credentialID string, status, attempt int) {
	d.reporter.Report(telemetry.Summary{
		RequestID:    state.requestID,
		Endpoint:     state.endpoint,
		ProviderType: state.providerType,
		CredentialID: credentialID,
		Model:        state.model,
		Streamed:     state.stream,
		StatusCode:   status,
		DurationMs:   time.Since(state.started).Milliseconds(),
		Retries:      attempt,
	})
}

// runUnary performs one unary upstream call and writes the converted
// response.
func (d *Dispatcher) runUnary(c *gin.Context, state *dispatchState, strat strategy.Strategy, adapter client.Client, cred *pool.CredentialConfig) *client.ErrorMessage {
	response, errMsg := adapter.GenerateContent(c.Request.Context(), state.model, state.body)
	if errMsg != nil {
		return errMsg
	}

	var param any
	converted := translator.ResponseNonStream(state.inboundDialect, state.dialect, c.Request.Context(), state.model, state.originalBody, state.body, response, &param)
	d.promptLog.LogOutput(strat.ExtractResponseText([]byte(converted)))

	inputTokens, outputTokens := usageFromPayload([]byte(converted))
	d.observeSuccess(state, cred, inputTokens, outputTokens, 0)

	c.Data(http.StatusOK, "application/json", []byte(converted))
	return nil
}

// runStream performs one streaming upstream call, converting each bare
// upstream payload into framed SSE chunks for the client dialect.
//
// An error before the first delivered chunk is returned for the retry
// loop; after bytes have been flushed the stream is terminated in place.
func (d *Dispatcher) runStream(c *gin.Context, state *dispatchState, adapter client.Client, cred *pool.CredentialConfig) *client.ErrorMessage {
	ctx := c.Request.Context()
	dataChan, errChan := adapter.GenerateContentStream(ctx, state.model, state.body)

	needConvert := translator.NeedConvert(state.inboundDialect, state.dialect)
	wroteHeader := false
	var param any
	var inputTokens, outputTokens int64

	writeChunk := func(chunk string) {
		if !wroteHeader {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		_, _ = c.Writer.WriteString(chunk)
		c.Writer.Flush()
	}

	for payload := range dataChan {
		if in, out, ok := usageFromChunk(payload); ok {
			inputTokens, outputTokens = in, out
		}
		if needConvert {
			for _, chunk := range translator.Response(state.inboundDialect, state.dialect, ctx, state.model, state.originalBody, state.body, payload, &param) {
				writeChunk(chunk)
			}
			continue
		}
		writeChunk(frameSSE(state.inboundDialect, payload))
	}

	if errMsg := <-errChan; errMsg != nil {
		if !wroteHeader {
			return errMsg
		}
		// Mid-stream failure: the status line is gone, end the stream.
		log.Warnf("dispatch: stream aborted for %s: %v", state.model, errMsg.Err)
		writeChunk(frameSSE(state.inboundDialect, []byte(fmt.Sprintf(`{"type":"error","error":{"message":%q}}`, errMsg.Error()))))
		d.handleUpstreamError(ctx, state, adapter, cred, errMsg, d.cfg.RequestRetry, pool.CooldownDefaults{
			Quota:     time.Duration(d.cfg.Cooldown.QuotaMs) * time.Millisecond,
			RateLimit: time.Duration(d.cfg.Cooldown.RateLimitMs) * time.Millisecond,
		})
		return nil
	}
	if !wroteHeader {
		// Upstream produced nothing at all.
		return &client.ErrorMessage{StatusCode: http.StatusBadGateway, Err: fmt.Errorf("upstream closed the stream without data")}
	}

	d.promptLog.LogOutput("stream completed for " + state.model)
	d.observeSuccess(state, cred, inputTokens, outputTokens, 0)
	return nil
}

// frameSSE wraps one bare payload in the SSE framing the client dialect
// expects. Claude and Responses clients get an event: line; OpenAI and
// Gemini clients get a plain data: line.
func frameSSE(dialect string, payload []byte) string {
	text := string(payload)
	if text == "[DONE]" {
		return "data: [DONE]\n\n"
	}
	switch dialect {
	case constant.Claude, constant.OpenAIResponses:
		eventType := gjson.GetBytes(payload, "type").String()
		if eventType != "" {
			return "event: " + eventType + "\ndata: " + text + "\n\n"
		}
	}
	return "data: " + text + "\n\n"
}

// usageFromChunk pulls token counts out of a streamed payload when the
// chunk carries them.
func usageFromChunk(payload []byte) (int64, int64, bool) {
	root := gjson.ParseBytes(payload)
	if usageNode := root.Get("usage"); usageNode.Exists() {
		in, out := usageTokens(usageNode)
		return in, out, in > 0 || out > 0
	}
	if usageNode := root.Get("usageMetadata"); usageNode.Exists() {
		return usageNode.Get("promptTokenCount").Int(), usageNode.Get("candidatesTokenCount").Int(), true
	}
	return 0, 0, false
}

// usageFromPayload pulls token counts out of a unary response.
func usageFromPayload(payload []byte) (int64, int64) {
	root := gjson.ParseBytes(payload)
	if usageNode := root.Get("usage"); usageNode.Exists() {
		return usageTokens(usageNode)
	}
	if usageNode := root.Get("usageMetadata"); usageNode.Exists() {
		return usageNode.Get("promptTokenCount").Int(), usageNode.Get("candidatesTokenCount").Int()
	}
	return 0, 0
}

func usageTokens(usageNode gjson.Result) (int64, int64) {
	in := usageNode.Get("input_tokens").Int()
	if in == 0 {
		in = usageNode.Get("prompt_tokens").Int()
	}
	out := usageNode.Get("output_tokens").Int()
	if out == 0 {
		out = usageNode.Get("completion_tokens").Int()
	}
	return in, out
}

// writeDialectError writes an error body in the client dialect's native
// error shape.
func writeDialectError(c *gin.Context, dialect string, status int, message string) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	switch dialect {
	case constant.Claude:
		c.JSON(status, gin.H{
			"type":  "error",
			"error": gin.H{"type": claudeErrorType(status), "message": message},
		})
	case constant.Gemini:
		c.JSON(status, gin.H{
			"error": gin.H{"code": status, "message": message, "status": googleStatus(status)},
		})
	default:
		c.JSON(status, gin.H{
			"error": gin.H{"message": message, "type": "api_error", "code": status},
		})
	}
}

func claudeErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func googleStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}
