package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFrameSSE(t *testing.T) {
	assert.Equal(t, "data: [DONE]\n\n", frameSSE(constant.OpenAI, []byte("[DONE]")))
	assert.Equal(t, "data: {\"x\":1}\n\n", frameSSE(constant.OpenAI, []byte(`{"x":1}`)))
	assert.Equal(t, "data: {\"x\":1}\n\n", frameSSE(constant.Gemini, []byte(`{"x":1}`)))
	assert.Equal(t,
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		frameSSE(constant.Claude, []byte(`{"type":"message_start"}`)))
	assert.Equal(t,
		"event: response.created\ndata: {\"type\":\"response.created\"}\n\n",
		frameSSE(constant.OpenAIResponses, []byte(`{"type":"response.created"}`)))
}

func TestUsageExtraction(t *testing.T) {
	in, out := usageFromPayload([]byte(`{"usage":{"input_tokens":3,"output_tokens":7}}`))
	assert.Equal(t, int64(3), in)
	assert.Equal(t, int64(7), out)

	in, out = usageFromPayload([]byte(`{"usage":{"prompt_tokens":11,"completion_tokens":13}}`))
	assert.Equal(t, int64(11), in)
	assert.Equal(t, int64(13), out)

	in, out = usageFromPayload([]byte(`{"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":6}}`))
	assert.Equal(t, int64(5), in)
	assert.Equal(t, int64(6), out)

	_, _, ok := usageFromChunk([]byte(`{"choices":[{"delta":{"content":"x"}}]}`))
	assert.False(t, ok)

	in, out, ok = usageFromChunk([]byte(`{"usage":{"prompt_tokens":1,"completion_tokens":2}}`))
	assert.True(t, ok)
	assert.Equal(t, int64(1), in)
	assert.Equal(t, int64(2), out)
}

func TestWriteDialectErrorShapes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(dialect string, status int) gjson.Result {
		recorder := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(recorder)
		writeDialectError(c, dialect, status, "boom")
		require.Equal(t, status, recorder.Code)
		return gjson.Parse(recorder.Body.String())
	}

	body := run(constant.Claude, http.StatusTooManyRequests)
	assert.Equal(t, "error", body.Get("type").String())
	assert.Equal(t, "rate_limit_error", body.Get("error.type").String())
	assert.Equal(t, "boom", body.Get("error.message").String())

	body = run(constant.Gemini, http.StatusUnauthorized)
	assert.Equal(t, int64(401), body.Get("error.code").Int())
	assert.Equal(t, "UNAUTHENTICATED", body.Get("error.status").String())

	body = run(constant.OpenAI, http.StatusBadGateway)
	assert.Equal(t, "boom", body.Get("error.message").String())
	assert.Equal(t, "api_error", body.Get("error.type").String())
}

func TestSplitModelAction(t *testing.T) {
	model, action := splitModelAction("/gemini-2.5-pro:streamGenerateContent")
	assert.Equal(t, "gemini-2.5-pro", model)
	assert.Equal(t, "streamGenerateContent", action)

	model, action = splitModelAction("/gemini-2.5-flash:generateContent")
	assert.Equal(t, "gemini-2.5-flash", model)
	assert.Equal(t, "generateContent", action)

	model, action = splitModelAction("/gemini-2.5-pro")
	assert.Equal(t, "gemini-2.5-pro", model)
	assert.Equal(t, "", action)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(nil, "nonsense", nil)
	assert.Error(t, err)
}
