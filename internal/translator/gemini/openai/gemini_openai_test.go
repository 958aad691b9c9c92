package openai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func unframe(t *testing.T, chunk string) gjson.Result {
	t.Helper()
	require.True(t, strings.HasPrefix(chunk, "data: "), "chunk %q not framed", chunk)
	return gjson.Parse(strings.TrimSuffix(strings.TrimPrefix(chunk, "data: "), "\n\n"))
}

func TestConvertOpenAIRequestToGemini(t *testing.T) {
	request := `{
		"model": "gemini-2.5-pro",
		"max_tokens": 2048,
		"temperature": 0.2,
		"messages": [
			{"role": "system", "content": "Answer briefly."},
			{"role": "user", "content": "Weather in Paris?"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_w1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_w1", "content": "18C"}
		],
		"tools": [
			{"type": "function", "function": {"name": "get_weather", "parameters": {"type": "object", "additionalProperties": false, "properties": {"city": {"type": "string"}}}}}
		]
	}`

	out := gjson.ParseBytes(ConvertOpenAIRequestToGemini("gemini-2.5-pro", []byte(request), true))

	assert.Equal(t, int64(2048), out.Get("generationConfig.maxOutputTokens").Int())
	assert.Equal(t, "Answer briefly.", out.Get("systemInstruction.parts.0.text").String())

	require.Equal(t, 3, int(out.Get("contents.#").Int()))
	assert.Equal(t, "user", out.Get("contents.0.role").String())
	assert.Equal(t, "Weather in Paris?", out.Get("contents.0.parts.0.text").String())

	assert.Equal(t, "model", out.Get("contents.1.role").String())
	assert.Equal(t, "get_weather", out.Get("contents.1.parts.0.functionCall.name").String())
	assert.Equal(t, "Paris", out.Get("contents.1.parts.0.functionCall.args.city").String())

	// Tool results pair back to the function name through the call id.
	assert.Equal(t, "get_weather", out.Get("contents.2.parts.0.functionResponse.name").String())
	assert.Equal(t, "18C", out.Get("contents.2.parts.0.functionResponse.response.result").String())

	decl := out.Get("tools.0.functionDeclarations.0")
	assert.Equal(t, "get_weather", decl.Get("name").String())
	assert.False(t, decl.Get("parameters.additionalProperties").Exists())
}

func TestConvertGeminiResponseToOpenAIStream(t *testing.T) {
	var param any
	ctx := context.Background()
	convert := func(payload string) []string {
		return ConvertGeminiResponseToOpenAI(ctx, "", nil, nil, []byte(payload), &param)
	}

	chunks := convert(`{"modelVersion":"gemini-2.5-pro","candidates":[{"content":{"parts":[{"text":"It is "}],"role":"model"}}]}`)
	require.Len(t, chunks, 2)
	role := unframe(t, chunks[0])
	assert.Equal(t, "assistant", role.Get("choices.0.delta.role").String())
	assert.True(t, strings.HasPrefix(role.Get("id").String(), "chatcmpl-"))
	assert.Equal(t, "It is ", unframe(t, chunks[1]).Get("choices.0.delta.content").String())

	chunks = convert(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}],"role":"model"}}]}`)
	require.Len(t, chunks, 1)
	toolCall := unframe(t, chunks[0]).Get("choices.0.delta.tool_calls.0")
	assert.Equal(t, "get_weather", toolCall.Get("function.name").String())
	assert.Equal(t, `{"city":"Paris"}`, toolCall.Get("function.arguments").String())

	chunks = convert(`{"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":3,"totalTokenCount":11}}`)
	require.Len(t, chunks, 2)
	final := unframe(t, chunks[0])
	assert.Equal(t, "tool_calls", final.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(11), final.Get("usage.total_tokens").Int())
	assert.Equal(t, "data: [DONE]\n\n", chunks[1])
}

func TestConvertGeminiResponseToOpenAINonStream(t *testing.T) {
	response := `{
		"modelVersion": "gemini-2.5-pro",
		"candidates": [{"content": {"parts": [{"text": "Sunny, "}, {"text": "18C."}], "role": "model"}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 4, "totalTokenCount": 9}
	}`

	out := gjson.Parse(ConvertGeminiResponseToOpenAINonStream(context.Background(), "", nil, nil, []byte(response), nil))

	assert.Equal(t, "gemini-2.5-pro", out.Get("model").String())
	assert.Equal(t, "Sunny, 18C.", out.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", out.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(9), out.Get("usage.total_tokens").Int())
}

func TestMapGeminiFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapGeminiFinishReasonToOpenAI("STOP"))
	assert.Equal(t, "length", mapGeminiFinishReasonToOpenAI("MAX_TOKENS"))
	assert.Equal(t, "content_filter", mapGeminiFinishReasonToOpenAI("SAFETY"))
}
