package responses

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func parseEvent(t *testing.T, block string) (string, gjson.Result) {
	t.Helper()
	require.True(t, strings.HasSuffix(block, "\n\n"), "block %q not framed", block)
	lines := strings.SplitN(strings.TrimSuffix(block, "\n\n"), "\n", 2)
	require.Len(t, lines, 2)
	return strings.TrimPrefix(lines[0], "event: "), gjson.Parse(strings.TrimPrefix(lines[1], "data: "))
}

func TestConvertOpenAIResponsesRequestToGemini(t *testing.T) {
	request := `{
		"model": "gemini-2.5-pro",
		"instructions": "Answer briefly.",
		"max_output_tokens": 512,
		"input": [
			{"type": "message", "role": "user", "content": [{"type": "input_text", "text": "Weather in Paris?"}]},
			{"type": "function_call", "call_id": "call_w1", "name": "get_weather", "arguments": "{\"city\":\"Paris\"}"},
			{"type": "function_call_output", "call_id": "call_w1", "output": "18C"}
		],
		"tools": [
			{"type": "function", "name": "get_weather", "parameters": {"type": "object", "additionalProperties": false, "properties": {"city": {"type": "string"}}}}
		],
		"tool_choice": "required"
	}`

	out := gjson.ParseBytes(ConvertOpenAIResponsesRequestToGemini("gemini-2.5-pro", []byte(request), true))

	assert.Equal(t, "Answer briefly.", out.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, int64(512), out.Get("generationConfig.maxOutputTokens").Int())

	require.Equal(t, 3, int(out.Get("contents.#").Int()))
	assert.Equal(t, "Weather in Paris?", out.Get("contents.0.parts.0.text").String())
	assert.Equal(t, "model", out.Get("contents.1.role").String())
	assert.Equal(t, "Paris", out.Get("contents.1.parts.0.functionCall.args.city").String())
	assert.Equal(t, "get_weather", out.Get("contents.2.parts.0.functionResponse.name").String())
	assert.Equal(t, "18C", out.Get("contents.2.parts.0.functionResponse.response.result").String())

	assert.False(t, out.Get("tools.0.functionDeclarations.0.parameters.additionalProperties").Exists())
	assert.Equal(t, "ANY", out.Get("toolConfig.functionCallingConfig.mode").String())
}

func TestConvertGeminiResponseToOpenAIResponsesStream(t *testing.T) {
	var param any
	ctx := context.Background()
	convert := func(payload string) []string {
		return ConvertGeminiResponseToOpenAIResponses(ctx, "gemini-2.5-pro", nil, nil, []byte(payload), &param)
	}

	blocks := convert(`{"candidates":[{"content":{"parts":[{"text":"Sunny"}],"role":"model"}}]}`)
	require.Len(t, blocks, 3)
	name, data := parseEvent(t, blocks[0])
	assert.Equal(t, "response.created", name)
	assert.Equal(t, "in_progress", data.Get("response.status").String())
	name, _ = parseEvent(t, blocks[1])
	assert.Equal(t, "response.output_item.added", name)
	name, data = parseEvent(t, blocks[2])
	assert.Equal(t, "response.output_text.delta", name)
	assert.Equal(t, "Sunny", data.Get("delta").String())

	blocks = convert(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}],"role":"model"}}]}`)
	require.Len(t, blocks, 2)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "response.output_text.done", name)
	assert.Equal(t, "Sunny", data.Get("text").String())
	name, data = parseEvent(t, blocks[1])
	assert.Equal(t, "response.output_item.done", name)
	assert.Equal(t, "function_call", data.Get("item.type").String())
	assert.Equal(t, "get_weather", data.Get("item.name").String())
	assert.Equal(t, `{"city":"Paris"}`, data.Get("item.arguments").String())

	blocks = convert(`{"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":9}}`)
	require.Len(t, blocks, 1)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "response.completed", name)
	assert.Equal(t, "completed", data.Get("response.status").String())
	assert.Equal(t, int64(15), data.Get("response.usage.total_tokens").Int())
}

func TestConvertGeminiResponseToOpenAIResponsesNonStream(t *testing.T) {
	response := `{
		"modelVersion": "gemini-2.5-pro",
		"candidates": [{"content": {"parts": [{"text": "18C and sunny."}], "role": "model"}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 6}
	}`

	out := gjson.Parse(ConvertGeminiResponseToOpenAIResponsesNonStream(context.Background(), "", nil, nil, []byte(response), nil))

	assert.Equal(t, "response", out.Get("object").String())
	assert.Equal(t, "gemini-2.5-pro", out.Get("model").String())
	assert.Equal(t, "message", out.Get("output.0.type").String())
	assert.Equal(t, "18C and sunny.", out.Get("output.0.content.0.text").String())
	assert.Equal(t, int64(10), out.Get("usage.total_tokens").Int())
}
