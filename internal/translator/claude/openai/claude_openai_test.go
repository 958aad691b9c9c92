package openai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// unframe strips the SSE framing from a single data chunk.
func unframe(t *testing.T, chunk string) gjson.Result {
	t.Helper()
	require.True(t, strings.HasPrefix(chunk, "data: "), "chunk %q not framed", chunk)
	require.True(t, strings.HasSuffix(chunk, "\n\n"))
	return gjson.Parse(strings.TrimSuffix(strings.TrimPrefix(chunk, "data: "), "\n\n"))
}

func TestConvertOpenAIRequestToClaude(t *testing.T) {
	request := `{
		"model": "gpt-4o",
		"max_tokens": 1024,
		"temperature": 0.5,
		"stop": ["END"],
		"messages": [
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "What is the weather in Paris?"}
		],
		"tools": [
			{"type": "function", "function": {"name": "get_weather", "description": "Look up weather", "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}}}
		],
		"tool_choice": "auto"
	}`

	out := gjson.ParseBytes(ConvertOpenAIRequestToClaude("claude-sonnet-4", []byte(request), true))

	assert.Equal(t, "claude-sonnet-4", out.Get("model").String())
	assert.Equal(t, int64(1024), out.Get("max_tokens").Int())
	assert.Equal(t, 0.5, out.Get("temperature").Float())
	assert.Equal(t, "END", out.Get("stop_sequences.0").String())
	assert.True(t, out.Get("stream").Bool())

	assert.Equal(t, "Be terse.", out.Get("system").String())
	require.Equal(t, 1, int(out.Get("messages.#").Int()))
	assert.Equal(t, "user", out.Get("messages.0.role").String())
	assert.Equal(t, "What is the weather in Paris?", out.Get("messages.0.content.0.text").String())

	assert.Equal(t, "get_weather", out.Get("tools.0.name").String())
	assert.Equal(t, "object", out.Get("tools.0.input_schema.type").String())
	assert.Equal(t, "auto", out.Get("tool_choice.type").String())
}

func TestConvertOpenAIRequestToClaudeToolRoundTrip(t *testing.T) {
	request := `{
		"messages": [
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_abc", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_abc", "content": "18C and sunny"}
		]
	}`

	out := gjson.ParseBytes(ConvertOpenAIRequestToClaude("claude-sonnet-4", []byte(request), false))

	assert.Equal(t, "tool_use", out.Get("messages.0.content.0.type").String())
	assert.Equal(t, "call_abc", out.Get("messages.0.content.0.id").String())
	assert.Equal(t, "Paris", out.Get("messages.0.content.0.input.city").String())

	assert.Equal(t, "user", out.Get("messages.1.role").String())
	assert.Equal(t, "tool_result", out.Get("messages.1.content.0.type").String())
	assert.Equal(t, "call_abc", out.Get("messages.1.content.0.tool_use_id").String())
	assert.Equal(t, "18C and sunny", out.Get("messages.1.content.0.content").String())
}

func TestConvertClaudeResponseToOpenAIStream(t *testing.T) {
	var param any
	ctx := context.Background()
	convert := func(payload string) []string {
		return ConvertClaudeResponseToOpenAI(ctx, "", nil, nil, []byte(payload), &param)
	}

	chunks := convert(`{"type":"message_start","message":{"id":"msg_01","model":"claude-sonnet-4","usage":{"input_tokens":10}}}`)
	require.Len(t, chunks, 1)
	first := unframe(t, chunks[0])
	assert.Equal(t, "msg_01", first.Get("id").String())
	assert.Equal(t, "assistant", first.Get("choices.0.delta.role").String())

	assert.Empty(t, convert(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))

	chunks = convert(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking."}}`)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Checking.", unframe(t, chunks[0]).Get("choices.0.delta.content").String())

	assert.Empty(t, convert(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather"}}`))
	assert.Empty(t, convert(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`))
	assert.Empty(t, convert(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`))

	chunks = convert(`{"type":"content_block_stop","index":1}`)
	require.Len(t, chunks, 1)
	toolChunk := unframe(t, chunks[0]).Get("choices.0.delta.tool_calls.0")
	assert.Equal(t, "toolu_01", toolChunk.Get("id").String())
	assert.Equal(t, "get_weather", toolChunk.Get("function.name").String())
	assert.Equal(t, `{"city":"Paris"}`, toolChunk.Get("function.arguments").String())

	chunks = convert(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":10,"output_tokens":25}}`)
	require.Len(t, chunks, 1)
	final := unframe(t, chunks[0])
	assert.Equal(t, "tool_calls", final.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(35), final.Get("usage.total_tokens").Int())

	chunks = convert(`{"type":"message_stop"}`)
	require.Equal(t, []string{"data: [DONE]\n\n"}, chunks)
}

func TestConvertClaudeResponseToOpenAINonStream(t *testing.T) {
	response := `{
		"id": "msg_02",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "text", "text": "It is sunny."},
			{"type": "tool_use", "id": "toolu_02", "name": "get_weather", "input": {"city": "Paris"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`

	out := gjson.Parse(ConvertClaudeResponseToOpenAINonStream(context.Background(), "", nil, nil, []byte(response), nil))

	assert.Equal(t, "msg_02", out.Get("id").String())
	assert.Equal(t, "It is sunny.", out.Get("choices.0.message.content").String())
	assert.Equal(t, "get_weather", out.Get("choices.0.message.tool_calls.0.function.name").String())
	assert.Equal(t, "tool_calls", out.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(19), out.Get("usage.total_tokens").Int())
}

func TestMapClaudeStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapClaudeStopReasonToOpenAI("end_turn"))
	assert.Equal(t, "stop", mapClaudeStopReasonToOpenAI("stop_sequence"))
	assert.Equal(t, "length", mapClaudeStopReasonToOpenAI("max_tokens"))
	assert.Equal(t, "tool_calls", mapClaudeStopReasonToOpenAI("tool_use"))
}
