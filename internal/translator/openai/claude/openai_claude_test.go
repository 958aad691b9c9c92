package claude

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// parseEvent splits one framed Claude SSE block into its event name
// and parsed data payload.
func parseEvent(t *testing.T, block string) (string, gjson.Result) {
	t.Helper()
	require.True(t, strings.HasSuffix(block, "\n\n"), "block %q not framed", block)
	lines := strings.SplitN(strings.TrimSuffix(block, "\n\n"), "\n", 2)
	require.Len(t, lines, 2)
	eventName := strings.TrimPrefix(lines[0], "event: ")
	return eventName, gjson.Parse(strings.TrimPrefix(lines[1], "data: "))
}

func TestConvertOpenAIResponseToClaudeStream(t *testing.T) {
	var param any
	ctx := context.Background()
	convert := func(payload string) []string {
		return ConvertOpenAIResponseToClaude(ctx, "", nil, nil, []byte(payload), &param)
	}

	blocks := convert(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"}}]}`)
	require.Len(t, blocks, 1)
	name, data := parseEvent(t, blocks[0])
	assert.Equal(t, "message_start", name)
	assert.Equal(t, "chatcmpl-1", data.Get("message.id").String())
	assert.Equal(t, "gpt-4o", data.Get("message.model").String())

	blocks = convert(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Let me check."}}]}`)
	require.Len(t, blocks, 2)
	name, _ = parseEvent(t, blocks[0])
	assert.Equal(t, "content_block_start", name)
	name, data = parseEvent(t, blocks[1])
	assert.Equal(t, "content_block_delta", name)
	assert.Equal(t, "Let me check.", data.Get("delta.text").String())

	blocks = convert(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`)
	require.Len(t, blocks, 2)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "content_block_stop", name)
	assert.Equal(t, int64(0), data.Get("index").Int())
	name, data = parseEvent(t, blocks[1])
	assert.Equal(t, "content_block_start", name)
	assert.Equal(t, int64(1), data.Get("index").Int())
	assert.Equal(t, "tool_use", data.Get("content_block.type").String())
	assert.Equal(t, "get_weather", data.Get("content_block.name").String())

	assert.Empty(t, convert(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Paris\"}"}}]}}]}`))

	blocks = convert(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`)
	require.Len(t, blocks, 2)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "content_block_delta", name)
	assert.Equal(t, int64(1), data.Get("index").Int())
	assert.Equal(t, `{"city":"Paris"}`, data.Get("delta.partial_json").String())
	name, data = parseEvent(t, blocks[1])
	assert.Equal(t, "content_block_stop", name)
	assert.Equal(t, int64(1), data.Get("index").Int())

	blocks = convert(`{"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4}}`)
	require.Len(t, blocks, 1)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "message_delta", name)
	assert.Equal(t, "tool_use", data.Get("delta.stop_reason").String())
	assert.Equal(t, int64(9), data.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(4), data.Get("usage.output_tokens").Int())

	blocks = convert(`[DONE]`)
	require.Len(t, blocks, 1)
	name, _ = parseEvent(t, blocks[0])
	assert.Equal(t, "message_stop", name)
}

func TestConvertOpenAIResponseToClaudeStreamTextOnly(t *testing.T) {
	var param any
	ctx := context.Background()
	convert := func(payload string) []string {
		return ConvertOpenAIResponseToClaude(ctx, "", nil, nil, []byte(payload), &param)
	}

	convert(`{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"}}]}`)
	convert(`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{"content":"Hi"}}]}`)

	blocks := convert(`{"id":"chatcmpl-2","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
	require.Len(t, blocks, 1)
	name, data := parseEvent(t, blocks[0])
	assert.Equal(t, "content_block_stop", name)
	assert.Equal(t, int64(0), data.Get("index").Int())

	// Without a usage chunk, the [DONE] marker emits the message_delta.
	blocks = convert(`[DONE]`)
	require.Len(t, blocks, 2)
	name, data = parseEvent(t, blocks[0])
	assert.Equal(t, "message_delta", name)
	assert.Equal(t, "end_turn", data.Get("delta.stop_reason").String())
	name, _ = parseEvent(t, blocks[1])
	assert.Equal(t, "message_stop", name)
}

func TestConvertOpenAIResponseToClaudeNonStream(t *testing.T) {
	response := `{
		"id": "chatcmpl-3",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Sunny.", "tool_calls": [
			{"id": "call_2", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}
		]}, "finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 11, "completion_tokens": 6}
	}`

	out := gjson.Parse(ConvertOpenAIResponseToClaudeNonStream(context.Background(), "", nil, nil, []byte(response), nil))

	assert.Equal(t, "chatcmpl-3", out.Get("id").String())
	assert.Equal(t, "text", out.Get("content.0.type").String())
	assert.Equal(t, "Sunny.", out.Get("content.0.text").String())
	assert.Equal(t, "tool_use", out.Get("content.1.type").String())
	assert.Equal(t, "Paris", out.Get("content.1.input.city").String())
	assert.Equal(t, "tool_use", out.Get("stop_reason").String())
	assert.Equal(t, int64(11), out.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(6), out.Get("usage.output_tokens").Int())
}
