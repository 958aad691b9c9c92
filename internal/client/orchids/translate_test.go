package orchids

import (
	"encoding/json"
	"testing"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func feed(t *testing.T, state *translator, messages ...string) [][]byte {
	t.Helper()
	var out [][]byte
	for _, message := range messages {
		events, replies, done := state.handle([]byte(message))
		assert.Empty(t, replies)
		out = append(out, events...)
		if done {
			out = append(out, state.finish()...)
		}
	}
	return out
}

func eventTypes(events [][]byte) []string {
	types := make([]string, 0, len(events))
	for _, payload := range events {
		types = append(types, gjson.GetBytes(payload, "type").String())
	}
	return types
}

func TestToolCallStream(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	events := feed(t, state,
		`{"type":"reasoning.started"}`,
		`{"type":"reasoning.chunk","text":"thinking…"}`,
		`{"type":"reasoning.completed"}`,
		`{"type":"tool-input-start","id":"tool_1","name":"search_files","input":{}}`,
		`{"type":"tool-input-delta","delta":"{\"pattern\":\"foo\"}"}`,
		`{"type":"tool-input-end"}`,
		`{"type":"response_done","usage":{"input":12,"output":34}}`,
	)

	require.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventTypes(events))

	thinking := gjson.ParseBytes(events[0])
	assert.Equal(t, int64(0), thinking.Get("index").Int())
	assert.Equal(t, "thinking", thinking.Get("content_block.type").String())
	assert.Equal(t, "thinking…", gjson.GetBytes(events[1], "delta.thinking").String())

	toolStart := gjson.ParseBytes(events[3])
	assert.Equal(t, int64(1), toolStart.Get("index").Int())
	assert.Equal(t, "tool_use", toolStart.Get("content_block.type").String())
	assert.Equal(t, "tool_1", toolStart.Get("content_block.id").String())
	assert.Equal(t, "search_files", toolStart.Get("content_block.name").String())

	assert.Equal(t, `{"pattern":"foo"}`, gjson.GetBytes(events[4], "delta.partial_json").String())

	final := gjson.ParseBytes(events[6])
	assert.Equal(t, "tool_use", final.Get("delta.stop_reason").String())
	assert.Equal(t, int64(12), final.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(34), final.Get("usage.output_tokens").Int())
}

func TestTextOnlyStream(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	events := feed(t, state,
		`{"type":"output_text_delta","text":"Hello"}`,
		`{"type":"output_text_delta","text":" world"}`,
		`{"type":"finish","reason":"stop"}`,
		`{"type":"response_done","usage":{"input":3,"output":2}}`,
	)

	require.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventTypes(events))

	assert.Equal(t, "text", gjson.GetBytes(events[0], "content_block.type").String())
	assert.Equal(t, "Hello", gjson.GetBytes(events[1], "delta.text").String())
	assert.Equal(t, "end_turn", gjson.GetBytes(events[4], "delta.stop_reason").String())
}

func TestHighLevelEventsSuppressLowLevelEcho(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	events := feed(t, state,
		`{"type":"coding_agent.output_text_delta","text":"Hi"}`,
		`{"type":"output_text_delta","text":"Hi"}`,
		`{"type":"coding_agent.output_text_delta","text":" there"}`,
		`{"type":"coding_agent.end"}`,
	)

	var texts []string
	for _, payload := range events {
		if gjson.GetBytes(payload, "delta.type").String() == "text_delta" {
			texts = append(texts, gjson.GetBytes(payload, "delta.text").String())
		}
	}
	assert.Equal(t, []string{"Hi", " there"}, texts)
	assert.Equal(t, "message_stop", gjson.GetBytes(events[len(events)-1], "type").String())
}

func TestToolInputEndWithoutDeltas(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	events := feed(t, state,
		`{"type":"tool-input-start","id":"tool_1","name":"read","input":{"file_path":"main.go"}}`,
		`{"type":"tool-input-end"}`,
	)

	require.Equal(t, []string{"content_block_start", "content_block_delta", "content_block_stop"}, eventTypes(events))
	var input map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(gjson.GetBytes(events[1], "delta.partial_json").String()), &input))
	assert.Equal(t, "main.go", input["file_path"])
}

func TestEditFileCapture(t *testing.T) {
	state := newTranslator("orchids-agent", []clientTool{{Name: "Edit"}}, newFSExecutor(config.OrchidsConfig{}), false)

	events := feed(t, state,
		`{"type":"edit_file.started","file_path":"pkg/a.go"}`,
		`{"type":"edit_file.chunk","text":"func b"}`,
		`{"type":"edit_file.chunk","text":"() {}"}`,
		`{"type":"edit_file.completed","old_string":"func a() {}"}`,
	)

	require.Equal(t, []string{"content_block_start", "content_block_delta", "content_block_stop"}, eventTypes(events))
	assert.Equal(t, "Edit", gjson.GetBytes(events[0], "content_block.name").String())

	input := gjson.Parse(gjson.GetBytes(events[1], "delta.partial_json").String())
	assert.Equal(t, "pkg/a.go", input.Get("file_path").String())
	assert.Equal(t, "func a() {}", input.Get("old_string").String())
	assert.Equal(t, "func b() {}", input.Get("new_string").String())
}

func TestFsOperationReplyOnly(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	events, replies, done := state.handle([]byte(`{"type":"fs_operation","id":"op_1","operation":"read","args":{"file_path":"x"}}`))
	assert.False(t, done)
	assert.Empty(t, events, "tool_use emission is off by default")
	require.Len(t, replies, 1)

	reply := replies[0].(map[string]interface{})
	assert.Equal(t, "fs_operation_response", reply["type"])
	assert.Equal(t, "op_1", reply["id"])
	assert.Equal(t, true, reply["success"], "acknowledge-only when local execution is disabled")
}

func TestFsOperationEmitsToolUse(t *testing.T) {
	state := newTranslator("orchids-agent", []clientTool{{Name: "Read"}}, newFSExecutor(config.OrchidsConfig{}), true)

	events, replies, _ := state.handle([]byte(`{"type":"fs_operation","id":"op_1","operation":"read","args":{"file_path":"x"}}`))
	require.Len(t, replies, 1)
	require.Equal(t, []string{"content_block_start", "content_block_delta", "content_block_stop"}, eventTypes(events))
	assert.Equal(t, "Read", gjson.GetBytes(events[0], "content_block.name").String())

	final := state.finish()
	assert.Equal(t, "tool_use", gjson.GetBytes(final[0], "delta.stop_reason").String())
}

func TestFinishIsIdempotent(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)
	require.NotEmpty(t, state.finish())
	assert.Empty(t, state.finish())
}

func TestUnaryAggregator(t *testing.T) {
	state := newTranslator("orchids-agent", nil, newFSExecutor(config.OrchidsConfig{}), false)

	agg := newUnaryAggregator("orchids-agent")
	agg.consume(state.messageStart())
	for _, payload := range feed(t, state,
		`{"type":"output_text_delta","text":"done: "}`,
		`{"type":"tool-input-start","id":"tool_9","name":"run_command"}`,
		`{"type":"tool-input-delta","delta":"{\"command\":\"ls\"}"}`,
		`{"type":"tool-input-end"}`,
		`{"type":"response_done","usage":{"input":5,"output":7}}`,
	) {
		agg.consume(payload)
	}

	response := gjson.ParseBytes(agg.response())
	assert.Equal(t, "assistant", response.Get("role").String())
	assert.Equal(t, "tool_use", response.Get("stop_reason").String())
	assert.Equal(t, "done: ", response.Get("content.0.text").String())
	assert.Equal(t, "tool_9", response.Get("content.1.id").String())
	assert.Equal(t, "ls", response.Get("content.1.input.command").String())
	assert.Equal(t, int64(5), response.Get("usage.input_tokens").Int())
}

func TestToolMapperChain(t *testing.T) {
	mapper := newToolMapper([]clientTool{
		{Name: "Grep", Properties: []string{"pattern", "path"}},
		{Name: "Bash", Properties: []string{"command"}},
		{Name: "Write", Properties: []string{"file_path", "content"}},
		{Name: "custom_search", Properties: []string{"pattern", "path"}},
	})

	assert.Equal(t, "Bash", mapper.Map("Bash"), "exact match")
	assert.Equal(t, "Grep", mapper.Map("grep"), "case-insensitive")
	assert.Equal(t, "Write", mapper.Map("fs.operations.write"), "last dotted segment")
	assert.Equal(t, "Grep", mapper.Map("ripgrep"), "alias table")
	assert.Equal(t, "Bash", mapper.Map("run_command"), "alias table")
	assert.Equal(t, "unknowable", mapper.Map("unknowable"), "raw fallback")

	propsOnly := newToolMapper([]clientTool{{Name: "FindInFiles", Properties: []string{"pattern", "path", "max_results"}}})
	assert.Equal(t, "FindInFiles", propsOnly.Map("ripgrep"), "property overlap")
}
