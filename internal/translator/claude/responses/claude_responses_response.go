package responses

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeToResponsesState carries per-stream conversion state.
type claudeToResponsesState struct {
	ResponseID   string
	Model        string
	CreatedAt    int64
	OutputIndex  int
	TextBuffer   strings.Builder
	TextStarted  bool
	InputTokens  int64
	OutputTokens int64
	ToolArgs     map[int]*toolCallAccumulator
}

type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

// frameEvent builds one Responses SSE block.
func frameEvent(eventType, payload string) string {
	return "event: " + eventType + "\ndata: " + payload + "\n\n"
}

// ConvertClaudeResponseToOpenAIResponses converts one Claude streaming
// event into OpenAI Responses SSE events. Text deltas map to
// response.output_text.delta; completed tool_use blocks map to
// response.output_item.done function_call items; message_stop closes
// the stream with response.completed.
func ConvertClaudeResponseToOpenAIResponses(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeToResponsesState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*claudeToResponsesState)

	root := gjson.ParseBytes(rawJSON)

	switch root.Get("type").String() {
	case "message_start":
		message := root.Get("message")
		state.ResponseID = message.Get("id").String()
		state.Model = message.Get("model").String()
		state.CreatedAt = time.Now().Unix()
		state.InputTokens = message.Get("usage.input_tokens").Int()

		created := `{"type":"response.created","response":{"id":"","object":"response","created_at":0,"status":"in_progress","model":"","output":[]}}`
		created, _ = sjson.Set(created, "response.id", state.ResponseID)
		created, _ = sjson.Set(created, "response.created_at", state.CreatedAt)
		created, _ = sjson.Set(created, "response.model", state.Model)
		return []string{frameEvent("response.created", created)}

	case "content_block_start":
		contentBlock := root.Get("content_block")
		switch contentBlock.Get("type").String() {
		case "text":
			item := `{"type":"response.output_item.added","output_index":0,"item":{"type":"message","role":"assistant","content":[]}}`
			item, _ = sjson.Set(item, "output_index", state.OutputIndex)
			state.TextStarted = true
			return []string{frameEvent("response.output_item.added", item)}
		case "tool_use":
			index := int(root.Get("index").Int())
			state.ToolArgs[index] = &toolCallAccumulator{
				ID:   contentBlock.Get("id").String(),
				Name: contentBlock.Get("name").String(),
			}
		}
		return nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			text := delta.Get("text").String()
			state.TextBuffer.WriteString(text)
			event := `{"type":"response.output_text.delta","output_index":0,"delta":""}`
			event, _ = sjson.Set(event, "output_index", state.OutputIndex)
			event, _ = sjson.Set(event, "delta", text)
			return []string{frameEvent("response.output_text.delta", event)}
		case "input_json_delta":
			index := int(root.Get("index").Int())
			if acc, ok := state.ToolArgs[index]; ok {
				acc.Arguments.WriteString(delta.Get("partial_json").String())
			}
		}
		return nil

	case "content_block_stop":
		index := int(root.Get("index").Int())
		if acc, ok := state.ToolArgs[index]; ok {
			arguments := acc.Arguments.String()
			if arguments == "" {
				arguments = "{}"
			}
			delete(state.ToolArgs, index)

			item := `{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"","name":"","arguments":""}}`
			item, _ = sjson.Set(item, "output_index", state.OutputIndex)
			item, _ = sjson.Set(item, "item.call_id", acc.ID)
			item, _ = sjson.Set(item, "item.name", acc.Name)
			item, _ = sjson.Set(item, "item.arguments", arguments)
			state.OutputIndex++
			return []string{frameEvent("response.output_item.done", item)}
		}
		if state.TextStarted {
			state.TextStarted = false
			done := `{"type":"response.output_text.done","output_index":0,"text":""}`
			done, _ = sjson.Set(done, "output_index", state.OutputIndex)
			done, _ = sjson.Set(done, "text", state.TextBuffer.String())
			state.OutputIndex++
			return []string{frameEvent("response.output_text.done", done)}
		}
		return nil

	case "message_delta":
		if usage := root.Get("usage"); usage.Exists() {
			if input := usage.Get("input_tokens"); input.Exists() {
				state.InputTokens = input.Int()
			}
			state.OutputTokens = usage.Get("output_tokens").Int()
		}
		return nil

	case "message_stop":
		completed := `{"type":"response.completed","response":{"id":"","object":"response","created_at":0,"status":"completed","model":"","usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}}`
		completed, _ = sjson.Set(completed, "response.id", state.ResponseID)
		completed, _ = sjson.Set(completed, "response.created_at", state.CreatedAt)
		completed, _ = sjson.Set(completed, "response.model", state.Model)
		completed, _ = sjson.Set(completed, "response.usage.input_tokens", state.InputTokens)
		completed, _ = sjson.Set(completed, "response.usage.output_tokens", state.OutputTokens)
		completed, _ = sjson.Set(completed, "response.usage.total_tokens", state.InputTokens+state.OutputTokens)
		return []string{frameEvent("response.completed", completed)}

	case "error":
		event := `{"type":"error","message":"","code":""}`
		event, _ = sjson.Set(event, "message", root.Get("error.message").String())
		event, _ = sjson.Set(event, "code", root.Get("error.type").String())
		return []string{frameEvent("error", event)}
	}

	return nil
}

// ConvertClaudeResponseToOpenAIResponsesNonStream converts a unary
// Claude Messages response into an OpenAI Responses object.
func ConvertClaudeResponseToOpenAIResponsesNonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"response","created_at":0,"status":"completed","model":"","output":[],"usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created_at", time.Now().Unix())
	out, _ = sjson.Set(out, "model", root.Get("model").String())

	var textParts []string
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, block.Get("text").String())
		case "tool_use":
			arguments := "{}"
			if input := block.Get("input"); input.Exists() {
				arguments = input.Raw
			}
			item := `{"type":"function_call","call_id":"","name":"","arguments":""}`
			item, _ = sjson.Set(item, "call_id", block.Get("id").String())
			item, _ = sjson.Set(item, "name", block.Get("name").String())
			item, _ = sjson.Set(item, "arguments", arguments)
			out, _ = sjson.SetRaw(out, "output.-1", item)
		}
		return true
	})

	if len(textParts) > 0 {
		message := `{"type":"message","role":"assistant","content":[{"type":"output_text","text":""}]}`
		message, _ = sjson.Set(message, "content.0.text", strings.Join(textParts, ""))
		out, _ = sjson.SetRaw(out, "output.-1", message)
	}

	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("input_tokens").Int()
		outputTokens := usage.Get("output_tokens").Int()
		out, _ = sjson.Set(out, "usage.input_tokens", inputTokens)
		out, _ = sjson.Set(out, "usage.output_tokens", outputTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", inputTokens+outputTokens)
	}

	return out
}
