package openai

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeToOpenAIState carries per-stream conversion state.
type claudeToOpenAIState struct {
	ResponseID   string
	CreatedAt    int64
	FinishReason string
	ToolArgs     map[int]*toolCallAccumulator
}

// toolCallAccumulator buffers a tool call until its input JSON is complete.
type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

// ConvertClaudeResponseToOpenAI converts one Claude streaming event
// into OpenAI chat.completion.chunk frames. Tool calls are buffered
// until content_block_stop so the emitted chunk carries complete
// arguments; message_stop becomes the [DONE] marker.
func ConvertClaudeResponseToOpenAI(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeToOpenAIState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*claudeToOpenAIState)

	root := gjson.ParseBytes(rawJSON)
	eventType := root.Get("type").String()

	template := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	if model := root.Get("model"); model.Exists() {
		template, _ = sjson.Set(template, "model", model.String())
	}
	template, _ = sjson.Set(template, "id", state.ResponseID)
	template, _ = sjson.Set(template, "created", state.CreatedAt)

	switch eventType {
	case "message_start":
		message := root.Get("message")
		state.ResponseID = message.Get("id").String()
		state.CreatedAt = time.Now().Unix()

		template, _ = sjson.Set(template, "id", state.ResponseID)
		template, _ = sjson.Set(template, "created", state.CreatedAt)
		template, _ = sjson.Set(template, "model", message.Get("model").String())
		template, _ = sjson.Set(template, "choices.0.delta.role", "assistant")
		return []string{frameOpenAI(template)}

	case "content_block_start":
		contentBlock := root.Get("content_block")
		if contentBlock.Get("type").String() == "tool_use" {
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
			template, _ = sjson.Set(template, "choices.0.delta.content", delta.Get("text").String())
			return []string{frameOpenAI(template)}
		case "input_json_delta":
			index := int(root.Get("index").Int())
			if acc, ok := state.ToolArgs[index]; ok {
				acc.Arguments.WriteString(delta.Get("partial_json").String())
			}
		}
		return nil

	case "content_block_stop":
		index := int(root.Get("index").Int())
		acc, ok := state.ToolArgs[index]
		if !ok {
			return nil
		}
		arguments := acc.Arguments.String()
		if arguments == "" {
			arguments = "{}"
		}
		toolCall := map[string]interface{}{
			"index": index,
			"id":    acc.ID,
			"type":  "function",
			"function": map[string]interface{}{
				"name":      acc.Name,
				"arguments": arguments,
			},
		}
		delete(state.ToolArgs, index)
		template, _ = sjson.Set(template, "choices.0.delta.tool_calls", []interface{}{toolCall})
		return []string{frameOpenAI(template)}

	case "message_delta":
		if stopReason := root.Get("delta.stop_reason"); stopReason.Exists() {
			state.FinishReason = mapClaudeStopReasonToOpenAI(stopReason.String())
			template, _ = sjson.Set(template, "choices.0.finish_reason", state.FinishReason)
		}
		if usage := root.Get("usage"); usage.Exists() {
			inputTokens := usage.Get("input_tokens").Int()
			outputTokens := usage.Get("output_tokens").Int()
			template, _ = sjson.Set(template, "usage", map[string]interface{}{
				"prompt_tokens":     inputTokens,
				"completion_tokens": outputTokens,
				"total_tokens":      inputTokens + outputTokens,
			})
		}
		return []string{frameOpenAI(template)}

	case "message_stop":
		return []string{"data: [DONE]\n\n"}

	case "error":
		errBody := `{"error":{"message":"","type":""}}`
		errBody, _ = sjson.Set(errBody, "error.message", root.Get("error.message").String())
		errBody, _ = sjson.Set(errBody, "error.type", root.Get("error.type").String())
		return []string{frameOpenAI(errBody)}
	}

	// ping and unknown event types produce nothing.
	return nil
}

func frameOpenAI(payload string) string {
	return "data: " + payload + "\n\n"
}

func mapClaudeStopReasonToOpenAI(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		// end_turn, stop_sequence and anything unknown map to stop.
		return "stop"
	}
}

// ConvertClaudeResponseToOpenAINonStream converts a unary Claude
// Messages response into an OpenAI chat.completion response.
func ConvertClaudeResponseToOpenAINonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", root.Get("model").String())

	var textParts []string
	var reasoningParts []string
	var toolCalls []interface{}

	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, block.Get("text").String())
		case "thinking":
			reasoningParts = append(reasoningParts, block.Get("thinking").String())
		case "tool_use":
			arguments := "{}"
			if input := block.Get("input"); input.Exists() {
				arguments = input.Raw
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.Get("name").String(),
					"arguments": arguments,
				},
			})
		}
		return true
	})

	out, _ = sjson.Set(out, "choices.0.message.content", strings.Join(textParts, ""))
	if len(reasoningParts) > 0 {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", strings.Join(reasoningParts, ""))
	}
	if len(toolCalls) > 0 {
		out, _ = sjson.Set(out, "choices.0.message.tool_calls", toolCalls)
	}

	finishReason := mapClaudeStopReasonToOpenAI(root.Get("stop_reason").String())
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason", finishReason)

	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("input_tokens").Int()
		outputTokens := usage.Get("output_tokens").Int()
		out, _ = sjson.Set(out, "usage.prompt_tokens", inputTokens)
		out, _ = sjson.Set(out, "usage.completion_tokens", outputTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", inputTokens+outputTokens)
	}

	return out
}
