package claude

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
)

// openAIToClaudeState carries per-stream conversion state.
type openAIToClaudeState struct {
	MessageID        string
	Model            string
	TextBlockStarted bool
	FinishReason     string
	BlocksStopped    bool
	MessageDeltaSent bool
	ToolArgs         map[int]*toolCallAccumulator
}

type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
	Started   bool
}

// event marshals a Claude SSE block with its event line.
func event(eventType string, payload interface{}) string {
	data, _ := json.Marshal(payload)
	return "event: " + eventType + "\ndata: " + string(data) + "\n\n"
}

// ConvertOpenAIResponseToClaude converts one OpenAI
// chat.completion.chunk payload into Claude Messages SSE events. Tool
// call arguments are accumulated and flushed as a single
// input_json_delta when the stream finishes, since OpenAI splits them
// arbitrarily. The [DONE] marker closes the stream with message_stop.
func ConvertOpenAIResponseToClaude(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &openAIToClaudeState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*openAIToClaudeState)

	if strings.TrimSpace(string(rawJSON)) == "[DONE]" {
		return convertDone(state)
	}

	root := gjson.ParseBytes(rawJSON)
	var results []string

	if state.MessageID == "" {
		state.MessageID = root.Get("id").String()
	}
	if state.Model == "" {
		state.Model = root.Get("model").String()
	}

	delta := root.Get("choices.0.delta")

	if role := delta.Get("role"); role.String() == "assistant" {
		results = append(results, event("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            state.MessageID,
				"type":          "message",
				"role":          "assistant",
				"model":         state.Model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		if !state.TextBlockStarted {
			state.TextBlockStarted = true
			results = append(results, event("content_block_start", map[string]interface{}{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			}))
		}
		results = append(results, event("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]interface{}{"type": "text_delta", "text": content.String()},
		}))
	}

	if toolCalls := delta.Get("tool_calls"); toolCalls.IsArray() {
		toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
			index := int(toolCall.Get("index").Int())
			acc, ok := state.ToolArgs[index]
			if !ok {
				acc = &toolCallAccumulator{}
				state.ToolArgs[index] = acc
			}
			if id := toolCall.Get("id"); id.Exists() {
				acc.ID = id.String()
			}
			function := toolCall.Get("function")
			if name := function.Get("name"); name.Exists() && name.String() != "" {
				acc.Name = name.String()
			}
			if !acc.Started && acc.Name != "" {
				acc.Started = true
				if state.TextBlockStarted {
					state.TextBlockStarted = false
					results = append(results, event("content_block_stop", map[string]interface{}{
						"type":  "content_block_stop",
						"index": 0,
					}))
				}
				results = append(results, event("content_block_start", map[string]interface{}{
					"type":  "content_block_start",
					"index": index + 1,
					"content_block": map[string]interface{}{
						"type":  "tool_use",
						"id":    acc.ID,
						"name":  acc.Name,
						"input": map[string]interface{}{},
					},
				}))
			}
			if args := function.Get("arguments"); args.String() != "" {
				acc.Arguments.WriteString(args.String())
			}
			return true
		})
	}

	if finishReason := root.Get("choices.0.finish_reason"); finishReason.Exists() && finishReason.String() != "" {
		state.FinishReason = finishReason.String()

		if !state.BlocksStopped {
			if state.TextBlockStarted {
				results = append(results, event("content_block_stop", map[string]interface{}{
					"type":  "content_block_stop",
					"index": 0,
				}))
			}
			for index, acc := range state.ToolArgs {
				if acc.Arguments.Len() > 0 {
					results = append(results, event("content_block_delta", map[string]interface{}{
						"type":  "content_block_delta",
						"index": index + 1,
						"delta": map[string]interface{}{
							"type":         "input_json_delta",
							"partial_json": util.FixJSON(acc.Arguments.String()),
						},
					}))
				}
				results = append(results, event("content_block_stop", map[string]interface{}{
					"type":  "content_block_stop",
					"index": index + 1,
				}))
			}
			state.BlocksStopped = true
		}
	}

	// Usage arrives in a trailing chunk when stream_options requests it.
	if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null && state.FinishReason != "" {
		promptTokens := usage.Get("prompt_tokens")
		completionTokens := usage.Get("completion_tokens")
		if promptTokens.Exists() && completionTokens.Exists() {
			results = append(results, event("message_delta", map[string]interface{}{
				"type": "message_delta",
				"delta": map[string]interface{}{
					"stop_reason":   mapOpenAIFinishReasonToClaude(state.FinishReason),
					"stop_sequence": nil,
				},
				"usage": map[string]interface{}{
					"input_tokens":  promptTokens.Int(),
					"output_tokens": completionTokens.Int(),
				},
			}))
			state.MessageDeltaSent = true
		}
	}

	return results
}

func convertDone(state *openAIToClaudeState) []string {
	var results []string
	if state.FinishReason != "" && !state.MessageDeltaSent {
		results = append(results, event("message_delta", map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{
				"stop_reason":   mapOpenAIFinishReasonToClaude(state.FinishReason),
				"stop_sequence": nil,
			},
		}))
		state.MessageDeltaSent = true
	}
	results = append(results, event("message_stop", map[string]interface{}{"type": "message_stop"}))
	return results
}

func mapOpenAIFinishReasonToClaude(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// ConvertOpenAIResponseToClaudeNonStream converts a unary OpenAI
// chat.completion response into a Claude Messages response.
func ConvertOpenAIResponseToClaudeNonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	response := map[string]interface{}{
		"id":            root.Get("id").String(),
		"type":          "message",
		"role":          "assistant",
		"model":         root.Get("model").String(),
		"content":       []interface{}{},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
	}

	var contentBlocks []interface{}
	hasToolCall := false

	choice := root.Get("choices.0")
	message := choice.Get("message")

	if reasoning := message.Get("reasoning_content"); reasoning.String() != "" {
		contentBlocks = append(contentBlocks, map[string]interface{}{
			"type":     "thinking",
			"thinking": reasoning.String(),
		})
	}
	if content := message.Get("content"); content.String() != "" {
		contentBlocks = append(contentBlocks, map[string]interface{}{
			"type": "text",
			"text": content.String(),
		})
	}

	message.Get("tool_calls").ForEach(func(_, toolCall gjson.Result) bool {
		hasToolCall = true
		toolUse := map[string]interface{}{
			"type":  "tool_use",
			"id":    toolCall.Get("id").String(),
			"name":  toolCall.Get("function.name").String(),
			"input": map[string]interface{}{},
		}
		if args := util.FixJSON(toolCall.Get("function.arguments").String()); args != "" {
			var parsed interface{}
			if err := json.Unmarshal([]byte(args), &parsed); err == nil {
				toolUse["input"] = parsed
			}
		}
		contentBlocks = append(contentBlocks, toolUse)
		return true
	})

	response["content"] = contentBlocks

	if finishReason := choice.Get("finish_reason"); finishReason.Exists() {
		response["stop_reason"] = mapOpenAIFinishReasonToClaude(finishReason.String())
	} else if hasToolCall {
		response["stop_reason"] = "tool_use"
	}

	if usage := root.Get("usage"); usage.Exists() {
		response["usage"] = map[string]interface{}{
			"input_tokens":  usage.Get("prompt_tokens").Int(),
			"output_tokens": usage.Get("completion_tokens").Int(),
		}
	}

	out, _ := json.Marshal(response)
	return string(out)
}
