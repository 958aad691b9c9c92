package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// geminiToClaudeState carries per-stream conversion state.
type geminiToClaudeState struct {
	MessageID    string
	Started      bool
	TextStarted  bool
	BlockIndex   int
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

func event(eventType string, payload interface{}) string {
	data, _ := json.Marshal(payload)
	return "event: " + eventType + "\ndata: " + string(data) + "\n\n"
}

// ConvertGeminiResponseToClaude converts one Gemini
// streamGenerateContent chunk into Claude Messages SSE events. Gemini
// delivers functionCall parts whole, so each one becomes a complete
// tool_use block (start, full input_json_delta, stop). The chunk
// carrying finishReason closes the stream with message_delta and
// message_stop.
func ConvertGeminiResponseToClaude(_ context.Context, model string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiToClaudeState{}
	}
	state := (*param).(*geminiToClaudeState)

	root := gjson.ParseBytes(rawJSON)
	var results []string

	if !state.Started {
		state.Started = true
		state.MessageID = "msg_" + uuid.NewString()
		if modelVersion := root.Get("modelVersion"); modelVersion.Exists() {
			model = modelVersion.String()
		}
		results = append(results, event("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            state.MessageID,
				"type":          "message",
				"role":          "assistant",
				"model":         model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			if !state.TextStarted {
				state.TextStarted = true
				results = append(results, event("content_block_start", map[string]interface{}{
					"type":          "content_block_start",
					"index":         state.BlockIndex,
					"content_block": map[string]interface{}{"type": "text", "text": ""},
				}))
			}
			results = append(results, event("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": state.BlockIndex,
				"delta": map[string]interface{}{"type": "text_delta", "text": text.String()},
			}))
		}

		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			if state.TextStarted {
				state.TextStarted = false
				results = append(results, event("content_block_stop", map[string]interface{}{
					"type":  "content_block_stop",
					"index": state.BlockIndex,
				}))
				state.BlockIndex++
			}
			args := "{}"
			if argsResult := functionCall.Get("args"); argsResult.Exists() {
				args = argsResult.Raw
			}
			results = append(results, event("content_block_start", map[string]interface{}{
				"type":  "content_block_start",
				"index": state.BlockIndex,
				"content_block": map[string]interface{}{
					"type":  "tool_use",
					"id":    fmt.Sprintf("toolu_%s", uuid.NewString()[:12]),
					"name":  functionCall.Get("name").String(),
					"input": map[string]interface{}{},
				},
			}))
			results = append(results, event("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": state.BlockIndex,
				"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": args},
			}))
			results = append(results, event("content_block_stop", map[string]interface{}{
				"type":  "content_block_stop",
				"index": state.BlockIndex,
			}))
			state.BlockIndex++
			state.StopReason = "tool_use"
		}
		return true
	})

	if usage := root.Get("usageMetadata"); usage.Exists() {
		state.InputTokens = usage.Get("promptTokenCount").Int()
		state.OutputTokens = usage.Get("candidatesTokenCount").Int()
	}

	if finishReason := root.Get("candidates.0.finishReason"); finishReason.Exists() && finishReason.String() != "" {
		if state.TextStarted {
			state.TextStarted = false
			results = append(results, event("content_block_stop", map[string]interface{}{
				"type":  "content_block_stop",
				"index": state.BlockIndex,
			}))
			state.BlockIndex++
		}
		stopReason := state.StopReason
		if stopReason == "" {
			stopReason = mapGeminiFinishReasonToClaude(finishReason.String())
		}
		results = append(results, event("message_delta", map[string]interface{}{
			"type": "message_delta",
			"delta": map[string]interface{}{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			"usage": map[string]interface{}{
				"input_tokens":  state.InputTokens,
				"output_tokens": state.OutputTokens,
			},
		}))
		results = append(results, event("message_stop", map[string]interface{}{"type": "message_stop"}))
	}

	return results
}

func mapGeminiFinishReasonToClaude(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		// STOP, SAFETY and the rest close as end_turn.
		return "end_turn"
	}
}

// ConvertGeminiResponseToClaudeNonStream converts a unary Gemini
// generateContent response into a Claude Messages response.
func ConvertGeminiResponseToClaudeNonStream(_ context.Context, model string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)
	if modelVersion := root.Get("modelVersion"); modelVersion.Exists() {
		model = modelVersion.String()
	}

	var contentBlocks []interface{}
	hasToolCall := false

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			contentBlocks = append(contentBlocks, map[string]interface{}{
				"type": "text",
				"text": text.String(),
			})
		}
		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			hasToolCall = true
			args := map[string]interface{}{}
			if argsResult := functionCall.Get("args"); argsResult.Exists() {
				if m, ok := argsResult.Value().(map[string]interface{}); ok {
					args = m
				}
			}
			contentBlocks = append(contentBlocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    fmt.Sprintf("toolu_%s", uuid.NewString()[:12]),
				"name":  functionCall.Get("name").String(),
				"input": args,
			})
		}
		return true
	})

	stopReason := mapGeminiFinishReasonToClaude(root.Get("candidates.0.finishReason").String())
	if hasToolCall {
		stopReason = "tool_use"
	}

	response := map[string]interface{}{
		"id":            "msg_" + uuid.NewString(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       contentBlocks,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":  root.Get("usageMetadata.promptTokenCount").Int(),
			"output_tokens": root.Get("usageMetadata.candidatesTokenCount").Int(),
		},
	}

	out, _ := json.Marshal(response)
	return string(out)
}
