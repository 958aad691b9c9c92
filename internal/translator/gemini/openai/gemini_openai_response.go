package openai

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiToOpenAIState carries per-stream conversion state.
type geminiToOpenAIState struct {
	ResponseID string
	CreatedAt  int64
	RoleSent   bool
	ToolIndex  int
	HasTool    bool
}

// ConvertGeminiResponseToOpenAI converts one Gemini
// streamGenerateContent chunk into OpenAI chat.completion.chunk
// frames. Gemini delivers functionCall parts whole, so each becomes a
// single tool_calls delta. The chunk carrying finishReason also emits
// the [DONE] marker because Gemini has no terminal event of its own.
func ConvertGeminiResponseToOpenAI(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiToOpenAIState{
			ResponseID: "chatcmpl-" + uuid.NewString(),
			CreatedAt:  time.Now().Unix(),
		}
	}
	state := (*param).(*geminiToOpenAIState)

	root := gjson.ParseBytes(rawJSON)

	template := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	template, _ = sjson.Set(template, "id", state.ResponseID)
	template, _ = sjson.Set(template, "created", state.CreatedAt)
	template, _ = sjson.Set(template, "model", root.Get("modelVersion").String())

	var results []string

	if !state.RoleSent {
		state.RoleSent = true
		first, _ := sjson.Set(template, "choices.0.delta.role", "assistant")
		results = append(results, "data: "+first+"\n\n")
	}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && text.String() != "" {
			chunk, _ := sjson.Set(template, "choices.0.delta.content", text.String())
			results = append(results, "data: "+chunk+"\n\n")
		}
		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			state.HasTool = true
			arguments := "{}"
			if args := functionCall.Get("args"); args.Exists() {
				arguments = args.Raw
			}
			toolCall := map[string]interface{}{
				"index": state.ToolIndex,
				"id":    "call_" + uuid.NewString()[:24],
				"type":  "function",
				"function": map[string]interface{}{
					"name":      functionCall.Get("name").String(),
					"arguments": arguments,
				},
			}
			state.ToolIndex++
			chunk, _ := sjson.Set(template, "choices.0.delta.tool_calls", []interface{}{toolCall})
			results = append(results, "data: "+chunk+"\n\n")
		}
		return true
	})

	if finishReason := root.Get("candidates.0.finishReason"); finishReason.Exists() && finishReason.String() != "" {
		reason := mapGeminiFinishReasonToOpenAI(finishReason.String())
		if state.HasTool {
			reason = "tool_calls"
		}
		final, _ := sjson.Set(template, "choices.0.finish_reason", reason)
		if usage := root.Get("usageMetadata"); usage.Exists() {
			final, _ = sjson.Set(final, "usage", map[string]interface{}{
				"prompt_tokens":     usage.Get("promptTokenCount").Int(),
				"completion_tokens": usage.Get("candidatesTokenCount").Int(),
				"total_tokens":      usage.Get("totalTokenCount").Int(),
			})
		}
		results = append(results, "data: "+final+"\n\n")
		results = append(results, "data: [DONE]\n\n")
	}

	return results
}

func mapGeminiFinishReasonToOpenAI(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	default:
		return "stop"
	}
}

// ConvertGeminiResponseToOpenAINonStream converts a unary Gemini
// generateContent response into an OpenAI chat.completion response.
func ConvertGeminiResponseToOpenAINonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", root.Get("modelVersion").String())

	var textParts []string
	var toolCalls []interface{}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			textParts = append(textParts, text.String())
		}
		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			arguments := "{}"
			if args := functionCall.Get("args"); args.Exists() {
				arguments = args.Raw
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   "call_" + uuid.NewString()[:24],
				"type": "function",
				"function": map[string]interface{}{
					"name":      functionCall.Get("name").String(),
					"arguments": arguments,
				},
			})
		}
		return true
	})

	out, _ = sjson.Set(out, "choices.0.message.content", strings.Join(textParts, ""))
	if len(toolCalls) > 0 {
		out, _ = sjson.Set(out, "choices.0.message.tool_calls", toolCalls)
		out, _ = sjson.Set(out, "choices.0.finish_reason", "tool_calls")
	} else {
		out, _ = sjson.Set(out, "choices.0.finish_reason", mapGeminiFinishReasonToOpenAI(root.Get("candidates.0.finishReason").String()))
	}

	if usage := root.Get("usageMetadata"); usage.Exists() {
		out, _ = sjson.Set(out, "usage.prompt_tokens", usage.Get("promptTokenCount").Int())
		out, _ = sjson.Set(out, "usage.completion_tokens", usage.Get("candidatesTokenCount").Int())
		out, _ = sjson.Set(out, "usage.total_tokens", usage.Get("totalTokenCount").Int())
	}

	return out
}
