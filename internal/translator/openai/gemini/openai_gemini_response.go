package gemini

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// openAIToGeminiState carries per-stream conversion state.
type openAIToGeminiState struct {
	Model    string
	ToolArgs map[int]*toolCallAccumulator
}

type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

// ConvertOpenAIResponseToGemini converts one OpenAI
// chat.completion.chunk payload into Gemini streamGenerateContent
// chunks. Tool call deltas are buffered until the finish reason
// arrives, then emitted as functionCall parts; [DONE] produces nothing
// because Gemini streams close on the finishReason chunk.
func ConvertOpenAIResponseToGemini(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &openAIToGeminiState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*openAIToGeminiState)

	if strings.TrimSpace(string(rawJSON)) == "[DONE]" {
		return nil
	}

	root := gjson.ParseBytes(rawJSON)
	if state.Model == "" {
		state.Model = root.Get("model").String()
	}

	template := `{"candidates":[{"content":{"parts":[],"role":"model"},"index":0}]}`
	if state.Model != "" {
		template, _ = sjson.Set(template, "modelVersion", state.Model)
	}

	choices := root.Get("choices")

	// Usage-only trailing chunk.
	if choices.IsArray() && len(choices.Array()) == 0 {
		if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
			out := `{"candidates":[]}`
			if state.Model != "" {
				out, _ = sjson.Set(out, "modelVersion", state.Model)
			}
			out, _ = sjson.Set(out, "usageMetadata", map[string]interface{}{
				"promptTokenCount":     usage.Get("prompt_tokens").Int(),
				"candidatesTokenCount": usage.Get("completion_tokens").Int(),
				"totalTokenCount":      usage.Get("total_tokens").Int(),
			})
			return []string{"data: " + out + "\n\n"}
		}
		return nil
	}

	choice := choices.Get("0")
	delta := choice.Get("delta")
	var results []string

	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		out, _ := sjson.Set(template, "candidates.0.content.parts", []interface{}{
			map[string]interface{}{"text": content.String()},
		})
		results = append(results, "data: "+out+"\n\n")
	}

	if toolCalls := delta.Get("tool_calls"); toolCalls.IsArray() {
		toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
			index := int(toolCall.Get("index").Int())
			acc, ok := state.ToolArgs[index]
			if !ok {
				acc = &toolCallAccumulator{}
				state.ToolArgs[index] = acc
			}
			if id := toolCall.Get("id"); id.String() != "" {
				acc.ID = id.String()
			}
			if name := toolCall.Get("function.name"); name.String() != "" {
				acc.Name = name.String()
			}
			acc.Arguments.WriteString(toolCall.Get("function.arguments").String())
			return true
		})
	}

	if finishReason := choice.Get("finish_reason"); finishReason.Exists() && finishReason.String() != "" {
		out, _ := sjson.Set(template, "candidates.0.finishReason", mapOpenAIFinishReasonToGemini(finishReason.String()))
		if len(state.ToolArgs) > 0 {
			var parts []interface{}
			for _, acc := range state.ToolArgs {
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{
						"name": acc.Name,
						"args": parseArgs(acc.Arguments.String()),
					},
				})
			}
			out, _ = sjson.Set(out, "candidates.0.content.parts", parts)
			state.ToolArgs = make(map[int]*toolCallAccumulator)
		}
		results = append(results, "data: "+out+"\n\n")
	}

	return results
}

func mapOpenAIFinishReasonToGemini(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	default:
		// stop and tool_calls both close as STOP.
		return "STOP"
	}
}

// parseArgs parses tool call arguments into a map, tolerating the
// single-quoted JSON some models emit.
func parseArgs(raw string) map[string]interface{} {
	trimmed := strings.TrimSpace(util.FixJSON(raw))
	if trimmed == "" {
		return map[string]interface{}{}
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}
	return map[string]interface{}{}
}

// ConvertOpenAIResponseToGeminiNonStream converts a unary OpenAI
// chat.completion response into a Gemini generateContent response.
func ConvertOpenAIResponseToGeminiNonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"candidates":[{"content":{"parts":[],"role":"model"},"finishReason":"STOP","index":0}]}`
	if model := root.Get("model"); model.Exists() {
		out, _ = sjson.Set(out, "modelVersion", model.String())
	}

	choice := root.Get("choices.0")
	message := choice.Get("message")

	var parts []interface{}
	if content := message.Get("content"); content.String() != "" {
		parts = append(parts, map[string]interface{}{"text": content.String()})
	}
	message.Get("tool_calls").ForEach(func(_, toolCall gjson.Result) bool {
		if toolCall.Get("type").String() != "function" {
			return true
		}
		parts = append(parts, map[string]interface{}{
			"functionCall": map[string]interface{}{
				"name": toolCall.Get("function.name").String(),
				"args": parseArgs(toolCall.Get("function.arguments").String()),
			},
		})
		return true
	})
	if len(parts) > 0 {
		out, _ = sjson.Set(out, "candidates.0.content.parts", parts)
	}

	if finishReason := choice.Get("finish_reason"); finishReason.Exists() {
		out, _ = sjson.Set(out, "candidates.0.finishReason", mapOpenAIFinishReasonToGemini(finishReason.String()))
	}

	if usage := root.Get("usage"); usage.Exists() {
		out, _ = sjson.Set(out, "usageMetadata", map[string]interface{}{
			"promptTokenCount":     usage.Get("prompt_tokens").Int(),
			"candidatesTokenCount": usage.Get("completion_tokens").Int(),
			"totalTokenCount":      usage.Get("total_tokens").Int(),
		})
	}

	return out
}
