package gemini

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeToGeminiState carries per-stream conversion state.
type claudeToGeminiState struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
	ToolArgs     map[int]*toolCallAccumulator
}

type toolCallAccumulator struct {
	Name      string
	Arguments strings.Builder
}

// ConvertClaudeResponseToGemini converts one Claude streaming event
// into Gemini streamGenerateContent chunks. Completed tool_use blocks
// become functionCall parts; message_delta carries the finish reason
// and usage metadata in the closing chunk.
func ConvertClaudeResponseToGemini(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeToGeminiState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*claudeToGeminiState)

	root := gjson.ParseBytes(rawJSON)

	template := `{"candidates":[{"content":{"parts":[],"role":"model"},"index":0}]}`
	if state.Model != "" {
		template, _ = sjson.Set(template, "modelVersion", state.Model)
	}

	switch root.Get("type").String() {
	case "message_start":
		message := root.Get("message")
		state.Model = message.Get("model").String()
		state.InputTokens = message.Get("usage.input_tokens").Int()
		return nil

	case "content_block_start":
		contentBlock := root.Get("content_block")
		if contentBlock.Get("type").String() == "tool_use" {
			index := int(root.Get("index").Int())
			state.ToolArgs[index] = &toolCallAccumulator{Name: contentBlock.Get("name").String()}
		}
		return nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			template, _ = sjson.Set(template, "candidates.0.content.parts", []interface{}{
				map[string]interface{}{"text": delta.Get("text").String()},
			})
			return []string{"data: " + template + "\n\n"}
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
		delete(state.ToolArgs, index)
		template, _ = sjson.Set(template, "candidates.0.content.parts", []interface{}{
			map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": acc.Name,
					"args": sanitizeArgs(acc.Arguments.String()),
				},
			},
		})
		return []string{"data: " + template + "\n\n"}

	case "message_delta":
		if stopReason := root.Get("delta.stop_reason"); stopReason.Exists() {
			state.StopReason = stopReason.String()
		}
		if usage := root.Get("usage"); usage.Exists() {
			state.OutputTokens = usage.Get("output_tokens").Int()
		}
		return nil

	case "message_stop":
		template, _ = sjson.Set(template, "candidates.0.finishReason", mapClaudeStopReasonToGemini(state.StopReason))
		template, _ = sjson.Set(template, "usageMetadata", map[string]interface{}{
			"promptTokenCount":     state.InputTokens,
			"candidatesTokenCount": state.OutputTokens,
			"totalTokenCount":      state.InputTokens + state.OutputTokens,
		})
		return []string{"data: " + template + "\n\n"}
	}

	return nil
}

func mapClaudeStopReasonToGemini(reason string) string {
	switch reason {
	case "max_tokens":
		return "MAX_TOKENS"
	default:
		// end_turn, tool_use and stop_sequence all close as STOP.
		return "STOP"
	}
}

// ConvertClaudeResponseToGeminiNonStream converts a unary Claude
// Messages response into a Gemini generateContent response.
func ConvertClaudeResponseToGeminiNonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"candidates":[{"content":{"parts":[],"role":"model"},"finishReason":"STOP","index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", root.Get("model").String())

	var parts []interface{}
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]interface{}{"text": block.Get("text").String()})
		case "tool_use":
			args := map[string]interface{}{}
			if input := block.Get("input"); input.Exists() {
				if m, ok := input.Value().(map[string]interface{}); ok {
					args = m
				}
			}
			parts = append(parts, map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": block.Get("name").String(),
					"args": args,
				},
			})
		}
		return true
	})
	if len(parts) > 0 {
		out, _ = sjson.Set(out, "candidates.0.content.parts", parts)
	}

	out, _ = sjson.Set(out, "candidates.0.finishReason", mapClaudeStopReasonToGemini(root.Get("stop_reason").String()))

	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("input_tokens").Int()
		outputTokens := usage.Get("output_tokens").Int()
		out, _ = sjson.Set(out, "usageMetadata", map[string]interface{}{
			"promptTokenCount":     inputTokens,
			"candidatesTokenCount": outputTokens,
			"totalTokenCount":      inputTokens + outputTokens,
		})
	}

	return out
}
