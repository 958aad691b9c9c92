// Package claude converts between the Claude Messages dialect and the
// OpenAI Chat Completions dialect. Requests flow Claude -> OpenAI,
// responses flow OpenAI -> Claude SSE events.
package claude

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertClaudeRequestToOpenAI transforms a Claude Messages request
// into an OpenAI Chat Completions request: the system field becomes a
// leading system message, tool_use blocks become tool_calls and
// tool_result blocks become tool role messages.
func ConvertClaudeRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", modelName)

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}

	if stopSequences := root.Get("stop_sequences"); stopSequences.IsArray() {
		var stops []string
		stopSequences.ForEach(func(_, value gjson.Result) bool {
			stops = append(stops, value.String())
			return true
		})
		if len(stops) == 1 {
			out, _ = sjson.Set(out, "stop", stops[0])
		} else if len(stops) > 1 {
			out, _ = sjson.Set(out, "stop", stops)
		}
	}

	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	messagesJSON := "[]"

	if system := root.Get("system"); system.Exists() {
		var systemText string
		if system.Type == gjson.String {
			systemText = system.String()
		} else if system.IsArray() {
			var parts []string
			system.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					parts = append(parts, block.Get("text").String())
				}
				return true
			})
			systemText = strings.Join(parts, "\n")
		}
		if systemText != "" {
			systemMsg := `{"role":"system","content":""}`
			systemMsg, _ = sjson.Set(systemMsg, "content", systemText)
			messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", systemMsg)
		}
	}

	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")

		if content.Type == gjson.String {
			msg := `{"role":"","content":""}`
			msg, _ = sjson.Set(msg, "role", role)
			msg, _ = sjson.Set(msg, "content", content.String())
			messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)
			return true
		}

		var textParts []string
		var toolCalls []interface{}

		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				textParts = append(textParts, block.Get("text").String())

			case "image":
				if source := block.Get("source"); source.Get("type").String() == "base64" {
					textParts = append(textParts, "[Image: data:"+source.Get("media_type").String()+";base64,"+source.Get("data").String()+"]")
				}

			case "tool_use":
				arguments := "{}"
				if input := block.Get("input"); input.Exists() {
					if raw, err := json.Marshal(input.Value()); err == nil {
						arguments = string(raw)
					}
				}
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   block.Get("id").String(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      block.Get("name").String(),
						"arguments": arguments,
					},
				})

			case "tool_result":
				// Emitted in place to preserve ordering against tool calls.
				toolMsg := `{"role":"tool","tool_call_id":"","content":""}`
				toolMsg, _ = sjson.Set(toolMsg, "tool_call_id", block.Get("tool_use_id").String())
				toolMsg, _ = sjson.Set(toolMsg, "content", block.Get("content").String())
				messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", toolMsg)
			}
			return true
		})

		if len(textParts) > 0 || len(toolCalls) > 0 {
			msg := `{"role":"","content":""}`
			msg, _ = sjson.Set(msg, "role", role)
			msg, _ = sjson.Set(msg, "content", strings.Join(textParts, ""))
			if role == "assistant" && len(toolCalls) > 0 {
				toolCallsJSON, _ := json.Marshal(toolCalls)
				msg, _ = sjson.SetRaw(msg, "tool_calls", string(toolCallsJSON))
			}
			messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)
		}
		return true
	})

	out, _ = sjson.SetRaw(out, "messages", messagesJSON)

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		toolsJSON := "[]"
		tools.ForEach(func(_, tool gjson.Result) bool {
			openAITool := `{"type":"function","function":{"name":"","description":""}}`
			openAITool, _ = sjson.Set(openAITool, "function.name", tool.Get("name").String())
			openAITool, _ = sjson.Set(openAITool, "function.description", tool.Get("description").String())
			if inputSchema := tool.Get("input_schema"); inputSchema.Exists() {
				openAITool, _ = sjson.SetRaw(openAITool, "function.parameters", inputSchema.Raw)
			}
			toolsJSON, _ = sjson.SetRaw(toolsJSON, "-1", openAITool)
			return true
		})
		out, _ = sjson.SetRaw(out, "tools", toolsJSON)
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		switch toolChoice.Get("type").String() {
		case "auto":
			out, _ = sjson.Set(out, "tool_choice", "auto")
		case "any":
			out, _ = sjson.Set(out, "tool_choice", "required")
		case "tool":
			choiceJSON := `{"type":"function","function":{"name":""}}`
			choiceJSON, _ = sjson.Set(choiceJSON, "function.name", toolChoice.Get("name").String())
			out, _ = sjson.SetRaw(out, "tool_choice", choiceJSON)
		}
	}

	return []byte(out)
}
