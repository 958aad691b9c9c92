// Package responses converts between the OpenAI Responses dialect and
// the OpenAI Chat Completions dialect. Requests flow Responses -> Chat
// Completions, responses flow Chat Completions -> Responses SSE events.
package responses

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertOpenAIResponsesRequestToOpenAI transforms an OpenAI Responses
// request into a Chat Completions request: instructions become a
// system message, input items become messages, function_call and
// function_call_output items become tool_calls and tool messages.
func ConvertOpenAIResponsesRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", modelName)

	if maxTokens := root.Get("max_output_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	messagesJSON := "[]"

	if instructions := root.Get("instructions"); instructions.Type == gjson.String && instructions.String() != "" {
		systemMsg := `{"role":"system","content":""}`
		systemMsg, _ = sjson.Set(systemMsg, "content", instructions.String())
		messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", systemMsg)
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		msg := `{"role":"user","content":""}`
		msg, _ = sjson.Set(msg, "content", input.String())
		messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)
	} else if input.IsArray() {
		input.ForEach(func(_, item gjson.Result) bool {
			switch item.Get("type").String() {
			case "", "message":
				role := item.Get("role").String()
				if role == "" {
					role = "user"
				}
				var text strings.Builder
				content := item.Get("content")
				if content.Type == gjson.String {
					text.WriteString(content.String())
				} else if content.IsArray() {
					content.ForEach(func(_, part gjson.Result) bool {
						switch part.Get("type").String() {
						case "input_text", "output_text", "text":
							text.WriteString(part.Get("text").String())
						}
						return true
					})
				}
				if text.Len() > 0 {
					msg := `{"role":"","content":""}`
					msg, _ = sjson.Set(msg, "role", role)
					msg, _ = sjson.Set(msg, "content", text.String())
					messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)
				}

			case "function_call":
				arguments := item.Get("arguments").String()
				if arguments == "" {
					arguments = "{}"
				}
				msg := `{"role":"assistant","content":"","tool_calls":[{"id":"","type":"function","function":{"name":"","arguments":""}}]}`
				msg, _ = sjson.Set(msg, "tool_calls.0.id", item.Get("call_id").String())
				msg, _ = sjson.Set(msg, "tool_calls.0.function.name", item.Get("name").String())
				msg, _ = sjson.Set(msg, "tool_calls.0.function.arguments", arguments)
				messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)

			case "function_call_output":
				msg := `{"role":"tool","tool_call_id":"","content":""}`
				msg, _ = sjson.Set(msg, "tool_call_id", item.Get("call_id").String())
				msg, _ = sjson.Set(msg, "content", item.Get("output").String())
				messagesJSON, _ = sjson.SetRaw(messagesJSON, "-1", msg)
			}
			return true
		})
	}

	out, _ = sjson.SetRaw(out, "messages", messagesJSON)

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		toolsJSON := "[]"
		tools.ForEach(func(_, tool gjson.Result) bool {
			openAITool := `{"type":"function","function":{"name":"","description":""}}`
			openAITool, _ = sjson.Set(openAITool, "function.name", tool.Get("name").String())
			openAITool, _ = sjson.Set(openAITool, "function.description", tool.Get("description").String())
			if params := tool.Get("parameters"); params.Exists() {
				openAITool, _ = sjson.SetRaw(openAITool, "function.parameters", params.Raw)
			}
			toolsJSON, _ = sjson.SetRaw(toolsJSON, "-1", openAITool)
			return true
		})
		out, _ = sjson.SetRaw(out, "tools", toolsJSON)
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		switch toolChoice.Type {
		case gjson.String:
			out, _ = sjson.Set(out, "tool_choice", toolChoice.String())
		case gjson.JSON:
			if toolChoice.Get("type").String() == "function" {
				choiceJSON := `{"type":"function","function":{"name":""}}`
				choiceJSON, _ = sjson.Set(choiceJSON, "function.name", toolChoice.Get("name").String())
				out, _ = sjson.SetRaw(out, "tool_choice", choiceJSON)
			}
		default:
		}
	}

	return []byte(out)
}
