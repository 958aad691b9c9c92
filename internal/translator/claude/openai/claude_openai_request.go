// Package openai converts between the OpenAI Chat Completions dialect
// and the Claude Messages dialect. Requests flow OpenAI -> Claude,
// responses flow Claude -> OpenAI.
package openai

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// genToolUseID builds Claude-style tool_use identifiers for tool calls
// that arrive without one.
func genToolUseID() string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 24; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b.WriteByte(letters[n.Int64()])
	}
	return "toolu_" + b.String()
}

// ConvertOpenAIRequestToClaude transforms an OpenAI Chat Completions
// request into a Claude Messages request: system messages fold into the
// top-level system field, tool_calls become tool_use blocks, tool role
// messages become tool_result blocks, and data-URL images become
// base64 image sources.
func ConvertOpenAIRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","max_tokens":32000,"messages":[]}`

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

	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			var stopSequences []string
			stop.ForEach(func(_, value gjson.Result) bool {
				stopSequences = append(stopSequences, value.String())
				return true
			})
			if len(stopSequences) > 0 {
				out, _ = sjson.Set(out, "stop_sequences", stopSequences)
			}
		} else {
			out, _ = sjson.Set(out, "stop_sequences", []string{stop.String()})
		}
	}

	out, _ = sjson.Set(out, "stream", stream)

	var claudeMessages []interface{}
	var systemParts []string

	if messages := root.Get("messages"); messages.Exists() && messages.IsArray() {
		messages.ForEach(func(_, message gjson.Result) bool {
			role := message.Get("role").String()
			content := message.Get("content")

			switch role {
			case "system":
				// System messages fold into the top-level system field.
				if content.Type == gjson.String {
					systemParts = append(systemParts, content.String())
				} else if content.IsArray() {
					content.ForEach(func(_, part gjson.Result) bool {
						if part.Get("type").String() == "text" {
							systemParts = append(systemParts, part.Get("text").String())
						}
						return true
					})
				}

			case "user", "assistant":
				msg := map[string]interface{}{
					"role":    role,
					"content": []interface{}{},
				}

				var contentParts []interface{}
				if content.Exists() && content.Type == gjson.String && content.String() != "" {
					contentParts = append(contentParts, map[string]interface{}{
						"type": "text",
						"text": content.String(),
					})
				} else if content.IsArray() {
					content.ForEach(func(_, part gjson.Result) bool {
						switch part.Get("type").String() {
						case "text":
							contentParts = append(contentParts, map[string]interface{}{
								"type": "text",
								"text": part.Get("text").String(),
							})
						case "image_url":
							imageURL := part.Get("image_url.url").String()
							if strings.HasPrefix(imageURL, "data:") {
								pieces := strings.SplitN(imageURL, ",", 2)
								if len(pieces) == 2 {
									mediaType := strings.TrimPrefix(strings.Split(pieces[0], ";")[0], "data:")
									contentParts = append(contentParts, map[string]interface{}{
										"type": "image",
										"source": map[string]interface{}{
											"type":       "base64",
											"media_type": mediaType,
											"data":       pieces[1],
										},
									})
								}
							}
						}
						return true
					})
				}

				if toolCalls := message.Get("tool_calls"); role == "assistant" && toolCalls.IsArray() {
					toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
						if toolCall.Get("type").String() != "function" {
							return true
						}
						toolUseID := toolCall.Get("id").String()
						if toolUseID == "" {
							toolUseID = genToolUseID()
						}
						toolUse := map[string]interface{}{
							"type":  "tool_use",
							"id":    toolUseID,
							"name":  toolCall.Get("function.name").String(),
							"input": map[string]interface{}{},
						}
						if args := toolCall.Get("function.arguments").String(); args != "" {
							var argsMap map[string]interface{}
							if err := json.Unmarshal([]byte(args), &argsMap); err == nil {
								toolUse["input"] = argsMap
							}
						}
						contentParts = append(contentParts, toolUse)
						return true
					})
				}

				msg["content"] = contentParts
				claudeMessages = append(claudeMessages, msg)

			case "tool":
				claudeMessages = append(claudeMessages, map[string]interface{}{
					"role": "user",
					"content": []interface{}{
						map[string]interface{}{
							"type":        "tool_result",
							"tool_use_id": message.Get("tool_call_id").String(),
							"content":     message.Get("content").String(),
						},
					},
				})
			}
			return true
		})
	}

	if len(systemParts) > 0 {
		out, _ = sjson.Set(out, "system", strings.Join(systemParts, "\n"))
	}
	if len(claudeMessages) > 0 {
		messagesJSON, _ := json.Marshal(claudeMessages)
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		var claudeTools []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			if tool.Get("type").String() != "function" {
				return true
			}
			function := tool.Get("function")
			claudeTool := map[string]interface{}{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if parameters := function.Get("parameters"); parameters.Exists() {
				claudeTool["input_schema"] = parameters.Value()
			}
			claudeTools = append(claudeTools, claudeTool)
			return true
		})
		if len(claudeTools) > 0 {
			toolsJSON, _ := json.Marshal(claudeTools)
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		switch toolChoice.Type {
		case gjson.String:
			switch toolChoice.String() {
			case "auto":
				out, _ = sjson.Set(out, "tool_choice", map[string]interface{}{"type": "auto"})
			case "required":
				out, _ = sjson.Set(out, "tool_choice", map[string]interface{}{"type": "any"})
			}
		case gjson.JSON:
			if toolChoice.Get("type").String() == "function" {
				out, _ = sjson.Set(out, "tool_choice", map[string]interface{}{
					"type": "tool",
					"name": toolChoice.Get("function.name").String(),
				})
			}
		default:
		}
	}

	return []byte(out)
}
