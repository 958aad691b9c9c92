// Package gemini converts between the Gemini GenerateContent dialect
// and the OpenAI Chat Completions dialect. Requests flow Gemini ->
// OpenAI, responses flow OpenAI -> Gemini.
package gemini

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func genToolCallID() string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 24; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b.WriteByte(letters[n.Int64()])
	}
	return "call_" + b.String()
}

// ConvertGeminiRequestToOpenAI transforms a Gemini GenerateContent
// request into an OpenAI Chat Completions request. Gemini carries no
// tool call identifiers, so generated call_ ids pair functionResponse
// parts with the most recent functionCall of the same name.
func ConvertGeminiRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", modelName)

	if genConfig := root.Get("generationConfig"); genConfig.Exists() {
		if temp := genConfig.Get("temperature"); temp.Exists() {
			out, _ = sjson.Set(out, "temperature", temp.Float())
		}
		if maxTokens := genConfig.Get("maxOutputTokens"); maxTokens.Exists() {
			out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
		}
		if topP := genConfig.Get("topP"); topP.Exists() {
			out, _ = sjson.Set(out, "top_p", topP.Float())
		}
		if stopSequences := genConfig.Get("stopSequences"); stopSequences.IsArray() {
			var stops []string
			stopSequences.ForEach(func(_, value gjson.Result) bool {
				stops = append(stops, value.String())
				return true
			})
			if len(stops) > 0 {
				out, _ = sjson.Set(out, "stop", stops)
			}
		}
	}

	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	var openAIMessages []interface{}

	if instruction := root.Get("systemInstruction"); instruction.Exists() {
		var systemParts []string
		instruction.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				systemParts = append(systemParts, text.String())
			}
			return true
		})
		if len(systemParts) > 0 {
			openAIMessages = append(openAIMessages, map[string]interface{}{
				"role":    "system",
				"content": strings.Join(systemParts, "\n"),
			})
		}
	}

	// Pair functionResponse parts with generated tool call ids by name.
	lastCallID := map[string][]string{}

	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role == "model" {
			role = "assistant"
		} else {
			role = "user"
		}

		var textParts []string
		var toolCalls []interface{}

		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				textParts = append(textParts, text.String())
			}

			if functionCall := part.Get("functionCall"); functionCall.Exists() {
				name := functionCall.Get("name").String()
				callID := genToolCallID()
				lastCallID[name] = append(lastCallID[name], callID)

				arguments := "{}"
				if args := functionCall.Get("args"); args.Exists() {
					if raw, err := json.Marshal(args.Value()); err == nil {
						arguments = string(raw)
					}
				}
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   callID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      name,
						"arguments": arguments,
					},
				})
			}

			if functionResponse := part.Get("functionResponse"); functionResponse.Exists() {
				name := functionResponse.Get("name").String()
				callID := ""
				if ids := lastCallID[name]; len(ids) > 0 {
					callID = ids[0]
					lastCallID[name] = ids[1:]
				} else {
					callID = genToolCallID()
				}
				responseJSON, _ := json.Marshal(functionResponse.Get("response").Value())
				openAIMessages = append(openAIMessages, map[string]interface{}{
					"role":         "tool",
					"tool_call_id": callID,
					"content":      string(responseJSON),
				})
			}
			return true
		})

		if len(textParts) > 0 || len(toolCalls) > 0 {
			msg := map[string]interface{}{
				"role":    role,
				"content": strings.Join(textParts, ""),
			}
			if len(toolCalls) > 0 {
				msg["tool_calls"] = toolCalls
			}
			openAIMessages = append(openAIMessages, msg)
		}
		return true
	})

	if len(openAIMessages) > 0 {
		messagesJSON, _ := json.Marshal(openAIMessages)
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var openAITools []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			tool.Get("functionDeclarations").ForEach(func(_, decl gjson.Result) bool {
				openAITool := map[string]interface{}{
					"type": "function",
					"function": map[string]interface{}{
						"name":        decl.Get("name").String(),
						"description": decl.Get("description").String(),
					},
				}
				if params := decl.Get("parameters"); params.Exists() {
					openAITool["function"].(map[string]interface{})["parameters"] = params.Value()
				}
				openAITools = append(openAITools, openAITool)
				return true
			})
			return true
		})
		if len(openAITools) > 0 {
			toolsJSON, _ := json.Marshal(openAITools)
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	if mode := root.Get("toolConfig.functionCallingConfig.mode"); mode.Exists() {
		switch mode.String() {
		case "NONE":
			out, _ = sjson.Set(out, "tool_choice", "none")
		case "AUTO":
			out, _ = sjson.Set(out, "tool_choice", "auto")
		case "ANY":
			out, _ = sjson.Set(out, "tool_choice", "required")
		}
	}

	return []byte(out)
}
