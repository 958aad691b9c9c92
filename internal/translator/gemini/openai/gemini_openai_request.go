// Package openai converts between the OpenAI Chat Completions dialect
// and the Gemini GenerateContent dialect. Requests flow OpenAI ->
// Gemini, responses flow Gemini -> OpenAI.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertOpenAIRequestToGemini transforms an OpenAI Chat Completions
// request into a Gemini GenerateContent request: system messages
// become systemInstruction, tool_calls become functionCall parts and
// tool role messages become functionResponse parts. Tool results pair
// by function name, recovered from the tool_call id.
func ConvertOpenAIRequestToGemini(modelName string, rawJSON []byte, stream bool) []byte {
	_ = modelName // the Gemini model travels in the URL path
	_ = stream    // streaming is selected by the URL action

	out := `{"contents":[]}`

	root := gjson.ParseBytes(rawJSON)

	genConfig := map[string]interface{}{}
	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		genConfig["maxOutputTokens"] = maxTokens.Int()
	}
	if temp := root.Get("temperature"); temp.Exists() {
		genConfig["temperature"] = temp.Float()
	}
	if topP := root.Get("top_p"); topP.Exists() {
		genConfig["topP"] = topP.Float()
	}
	if stop := root.Get("stop"); stop.Exists() {
		var stops []string
		if stop.IsArray() {
			stop.ForEach(func(_, value gjson.Result) bool {
				stops = append(stops, value.String())
				return true
			})
		} else {
			stops = append(stops, stop.String())
		}
		genConfig["stopSequences"] = stops
	}
	if len(genConfig) > 0 {
		out, _ = sjson.Set(out, "generationConfig", genConfig)
	}

	toolNameByID := map[string]string{}

	var systemParts []string
	var contents []interface{}

	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")

		switch role {
		case "system":
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
			geminiRole := "user"
			if role == "assistant" {
				geminiRole = "model"
			}

			var parts []interface{}
			if content.Type == gjson.String && content.String() != "" {
				parts = append(parts, map[string]interface{}{"text": content.String()})
			} else if content.IsArray() {
				content.ForEach(func(_, part gjson.Result) bool {
					switch part.Get("type").String() {
					case "text":
						parts = append(parts, map[string]interface{}{"text": part.Get("text").String()})
					case "image_url":
						imageURL := part.Get("image_url.url").String()
						if strings.HasPrefix(imageURL, "data:") {
							pieces := strings.SplitN(imageURL, ",", 2)
							if len(pieces) == 2 {
								mimeType := strings.TrimPrefix(strings.Split(pieces[0], ";")[0], "data:")
								parts = append(parts, map[string]interface{}{
									"inlineData": map[string]interface{}{
										"mimeType": mimeType,
										"data":     pieces[1],
									},
								})
							}
						}
					}
					return true
				})
			}

			message.Get("tool_calls").ForEach(func(_, toolCall gjson.Result) bool {
				if toolCall.Get("type").String() != "function" {
					return true
				}
				name := toolCall.Get("function.name").String()
				toolNameByID[toolCall.Get("id").String()] = name

				args := map[string]interface{}{}
				if raw := toolCall.Get("function.arguments").String(); raw != "" {
					fixed := util.FixJSON(raw)
					var parsed map[string]interface{}
					if err := json.Unmarshal([]byte(fixed), &parsed); err == nil {
						args = parsed
					}
				}
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{"name": name, "args": args},
				})
				return true
			})

			if len(parts) > 0 {
				contents = append(contents, map[string]interface{}{"role": geminiRole, "parts": parts})
			}

		case "tool":
			name := toolNameByID[message.Get("tool_call_id").String()]
			contents = append(contents, map[string]interface{}{
				"role": "user",
				"parts": []interface{}{
					map[string]interface{}{
						"functionResponse": map[string]interface{}{
							"name":     name,
							"response": map[string]interface{}{"result": content.String()},
						},
					},
				},
			})
		}
		return true
	})

	if len(systemParts) > 0 {
		out, _ = sjson.Set(out, "systemInstruction", map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": strings.Join(systemParts, "\n")}},
		})
	}
	if len(contents) > 0 {
		contentsJSON, _ := json.Marshal(contents)
		out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	}

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		var declarations []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			if tool.Get("type").String() != "function" {
				return true
			}
			function := tool.Get("function")
			decl := map[string]interface{}{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if params := function.Get("parameters"); params.Exists() {
				sanitized := util.SanitizeSchemaForGemini(params.Raw)
				decl["parameters"] = gjson.Parse(sanitized).Value()
			}
			declarations = append(declarations, decl)
			return true
		})
		if len(declarations) > 0 {
			out, _ = sjson.Set(out, "tools", []interface{}{
				map[string]interface{}{"functionDeclarations": declarations},
			})
		}
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		switch toolChoice.Type {
		case gjson.String:
			switch toolChoice.String() {
			case "none":
				out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "NONE")
			case "auto":
				out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "AUTO")
			case "required":
				out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
			}
		case gjson.JSON:
			if toolChoice.Get("type").String() == "function" {
				out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
				out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.allowedFunctionNames", []string{toolChoice.Get("function.name").String()})
			}
		default:
		}
	}

	return []byte(out)
}
