// Package claude converts between the Claude Messages dialect and the
// Gemini GenerateContent dialect. Requests flow Claude -> Gemini,
// responses flow Gemini -> Claude SSE events.
package claude

import (
	"encoding/json"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertClaudeRequestToGemini transforms a Claude Messages request
// into a Gemini GenerateContent request: the system field becomes
// systemInstruction, tool_use blocks become functionCall parts and
// tool_result blocks become functionResponse parts. Gemini pairs tool
// results by function name, recovered from the originating tool_use id.
func ConvertClaudeRequestToGemini(modelName string, rawJSON []byte, stream bool) []byte {
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
	if stopSequences := root.Get("stop_sequences"); stopSequences.IsArray() {
		var stops []string
		stopSequences.ForEach(func(_, value gjson.Result) bool {
			stops = append(stops, value.String())
			return true
		})
		if len(stops) > 0 {
			genConfig["stopSequences"] = stops
		}
	}
	if len(genConfig) > 0 {
		out, _ = sjson.Set(out, "generationConfig", genConfig)
	}

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
			out, _ = sjson.Set(out, "systemInstruction", map[string]interface{}{
				"parts": []interface{}{map[string]interface{}{"text": systemText}},
			})
		}
	}

	// Recover the function name behind each tool_use id so tool_result
	// blocks can be expressed as functionResponse parts.
	toolNameByID := map[string]string{}

	var contents []interface{}
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		if role == "assistant" {
			role = "model"
		} else {
			role = "user"
		}

		var parts []interface{}
		content := message.Get("content")

		if content.Type == gjson.String {
			if content.String() != "" {
				parts = append(parts, map[string]interface{}{"text": content.String()})
			}
		} else if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				switch block.Get("type").String() {
				case "text":
					parts = append(parts, map[string]interface{}{"text": block.Get("text").String()})

				case "image":
					if source := block.Get("source"); source.Get("type").String() == "base64" {
						parts = append(parts, map[string]interface{}{
							"inlineData": map[string]interface{}{
								"mimeType": source.Get("media_type").String(),
								"data":     source.Get("data").String(),
							},
						})
					}

				case "tool_use":
					name := block.Get("name").String()
					toolNameByID[block.Get("id").String()] = name
					args := map[string]interface{}{}
					if input := block.Get("input"); input.Exists() {
						if m, ok := input.Value().(map[string]interface{}); ok {
							args = m
						}
					}
					parts = append(parts, map[string]interface{}{
						"functionCall": map[string]interface{}{"name": name, "args": args},
					})

				case "tool_result":
					name := toolNameByID[block.Get("tool_use_id").String()]
					resultContent := block.Get("content")
					var response interface{}
					if resultContent.Type == gjson.String {
						response = map[string]interface{}{"result": resultContent.String()}
					} else {
						response = resultContent.Value()
					}
					parts = append(parts, map[string]interface{}{
						"functionResponse": map[string]interface{}{"name": name, "response": response},
					})
				}
				return true
			})
		}

		if len(parts) > 0 {
			contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
		}
		return true
	})

	if len(contents) > 0 {
		contentsJSON, _ := json.Marshal(contents)
		out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	}

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		var declarations []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			decl := map[string]interface{}{
				"name":        tool.Get("name").String(),
				"description": tool.Get("description").String(),
			}
			if schema := tool.Get("input_schema"); schema.Exists() {
				sanitized := util.SanitizeSchemaForGemini(schema.Raw)
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
		switch toolChoice.Get("type").String() {
		case "auto":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "AUTO")
		case "any":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		case "tool":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.allowedFunctionNames", []string{toolChoice.Get("name").String()})
		}
	}

	return []byte(out)
}
