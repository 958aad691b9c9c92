// Package responses converts between the OpenAI Responses dialect and
// the Gemini GenerateContent dialect. Requests flow Responses ->
// Gemini, responses flow Gemini -> Responses SSE events.
package responses

import (
	"encoding/json"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertOpenAIResponsesRequestToGemini transforms an OpenAI Responses
// request into a Gemini GenerateContent request: instructions become
// systemInstruction, input items become contents, function_call items
// become functionCall parts and function_call_output items become
// functionResponse parts.
func ConvertOpenAIResponsesRequestToGemini(modelName string, rawJSON []byte, stream bool) []byte {
	_ = modelName // the Gemini model travels in the URL path
	_ = stream    // streaming is selected by the URL action

	out := `{"contents":[]}`

	root := gjson.ParseBytes(rawJSON)

	genConfig := map[string]interface{}{}
	if maxTokens := root.Get("max_output_tokens"); maxTokens.Exists() {
		genConfig["maxOutputTokens"] = maxTokens.Int()
	}
	if temp := root.Get("temperature"); temp.Exists() {
		genConfig["temperature"] = temp.Float()
	}
	if topP := root.Get("top_p"); topP.Exists() {
		genConfig["topP"] = topP.Float()
	}
	if len(genConfig) > 0 {
		out, _ = sjson.Set(out, "generationConfig", genConfig)
	}

	if instructions := root.Get("instructions"); instructions.Type == gjson.String && instructions.String() != "" {
		out, _ = sjson.Set(out, "systemInstruction", map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": instructions.String()}},
		})
	}

	// Track function names by call id so outputs can be paired.
	nameByCallID := map[string]string{}

	var contents []interface{}

	input := root.Get("input")
	if input.Type == gjson.String {
		contents = append(contents, map[string]interface{}{
			"role":  "user",
			"parts": []interface{}{map[string]interface{}{"text": input.String()}},
		})
	} else if input.IsArray() {
		input.ForEach(func(_, item gjson.Result) bool {
			switch item.Get("type").String() {
			case "", "message":
				role := "user"
				if item.Get("role").String() == "assistant" {
					role = "model"
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
					contents = append(contents, map[string]interface{}{
						"role":  role,
						"parts": []interface{}{map[string]interface{}{"text": text.String()}},
					})
				}

			case "function_call":
				name := item.Get("name").String()
				nameByCallID[item.Get("call_id").String()] = name

				args := map[string]interface{}{}
				if raw := item.Get("arguments").String(); raw != "" {
					fixed := util.FixJSON(raw)
					var parsed map[string]interface{}
					if err := json.Unmarshal([]byte(fixed), &parsed); err == nil {
						args = parsed
					}
				}
				contents = append(contents, map[string]interface{}{
					"role": "model",
					"parts": []interface{}{
						map[string]interface{}{
							"functionCall": map[string]interface{}{"name": name, "args": args},
						},
					},
				})

			case "function_call_output":
				name := nameByCallID[item.Get("call_id").String()]
				contents = append(contents, map[string]interface{}{
					"role": "user",
					"parts": []interface{}{
						map[string]interface{}{
							"functionResponse": map[string]interface{}{
								"name":     name,
								"response": map[string]interface{}{"result": item.Get("output").String()},
							},
						},
					},
				})
			}
			return true
		})
	}

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
			if params := tool.Get("parameters"); params.Exists() {
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

	if toolChoice := root.Get("tool_choice"); toolChoice.Type == gjson.String {
		switch toolChoice.String() {
		case "none":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "NONE")
		case "auto":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "AUTO")
		case "required":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		}
	}

	return []byte(out)
}
