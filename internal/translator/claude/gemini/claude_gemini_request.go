// Package gemini converts between the Gemini GenerateContent dialect
// and the Claude Messages dialect. Requests flow Gemini -> Claude,
// responses flow Claude -> Gemini.
package gemini

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertGeminiRequestToClaude transforms a Gemini GenerateContent
// request into a Claude Messages request: systemInstruction becomes the
// system field, functionCall parts become tool_use blocks and
// functionResponse parts become tool_result blocks. Tool call pairing
// uses the function name because Gemini carries no call identifiers.
func ConvertGeminiRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","max_tokens":32000,"messages":[]}`

	root := gjson.ParseBytes(rawJSON)

	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if genConfig := root.Get("generationConfig"); genConfig.Exists() {
		if maxTokens := genConfig.Get("maxOutputTokens"); maxTokens.Exists() {
			out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
		}
		if temp := genConfig.Get("temperature"); temp.Exists() {
			out, _ = sjson.Set(out, "temperature", temp.Float())
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
				out, _ = sjson.Set(out, "stop_sequences", stops)
			}
		}
	}

	if instruction := root.Get("systemInstruction"); instruction.Exists() {
		var systemParts []string
		instruction.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				systemParts = append(systemParts, text.String())
			}
			return true
		})
		if len(systemParts) > 0 {
			out, _ = sjson.Set(out, "system", strings.Join(systemParts, "\n"))
		}
	}

	// Pair functionResponse parts with the tool_use id issued for the
	// same function name, in emission order.
	toolUseIDs := map[string][]string{}

	var claudeMessages []interface{}
	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role == "model" {
			role = "assistant"
		} else {
			role = "user"
		}

		var blocks []interface{}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				blocks = append(blocks, map[string]interface{}{
					"type": "text",
					"text": text.String(),
				})
			}
			if functionCall := part.Get("functionCall"); functionCall.Exists() {
				name := functionCall.Get("name").String()
				id := "toolu_" + name + "_" + strconv.Itoa(len(toolUseIDs[name]))
				toolUseIDs[name] = append(toolUseIDs[name], id)

				input := map[string]interface{}{}
				if args := functionCall.Get("args"); args.Exists() {
					if m, ok := args.Value().(map[string]interface{}); ok {
						input = m
					}
				}
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    id,
					"name":  name,
					"input": input,
				})
			}
			if functionResponse := part.Get("functionResponse"); functionResponse.Exists() {
				name := functionResponse.Get("name").String()
				id := ""
				if ids := toolUseIDs[name]; len(ids) > 0 {
					id = ids[0]
					toolUseIDs[name] = ids[1:]
				}
				resultJSON, _ := json.Marshal(functionResponse.Get("response").Value())
				blocks = append(blocks, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": id,
					"content":     string(resultJSON),
				})
			}
			return true
		})

		if len(blocks) > 0 {
			claudeMessages = append(claudeMessages, map[string]interface{}{
				"role":    role,
				"content": blocks,
			})
		}
		return true
	})

	if len(claudeMessages) > 0 {
		messagesJSON, _ := json.Marshal(claudeMessages)
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var claudeTools []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			tool.Get("functionDeclarations").ForEach(func(_, decl gjson.Result) bool {
				claudeTool := map[string]interface{}{
					"name":        decl.Get("name").String(),
					"description": decl.Get("description").String(),
				}
				if params := decl.Get("parameters"); params.Exists() {
					claudeTool["input_schema"] = params.Value()
				}
				claudeTools = append(claudeTools, claudeTool)
				return true
			})
			return true
		})
		if len(claudeTools) > 0 {
			toolsJSON, _ := json.Marshal(claudeTools)
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	if mode := root.Get("toolConfig.functionCallingConfig.mode"); mode.Exists() {
		switch mode.String() {
		case "AUTO":
			out, _ = sjson.Set(out, "tool_choice", map[string]interface{}{"type": "auto"})
		case "ANY":
			out, _ = sjson.Set(out, "tool_choice", map[string]interface{}{"type": "any"})
		}
	}

	return []byte(out)
}

// sanitizeArgs parses possibly sloppy JSON tool arguments into a map.
func sanitizeArgs(raw string) map[string]interface{} {
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
