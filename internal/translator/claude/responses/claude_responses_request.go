// Package responses converts between the OpenAI Responses dialect and
// the Claude Messages dialect. Requests flow Responses -> Claude,
// responses flow Claude -> Responses SSE events.
package responses

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func genToolUseID() string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 24; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b.WriteByte(letters[n.Int64()])
	}
	return "toolu_" + b.String()
}

// ConvertOpenAIResponsesRequestToClaude transforms an OpenAI Responses
// request into a Claude Messages request: instructions become the
// system field, input items become messages, function_call items
// become tool_use blocks and function_call_output items become
// tool_result blocks.
func ConvertOpenAIResponsesRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	out := `{"model":"","max_tokens":32000,"messages":[]}`

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

	// Reasoning effort maps onto Claude's thinking budget.
	if effort := root.Get("reasoning.effort"); effort.Exists() {
		switch effort.String() {
		case "none":
			out, _ = sjson.Set(out, "thinking.type", "disabled")
		case "minimal":
			out, _ = sjson.Set(out, "thinking.type", "enabled")
			out, _ = sjson.Set(out, "thinking.budget_tokens", 1024)
		case "low":
			out, _ = sjson.Set(out, "thinking.type", "enabled")
			out, _ = sjson.Set(out, "thinking.budget_tokens", 4096)
		case "medium":
			out, _ = sjson.Set(out, "thinking.type", "enabled")
			out, _ = sjson.Set(out, "thinking.budget_tokens", 8192)
		case "high":
			out, _ = sjson.Set(out, "thinking.type", "enabled")
			out, _ = sjson.Set(out, "thinking.budget_tokens", 24576)
		}
	}

	if instructions := root.Get("instructions"); instructions.Type == gjson.String && instructions.String() != "" {
		out, _ = sjson.Set(out, "system", instructions.String())
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		msg := `{"role":"user","content":""}`
		msg, _ = sjson.Set(msg, "content", input.String())
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	} else if input.IsArray() {
		input.ForEach(func(_, item gjson.Result) bool {
			switch item.Get("type").String() {
			case "", "message":
				role := item.Get("role").String()
				if role != "assistant" {
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
					out, _ = sjson.SetRaw(out, "messages.-1", msg)
				}

			case "function_call":
				callID := item.Get("call_id").String()
				if callID == "" {
					callID = genToolUseID()
				}
				toolUse := `{"type":"tool_use","id":"","name":"","input":{}}`
				toolUse, _ = sjson.Set(toolUse, "id", callID)
				toolUse, _ = sjson.Set(toolUse, "name", item.Get("name").String())
				if args := item.Get("arguments").String(); args != "" && gjson.Valid(args) {
					toolUse, _ = sjson.SetRaw(toolUse, "input", args)
				}
				msg := `{"role":"assistant","content":[]}`
				msg, _ = sjson.SetRaw(msg, "content.-1", toolUse)
				out, _ = sjson.SetRaw(out, "messages.-1", msg)

			case "function_call_output":
				toolResult := `{"type":"tool_result","tool_use_id":"","content":""}`
				toolResult, _ = sjson.Set(toolResult, "tool_use_id", item.Get("call_id").String())
				toolResult, _ = sjson.Set(toolResult, "content", item.Get("output").String())
				msg := `{"role":"user","content":[]}`
				msg, _ = sjson.SetRaw(msg, "content.-1", toolResult)
				out, _ = sjson.SetRaw(out, "messages.-1", msg)
			}
			return true
		})
	}

	// Responses tools carry name/parameters at top level.
	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		toolsJSON := "[]"
		tools.ForEach(func(_, tool gjson.Result) bool {
			claudeTool := `{"name":"","description":"","input_schema":{}}`
			claudeTool, _ = sjson.Set(claudeTool, "name", tool.Get("name").String())
			claudeTool, _ = sjson.Set(claudeTool, "description", tool.Get("description").String())
			if params := tool.Get("parameters"); params.Exists() {
				claudeTool, _ = sjson.SetRaw(claudeTool, "input_schema", params.Raw)
			}
			toolsJSON, _ = sjson.SetRaw(toolsJSON, "-1", claudeTool)
			return true
		})
		out, _ = sjson.SetRaw(out, "tools", toolsJSON)
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
					"name": toolChoice.Get("name").String(),
				})
			}
		default:
		}
	}

	return []byte(out)
}
