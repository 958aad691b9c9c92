package responses

import (
	"context"
	"strings"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// openAIToResponsesState carries per-stream conversion state.
type openAIToResponsesState struct {
	ResponseID   string
	Model        string
	CreatedAt    int64
	CreatedSent  bool
	TextStarted  bool
	TextBuffer   strings.Builder
	OutputIndex  int
	InputTokens  int64
	OutputTokens int64
	ToolArgs     map[int]*toolCallAccumulator
}

type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

func frameEvent(eventType, payload string) string {
	return "event: " + eventType + "\ndata: " + payload + "\n\n"
}

// ConvertOpenAIResponseToOpenAIResponses converts one OpenAI
// chat.completion.chunk payload into OpenAI Responses SSE events. Tool
// calls are buffered and emitted as response.output_item.done items
// when the chunk stream reports a finish reason; [DONE] closes the
// stream with response.completed.
func ConvertOpenAIResponseToOpenAIResponses(_ context.Context, _ string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &openAIToResponsesState{ToolArgs: make(map[int]*toolCallAccumulator)}
	}
	state := (*param).(*openAIToResponsesState)

	if strings.TrimSpace(string(rawJSON)) == "[DONE]" {
		completed := `{"type":"response.completed","response":{"id":"","object":"response","created_at":0,"status":"completed","model":"","usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}}`
		completed, _ = sjson.Set(completed, "response.id", state.ResponseID)
		completed, _ = sjson.Set(completed, "response.created_at", state.CreatedAt)
		completed, _ = sjson.Set(completed, "response.model", state.Model)
		completed, _ = sjson.Set(completed, "response.usage.input_tokens", state.InputTokens)
		completed, _ = sjson.Set(completed, "response.usage.output_tokens", state.OutputTokens)
		completed, _ = sjson.Set(completed, "response.usage.total_tokens", state.InputTokens+state.OutputTokens)
		return []string{frameEvent("response.completed", completed)}
	}

	root := gjson.ParseBytes(rawJSON)
	var results []string

	if state.ResponseID == "" {
		state.ResponseID = root.Get("id").String()
	}
	if state.Model == "" {
		state.Model = root.Get("model").String()
	}
	if state.CreatedAt == 0 {
		state.CreatedAt = root.Get("created").Int()
		if state.CreatedAt == 0 {
			state.CreatedAt = time.Now().Unix()
		}
	}

	if !state.CreatedSent {
		state.CreatedSent = true
		created := `{"type":"response.created","response":{"id":"","object":"response","created_at":0,"status":"in_progress","model":"","output":[]}}`
		created, _ = sjson.Set(created, "response.id", state.ResponseID)
		created, _ = sjson.Set(created, "response.created_at", state.CreatedAt)
		created, _ = sjson.Set(created, "response.model", state.Model)
		results = append(results, frameEvent("response.created", created))
	}

	delta := root.Get("choices.0.delta")

	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		if !state.TextStarted {
			state.TextStarted = true
			item := `{"type":"response.output_item.added","output_index":0,"item":{"type":"message","role":"assistant","content":[]}}`
			item, _ = sjson.Set(item, "output_index", state.OutputIndex)
			results = append(results, frameEvent("response.output_item.added", item))
		}
		state.TextBuffer.WriteString(content.String())
		event := `{"type":"response.output_text.delta","output_index":0,"delta":""}`
		event, _ = sjson.Set(event, "output_index", state.OutputIndex)
		event, _ = sjson.Set(event, "delta", content.String())
		results = append(results, frameEvent("response.output_text.delta", event))
	}

	if toolCalls := delta.Get("tool_calls"); toolCalls.IsArray() {
		toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
			index := int(toolCall.Get("index").Int())
			acc, ok := state.ToolArgs[index]
			if !ok {
				acc = &toolCallAccumulator{}
				state.ToolArgs[index] = acc
			}
			if id := toolCall.Get("id"); id.String() != "" {
				acc.ID = id.String()
			}
			if name := toolCall.Get("function.name"); name.String() != "" {
				acc.Name = name.String()
			}
			acc.Arguments.WriteString(toolCall.Get("function.arguments").String())
			return true
		})
	}

	if finishReason := root.Get("choices.0.finish_reason"); finishReason.Exists() && finishReason.String() != "" {
		if state.TextStarted {
			state.TextStarted = false
			done := `{"type":"response.output_text.done","output_index":0,"text":""}`
			done, _ = sjson.Set(done, "output_index", state.OutputIndex)
			done, _ = sjson.Set(done, "text", state.TextBuffer.String())
			state.OutputIndex++
			results = append(results, frameEvent("response.output_text.done", done))
		}
		for _, acc := range state.ToolArgs {
			arguments := util.FixJSON(acc.Arguments.String())
			if arguments == "" {
				arguments = "{}"
			}
			item := `{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"","name":"","arguments":""}}`
			item, _ = sjson.Set(item, "output_index", state.OutputIndex)
			item, _ = sjson.Set(item, "item.call_id", acc.ID)
			item, _ = sjson.Set(item, "item.name", acc.Name)
			item, _ = sjson.Set(item, "item.arguments", arguments)
			state.OutputIndex++
			results = append(results, frameEvent("response.output_item.done", item))
		}
		state.ToolArgs = make(map[int]*toolCallAccumulator)
	}

	if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
		if prompt := usage.Get("prompt_tokens"); prompt.Exists() {
			state.InputTokens = prompt.Int()
		}
		if completion := usage.Get("completion_tokens"); completion.Exists() {
			state.OutputTokens = completion.Int()
		}
	}

	return results
}

// ConvertOpenAIResponseToOpenAIResponsesNonStream converts a unary
// OpenAI chat.completion response into an OpenAI Responses object.
func ConvertOpenAIResponseToOpenAIResponsesNonStream(_ context.Context, _ string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := `{"id":"","object":"response","created_at":0,"status":"completed","model":"","output":[],"usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "created_at", root.Get("created").Int())
	out, _ = sjson.Set(out, "model", root.Get("model").String())

	message := root.Get("choices.0.message")

	if content := message.Get("content"); content.String() != "" {
		item := `{"type":"message","role":"assistant","content":[{"type":"output_text","text":""}]}`
		item, _ = sjson.Set(item, "content.0.text", content.String())
		out, _ = sjson.SetRaw(out, "output.-1", item)
	}

	message.Get("tool_calls").ForEach(func(_, toolCall gjson.Result) bool {
		arguments := toolCall.Get("function.arguments").String()
		if arguments == "" {
			arguments = "{}"
		}
		item := `{"type":"function_call","call_id":"","name":"","arguments":""}`
		item, _ = sjson.Set(item, "call_id", toolCall.Get("id").String())
		item, _ = sjson.Set(item, "name", toolCall.Get("function.name").String())
		item, _ = sjson.Set(item, "arguments", arguments)
		out, _ = sjson.SetRaw(out, "output.-1", item)
		return true
	})

	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("prompt_tokens").Int()
		outputTokens := usage.Get("completion_tokens").Int()
		out, _ = sjson.Set(out, "usage.input_tokens", inputTokens)
		out, _ = sjson.Set(out, "usage.output_tokens", outputTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", inputTokens+outputTokens)
	}

	return out
}
