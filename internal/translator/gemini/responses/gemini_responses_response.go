package responses

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiToResponsesState carries per-stream conversion state.
type geminiToResponsesState struct {
	ResponseID   string
	CreatedAt    int64
	CreatedSent  bool
	TextStarted  bool
	TextBuffer   strings.Builder
	OutputIndex  int
	InputTokens  int64
	OutputTokens int64
}

func frameEvent(eventType, payload string) string {
	return "event: " + eventType + "\ndata: " + payload + "\n\n"
}

// ConvertGeminiResponseToOpenAIResponses converts one Gemini
// streamGenerateContent chunk into OpenAI Responses SSE events. The
// chunk carrying finishReason closes the stream with
// response.completed, since Gemini has no terminal event of its own.
func ConvertGeminiResponseToOpenAIResponses(_ context.Context, model string, _, _, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiToResponsesState{
			ResponseID: "resp_" + uuid.NewString(),
			CreatedAt:  time.Now().Unix(),
		}
	}
	state := (*param).(*geminiToResponsesState)

	root := gjson.ParseBytes(rawJSON)
	if modelVersion := root.Get("modelVersion"); modelVersion.Exists() {
		model = modelVersion.String()
	}

	var results []string

	if !state.CreatedSent {
		state.CreatedSent = true
		created := `{"type":"response.created","response":{"id":"","object":"response","created_at":0,"status":"in_progress","model":"","output":[]}}`
		created, _ = sjson.Set(created, "response.id", state.ResponseID)
		created, _ = sjson.Set(created, "response.created_at", state.CreatedAt)
		created, _ = sjson.Set(created, "response.model", model)
		results = append(results, frameEvent("response.created", created))
	}

	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && text.String() != "" {
			if !state.TextStarted {
				state.TextStarted = true
				item := `{"type":"response.output_item.added","output_index":0,"item":{"type":"message","role":"assistant","content":[]}}`
				item, _ = sjson.Set(item, "output_index", state.OutputIndex)
				results = append(results, frameEvent("response.output_item.added", item))
			}
			state.TextBuffer.WriteString(text.String())
			event := `{"type":"response.output_text.delta","output_index":0,"delta":""}`
			event, _ = sjson.Set(event, "output_index", state.OutputIndex)
			event, _ = sjson.Set(event, "delta", text.String())
			results = append(results, frameEvent("response.output_text.delta", event))
		}

		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			if state.TextStarted {
				state.TextStarted = false
				done := `{"type":"response.output_text.done","output_index":0,"text":""}`
				done, _ = sjson.Set(done, "output_index", state.OutputIndex)
				done, _ = sjson.Set(done, "text", state.TextBuffer.String())
				state.OutputIndex++
				results = append(results, frameEvent("response.output_text.done", done))
			}
			arguments := "{}"
			if args := functionCall.Get("args"); args.Exists() {
				arguments = args.Raw
			}
			item := `{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"","name":"","arguments":""}}`
			item, _ = sjson.Set(item, "output_index", state.OutputIndex)
			item, _ = sjson.Set(item, "item.call_id", "call_"+uuid.NewString()[:24])
			item, _ = sjson.Set(item, "item.name", functionCall.Get("name").String())
			item, _ = sjson.Set(item, "item.arguments", arguments)
			state.OutputIndex++
			results = append(results, frameEvent("response.output_item.done", item))
		}
		return true
	})

	if usage := root.Get("usageMetadata"); usage.Exists() {
		state.InputTokens = usage.Get("promptTokenCount").Int()
		state.OutputTokens = usage.Get("candidatesTokenCount").Int()
	}

	if finishReason := root.Get("candidates.0.finishReason"); finishReason.Exists() && finishReason.String() != "" {
		if state.TextStarted {
			state.TextStarted = false
			done := `{"type":"response.output_text.done","output_index":0,"text":""}`
			done, _ = sjson.Set(done, "output_index", state.OutputIndex)
			done, _ = sjson.Set(done, "text", state.TextBuffer.String())
			state.OutputIndex++
			results = append(results, frameEvent("response.output_text.done", done))
		}
		completed := `{"type":"response.completed","response":{"id":"","object":"response","created_at":0,"status":"completed","model":"","usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}}`
		completed, _ = sjson.Set(completed, "response.id", state.ResponseID)
		completed, _ = sjson.Set(completed, "response.created_at", state.CreatedAt)
		completed, _ = sjson.Set(completed, "response.model", model)
		completed, _ = sjson.Set(completed, "response.usage.input_tokens", state.InputTokens)
		completed, _ = sjson.Set(completed, "response.usage.output_tokens", state.OutputTokens)
		completed, _ = sjson.Set(completed, "response.usage.total_tokens", state.InputTokens+state.OutputTokens)
		results = append(results, frameEvent("response.completed", completed))
	}

	return results
}

// ConvertGeminiResponseToOpenAIResponsesNonStream converts a unary
// Gemini generateContent response into an OpenAI Responses object.
func ConvertGeminiResponseToOpenAIResponsesNonStream(_ context.Context, model string, _, _, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)
	if modelVersion := root.Get("modelVersion"); modelVersion.Exists() {
		model = modelVersion.String()
	}

	out := `{"id":"","object":"response","created_at":0,"status":"completed","model":"","output":[],"usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", "resp_"+uuid.NewString())
	out, _ = sjson.Set(out, "created_at", time.Now().Unix())
	out, _ = sjson.Set(out, "model", model)

	var textParts []string
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			textParts = append(textParts, text.String())
		}
		if functionCall := part.Get("functionCall"); functionCall.Exists() {
			arguments := "{}"
			if args := functionCall.Get("args"); args.Exists() {
				arguments = args.Raw
			}
			item := `{"type":"function_call","call_id":"","name":"","arguments":""}`
			item, _ = sjson.Set(item, "call_id", "call_"+uuid.NewString()[:24])
			item, _ = sjson.Set(item, "name", functionCall.Get("name").String())
			item, _ = sjson.Set(item, "arguments", arguments)
			out, _ = sjson.SetRaw(out, "output.-1", item)
		}
		return true
	})

	if len(textParts) > 0 {
		message := `{"type":"message","role":"assistant","content":[{"type":"output_text","text":""}]}`
		message, _ = sjson.Set(message, "content.0.text", strings.Join(textParts, ""))
		out, _ = sjson.SetRaw(out, "output.-1", message)
	}

	if usage := root.Get("usageMetadata"); usage.Exists() {
		inputTokens := usage.Get("promptTokenCount").Int()
		outputTokens := usage.Get("candidatesTokenCount").Int()
		out, _ = sjson.Set(out, "usage.input_tokens", inputTokens)
		out, _ = sjson.Set(out, "usage.output_tokens", outputTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", inputTokens+outputTokens)
	}

	return out
}
