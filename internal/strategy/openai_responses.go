package strategy

import (
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// openAIResponsesStrategy handles the OpenAI Responses dialect. The
// system prompt is the top-level "instructions" string and the prompt
// lives in "input", which may be a plain string or an item array.
type openAIResponsesStrategy struct{}

func (s *openAIResponsesStrategy) Dialect() string { return constant.OpenAIResponses }

func (s *openAIResponsesStrategy) ExtractModelAndStream(_ RequestMeta, body []byte) (string, bool) {
	root := gjson.ParseBytes(body)
	return root.Get("model").String(), root.Get("stream").Bool()
}

func (s *openAIResponsesStrategy) ExtractPromptText(body []byte) string {
	input := gjson.GetBytes(body, "input")
	if input.Type == gjson.String {
		return input.String()
	}
	var parts []string
	input.ForEach(func(_, item gjson.Result) bool {
		if role := item.Get("role").String(); role != "" && role != "user" {
			return true
		}
		content := item.Get("content")
		if content.Type == gjson.String {
			parts = append(parts, content.String())
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "input_text", "text":
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *openAIResponsesStrategy) ExtractResponseText(response []byte) string {
	root := gjson.ParseBytes(response)
	if text := root.Get("output_text"); text.Exists() {
		return text.String()
	}
	var parts []string
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return true
	})
	if len(parts) > 0 {
		return strings.Join(parts, "")
	}
	return root.Get("delta").String()
}

func (s *openAIResponsesStrategy) ApplySystemPromptFromFile(cfg *config.Config, body []byte) []byte {
	filePrompt := loadSystemPromptFile(cfg)
	if filePrompt == "" {
		return body
	}
	incoming := gjson.GetBytes(body, "instructions").String()
	merged := mergePrompt(cfg.SystemPromptMode, filePrompt, incoming)
	out, _ := sjson.SetBytes(body, "instructions", merged)
	return out
}

func (s *openAIResponsesStrategy) ManageSystemPrompt(cfg *config.Config, body []byte) {
	captureSystemPrompt(cfg, gjson.GetBytes(body, "instructions").String())
}
