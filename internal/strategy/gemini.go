package strategy

import (
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiStrategy handles the Gemini GenerateContent dialect. Model and
// stream flag come from the URL path rather than the body, and the
// system prompt lives under systemInstruction.parts.
type geminiStrategy struct{}

func (s *geminiStrategy) Dialect() string { return constant.Gemini }

func (s *geminiStrategy) ExtractModelAndStream(meta RequestMeta, body []byte) (string, bool) {
	model := meta.PathModel
	if model == "" {
		model = gjson.GetBytes(body, "model").String()
	}
	return model, meta.PathAction == "streamGenerateContent"
}

func (s *geminiStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role != "" && role != "user" {
			return true
		}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
			return true
		})
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *geminiStrategy) ExtractResponseText(response []byte) string {
	var parts []string
	gjson.GetBytes(response, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			parts = append(parts, text.String())
		}
		return true
	})
	return strings.Join(parts, "")
}

func geminiSystemText(instruction gjson.Result) string {
	var parts []string
	instruction.Get("parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			parts = append(parts, text.String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *geminiStrategy) ApplySystemPromptFromFile(cfg *config.Config, body []byte) []byte {
	filePrompt := loadSystemPromptFile(cfg)
	if filePrompt == "" {
		return body
	}
	incoming := geminiSystemText(gjson.GetBytes(body, "systemInstruction"))
	merged := mergePrompt(cfg.SystemPromptMode, filePrompt, incoming)
	out, _ := sjson.SetBytes(body, "systemInstruction", map[string]any{
		"parts": []any{map[string]any{"text": merged}},
	})
	return out
}

func (s *geminiStrategy) ManageSystemPrompt(cfg *config.Config, body []byte) {
	captureSystemPrompt(cfg, geminiSystemText(gjson.GetBytes(body, "systemInstruction")))
}
