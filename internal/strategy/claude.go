package strategy

import (
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeStrategy handles the Claude Messages dialect. The system prompt
// lives in the top-level "system" field, which may be a plain string or
// an array of text blocks.
type claudeStrategy struct{}

func (s *claudeStrategy) Dialect() string { return constant.Claude }

func (s *claudeStrategy) ExtractModelAndStream(_ RequestMeta, body []byte) (string, bool) {
	root := gjson.ParseBytes(body)
	return root.Get("model").String(), root.Get("stream").Bool()
}

func (s *claudeStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "messages").ForEach(func(_, message gjson.Result) bool {
		if message.Get("role").String() != "user" {
			return true
		}
		content := message.Get("content")
		if content.Type == gjson.String {
			parts = append(parts, content.String())
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
			return true
		})
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *claudeStrategy) ExtractResponseText(response []byte) string {
	var parts []string
	gjson.GetBytes(response, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	if len(parts) > 0 {
		return strings.Join(parts, "")
	}
	// Streaming delta shape.
	return gjson.GetBytes(response, "delta.text").String()
}

// systemText flattens the "system" field regardless of shape.
func systemText(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.String()
	}
	var parts []string
	system.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *claudeStrategy) ApplySystemPromptFromFile(cfg *config.Config, body []byte) []byte {
	filePrompt := loadSystemPromptFile(cfg)
	if filePrompt == "" {
		return body
	}
	incoming := systemText(gjson.GetBytes(body, "system"))
	merged := mergePrompt(cfg.SystemPromptMode, filePrompt, incoming)
	out, _ := sjson.SetBytes(body, "system", merged)
	return out
}

func (s *claudeStrategy) ManageSystemPrompt(cfg *config.Config, body []byte) {
	captureSystemPrompt(cfg, systemText(gjson.GetBytes(body, "system")))
}
