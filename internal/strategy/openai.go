package strategy

import (
	"strconv"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// openAIStrategy handles the OpenAI Chat Completions dialect.
type openAIStrategy struct{}

func (s *openAIStrategy) Dialect() string { return constant.OpenAI }

func (s *openAIStrategy) ExtractModelAndStream(_ RequestMeta, body []byte) (string, bool) {
	root := gjson.ParseBytes(body)
	return root.Get("model").String(), root.Get("stream").Bool()
}

func (s *openAIStrategy) ExtractPromptText(body []byte) string {
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
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return true
	})
	return strings.Join(parts, "\n")
}

func (s *openAIStrategy) ExtractResponseText(response []byte) string {
	root := gjson.ParseBytes(response)
	if content := root.Get("choices.0.message.content"); content.Exists() {
		return content.String()
	}
	return root.Get("choices.0.delta.content").String()
}

func (s *openAIStrategy) ApplySystemPromptFromFile(cfg *config.Config, body []byte) []byte {
	filePrompt := loadSystemPromptFile(cfg)
	if filePrompt == "" {
		return body
	}
	out := string(body)
	incoming := ""
	systemIndex := -1
	gjson.Get(out, "messages").ForEach(func(index, message gjson.Result) bool {
		if message.Get("role").String() == "system" {
			incoming = message.Get("content").String()
			systemIndex = int(index.Int())
			return false
		}
		return true
	})
	merged := mergePrompt(cfg.SystemPromptMode, filePrompt, incoming)
	if systemIndex >= 0 {
		out, _ = sjson.Set(out, "messages."+strconv.Itoa(systemIndex)+".content", merged)
		return []byte(out)
	}
	// No system message yet: prepend one.
	messages := gjson.Get(out, "messages").Array()
	rebuilt := make([]any, 0, len(messages)+1)
	rebuilt = append(rebuilt, map[string]any{"role": "system", "content": merged})
	for _, message := range messages {
		rebuilt = append(rebuilt, message.Value())
	}
	out, _ = sjson.Set(out, "messages", rebuilt)
	return []byte(out)
}

func (s *openAIStrategy) ManageSystemPrompt(cfg *config.Config, body []byte) {
	var incoming string
	gjson.GetBytes(body, "messages").ForEach(func(_, message gjson.Result) bool {
		if message.Get("role").String() == "system" {
			incoming = message.Get("content").String()
			return false
		}
		return true
	})
	captureSystemPrompt(cfg, incoming)
}
