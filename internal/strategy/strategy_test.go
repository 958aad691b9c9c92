package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestForProviderAliases(t *testing.T) {
	assert.Equal(t, constant.OpenAI, ForProvider("warp").Dialect())
	assert.Equal(t, constant.OpenAI, ForProvider("qwen").Dialect())
	assert.Equal(t, constant.Claude, ForProvider("kiro").Dialect())
	assert.Equal(t, constant.Claude, ForProvider("orchids").Dialect())
	assert.Equal(t, constant.Claude, ForProvider("claude-custom").Dialect())
	assert.Equal(t, constant.Gemini, ForProvider("gemini-custom").Dialect())
	assert.Equal(t, constant.OpenAI, ForProvider("something-else").Dialect())
}

func TestOpenAIExtractModelAndStream(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","stream":true,"messages":[]}`)
	model, stream := ForDialect(constant.OpenAI).ExtractModelAndStream(RequestMeta{}, body)
	assert.Equal(t, "gpt-4o", model)
	assert.True(t, stream)
}

func TestGeminiModelFromPath(t *testing.T) {
	s := ForDialect(constant.Gemini)
	model, stream := s.ExtractModelAndStream(RequestMeta{PathModel: "gemini-2.5-pro", PathAction: "streamGenerateContent"}, []byte(`{}`))
	assert.Equal(t, "gemini-2.5-pro", model)
	assert.True(t, stream)

	_, stream = s.ExtractModelAndStream(RequestMeta{PathModel: "gemini-2.5-pro", PathAction: "generateContent"}, []byte(`{}`))
	assert.False(t, stream)
}

func TestClaudePromptTextFromBlocks(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":"plain"},
		{"role":"assistant","content":"ignored"},
		{"role":"user","content":[{"type":"text","text":"block"},{"type":"image","source":{}}]}
	]}`)
	assert.Equal(t, "plain\nblock", ForDialect(constant.Claude).ExtractPromptText(body))
}

func TestResponsesPromptText(t *testing.T) {
	s := ForDialect(constant.OpenAIResponses)
	assert.Equal(t, "hi", s.ExtractPromptText([]byte(`{"input":"hi"}`)))

	body := []byte(`{"input":[{"role":"user","content":[{"type":"input_text","text":"from items"}]}]}`)
	assert.Equal(t, "from items", s.ExtractPromptText(body))
}

func TestApplySystemPromptOverrideAndAppend(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "system.txt")
	require.NoError(t, os.WriteFile(promptFile, []byte("file prompt"), 0o644))

	cfg := &config.Config{SystemPromptFile: promptFile, SystemPromptMode: "override"}
	s := ForDialect(constant.Claude)
	out := s.ApplySystemPromptFromFile(cfg, []byte(`{"system":"incoming","messages":[]}`))
	assert.Equal(t, "file prompt", gjson.GetBytes(out, "system").String())

	cfg.SystemPromptMode = "append"
	out = s.ApplySystemPromptFromFile(cfg, []byte(`{"system":"incoming","messages":[]}`))
	assert.Equal(t, "incoming\n\nfile prompt", gjson.GetBytes(out, "system").String())
}

func TestApplySystemPromptOpenAIPrepends(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "system.txt")
	require.NoError(t, os.WriteFile(promptFile, []byte("file prompt"), 0o644))

	cfg := &config.Config{SystemPromptFile: promptFile, SystemPromptMode: "override"}
	out := ForDialect(constant.OpenAI).ApplySystemPromptFromFile(cfg, []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Get("role").String())
	assert.Equal(t, "file prompt", messages[0].Get("content").String())
	assert.Equal(t, "user", messages[1].Get("role").String())
}

func TestApplySystemPromptMissingFileIsNoop(t *testing.T) {
	cfg := &config.Config{SystemPromptFile: filepath.Join(t.TempDir(), "absent.txt")}
	body := []byte(`{"system":"keep","messages":[]}`)
	out := ForDialect(constant.Claude).ApplySystemPromptFromFile(cfg, body)
	assert.Equal(t, string(body), string(out))
}

func TestManageSystemPromptCaptures(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{SystemPromptFile: filepath.Join(dir, "system.txt")}
	ForDialect(constant.Gemini).ManageSystemPrompt(cfg, []byte(`{"systemInstruction":{"parts":[{"text":"captured"}]}}`))

	data, err := os.ReadFile(filepath.Join(dir, "incoming_system_prompt.txt"))
	require.NoError(t, err)
	assert.Equal(t, "captured", string(data))
}
