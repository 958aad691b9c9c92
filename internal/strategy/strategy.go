// Package strategy implements the per-dialect request strategies: model
// and stream-flag extraction, prompt and response text extraction for
// logging, and system-prompt injection and capture. One strategy exists
// per protocol family (openai, openai-responses, claude, gemini); the
// provider string's protocol prefix selects it, with the Warp provider
// aliased to openai.
package strategy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	log "github.com/sirupsen/logrus"
)

// RequestMeta carries routing facts that live outside the body, such as
// the model and action encoded in a Gemini URL path.
type RequestMeta struct {
	PathModel  string
	PathAction string
}

// Strategy is the per-dialect extractor/injector contract.
type Strategy interface {
	// Dialect returns the wire dialect this strategy understands.
	Dialect() string

	// ExtractModelAndStream returns the requested model and whether the
	// client asked for a streamed response.
	ExtractModelAndStream(meta RequestMeta, body []byte) (string, bool)

	// ExtractPromptText flattens the user-visible prompt for logging.
	ExtractPromptText(body []byte) string

	// ExtractResponseText flattens a unary response for logging.
	ExtractResponseText(response []byte) string

	// ApplySystemPromptFromFile merges or replaces the request's system
	// prompt with the operator-supplied file content.
	ApplySystemPromptFromFile(cfg *config.Config, body []byte) []byte

	// ManageSystemPrompt captures the request's incoming system prompt to
	// a file for operator inspection.
	ManageSystemPrompt(cfg *config.Config, body []byte)
}

var strategies = map[string]Strategy{
	constant.OpenAI:          &openAIStrategy{},
	constant.OpenAIResponses: &openAIResponsesStrategy{},
	constant.Claude:          &claudeStrategy{},
	constant.Gemini:          &geminiStrategy{},
}

// providerAlias maps provider protocol prefixes that are not themselves
// dialect names onto the dialect they speak.
var providerAlias = map[string]string{
	"warp":    constant.OpenAI,
	"qwen":    constant.OpenAI,
	"kiro":    constant.Claude,
	"orchids": constant.Claude,
}

// ForDialect returns the strategy for a dialect name.
func ForDialect(dialect string) Strategy {
	if s, ok := strategies[dialect]; ok {
		return s
	}
	return strategies[constant.OpenAI]
}

// ForProvider selects a strategy from a provider string by protocol
// prefix (everything left of the first hyphen).
func ForProvider(provider string) Strategy {
	prefix := provider
	if i := strings.Index(provider, "-"); i > 0 {
		prefix = provider[:i]
	}
	if alias, ok := providerAlias[prefix]; ok {
		prefix = alias
	}
	if s, ok := strategies[prefix]; ok {
		return s
	}
	return strategies[constant.OpenAI]
}

// loadSystemPromptFile reads the operator system prompt; empty result
// means nothing to inject.
func loadSystemPromptFile(cfg *config.Config) string {
	if cfg == nil || cfg.SystemPromptFile == "" {
		return ""
	}
	data, err := os.ReadFile(cfg.SystemPromptFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("strategy: failed to read system prompt file: %v", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// captureSystemPrompt writes the incoming system prompt next to the
// operator's file so the last client-supplied prompt can be inspected.
func captureSystemPrompt(cfg *config.Config, prompt string) {
	if cfg == nil || cfg.SystemPromptFile == "" || prompt == "" {
		return
	}
	dir := filepath.Dir(cfg.SystemPromptFile)
	path := filepath.Join(dir, "incoming_system_prompt.txt")
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		log.Warnf("strategy: failed to capture system prompt: %v", err)
	}
}

// mergePrompt combines the file prompt with the incoming one according
// to the configured mode.
func mergePrompt(mode, filePrompt, incoming string) string {
	if mode == "override" || incoming == "" {
		return filePrompt
	}
	return incoming + "\n\n" + filePrompt
}
