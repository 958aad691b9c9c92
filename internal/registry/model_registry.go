// Package registry provides the model catalogs for the supported
// providers, the brand-tag helpers shown to clients, and the model-name
// routing heuristics used by the dispatcher.
package registry

import (
	"strings"

	"github.com/justlovemaki/AIClient-2-API/internal/constant"
)

// ModelInfo describes one catalog entry. The dialect-specific listing
// handlers pick the fields their wire shape needs.
type ModelInfo struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name,omitempty"`
	// Gemini listing fields.
	Name                       string   `json:"name,omitempty"`
	Version                    string   `json:"version,omitempty"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit,omitempty"`
	OutputTokenLimit           int      `json:"outputTokenLimit,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// BrandTag maps a provider type to the bracketed prefix shown in model
// listings, e.g. "[Warp] gpt-5".
var BrandTag = map[string]string{
	constant.OpenAICustom: "OpenAI",
	constant.ClaudeCustom: "Claude",
	constant.GeminiCustom: "Gemini",
	constant.Qwen:         "Qwen",
	constant.Kiro:         "Kiro",
	constant.Orchids:      "Orchids",
	constant.Warp:         "Warp",
}

// brandProvider is the inverse of BrandTag, lowercased.
var brandProvider = func() map[string]string {
	m := make(map[string]string, len(BrandTag))
	for providerType, tag := range BrandTag {
		m[strings.ToLower(tag)] = providerType
	}
	return m
}()

// TagModel prefixes a model id with the provider's brand tag.
func TagModel(providerType, model string) string {
	tag, ok := BrandTag[providerType]
	if !ok {
		return model
	}
	return "[" + tag + "] " + model
}

// StripBrandPrefix splits "[Brand] model" into the provider type the
// brand names (empty when unknown or untagged) and the clean model name.
func StripBrandPrefix(model string) (string, string) {
	if !strings.HasPrefix(model, "[") {
		return "", model
	}
	end := strings.Index(model, "] ")
	if end < 0 {
		return "", model
	}
	brand := strings.ToLower(model[1:end])
	clean := model[end+2:]
	return brandProvider[brand], clean
}

// GetClaudeModels returns the Claude model catalog.
func GetClaudeModels() []*ModelInfo {
	return []*ModelInfo{
		{ID: "claude-opus-4-1-20250805", Object: "model", Created: 1754352000, OwnedBy: "anthropic", DisplayName: "Claude Opus 4.1"},
		{ID: "claude-sonnet-4-20250514", Object: "model", Created: 1715644800, OwnedBy: "anthropic", DisplayName: "Claude Sonnet 4"},
		{ID: "claude-3-7-sonnet-20250219", Object: "model", Created: 1708300800, OwnedBy: "anthropic", DisplayName: "Claude 3.7 Sonnet"},
		{ID: "claude-3-5-haiku-20241022", Object: "model", Created: 1729555200, OwnedBy: "anthropic", DisplayName: "Claude 3.5 Haiku"},
	}
}

// GetGeminiModels returns the Gemini model catalog.
func GetGeminiModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID: "gemini-2.5-pro", Object: "model", Created: 1750118400, OwnedBy: "google",
			Name: "models/gemini-2.5-pro", Version: "2.5", DisplayName: "Gemini 2.5 Pro",
			InputTokenLimit: 1048576, OutputTokenLimit: 65536,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent", "countTokens"},
		},
		{
			ID: "gemini-2.5-flash", Object: "model", Created: 1750118400, OwnedBy: "google",
			Name: "models/gemini-2.5-flash", Version: "001", DisplayName: "Gemini 2.5 Flash",
			InputTokenLimit: 1048576, OutputTokenLimit: 65536,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent", "countTokens"},
		},
	}
}

// GetOpenAIModels returns the OpenAI model catalog.
func GetOpenAIModels() []*ModelInfo {
	return []*ModelInfo{
		{ID: "gpt-4o", Object: "model", Created: 1715367049, OwnedBy: "openai"},
		{ID: "gpt-4o-mini", Object: "model", Created: 1721172741, OwnedBy: "openai"},
		{ID: "gpt-4.1", Object: "model", Created: 1744315746, OwnedBy: "openai"},
		{ID: "o3", Object: "model", Created: 1744225308, OwnedBy: "openai"},
		{ID: "o4-mini", Object: "model", Created: 1744225308, OwnedBy: "openai"},
	}
}

// GetQwenModels returns the Qwen Code model catalog.
func GetQwenModels() []*ModelInfo {
	return []*ModelInfo{
		{ID: "qwen3-coder-plus", Object: "model", Created: 1753228800, OwnedBy: "qwen"},
		{ID: "qwen3-coder-flash", Object: "model", Created: 1753228800, OwnedBy: "qwen"},
	}
}

// GetKiroModels returns the Kiro model catalog (Claude-dialect upstream).
func GetKiroModels() []*ModelInfo {
	return []*ModelInfo{
		{ID: "claude-sonnet-4-20250514", Object: "model", Created: 1715644800, OwnedBy: "kiro"},
		{ID: "claude-3-7-sonnet-20250219", Object: "model", Created: 1708300800, OwnedBy: "kiro"},
	}
}

// GetOrchidsModels returns the Orchids coding-agent catalog.
func GetOrchidsModels() []*ModelInfo {
	return []*ModelInfo{
		{ID: "orchids-agent", Object: "model", Created: 1735689600, OwnedBy: "orchids"},
	}
}

// warpCatalog is the Warp model catalog. Routing consults it first when
// no brand prefix names a provider.
var warpCatalog = []*ModelInfo{
	{ID: "gpt-5", Object: "model", Created: 1754524800, OwnedBy: "warp"},
	{ID: "claude-4-sonnet", Object: "model", Created: 1715644800, OwnedBy: "warp"},
	{ID: "claude-4-opus", Object: "model", Created: 1715644800, OwnedBy: "warp"},
	{ID: "gemini-2.5-pro", Object: "model", Created: 1750118400, OwnedBy: "warp"},
	{ID: "o4-mini", Object: "model", Created: 1744225308, OwnedBy: "warp"},
}

// GetWarpModels returns the Warp model catalog.
func GetWarpModels() []*ModelInfo {
	return warpCatalog
}

// GetModelsForProvider returns the catalog for a provider type.
func GetModelsForProvider(providerType string) []*ModelInfo {
	switch providerType {
	case constant.ClaudeCustom:
		return GetClaudeModels()
	case constant.GeminiCustom:
		return GetGeminiModels()
	case constant.OpenAICustom:
		return GetOpenAIModels()
	case constant.Qwen:
		return GetQwenModels()
	case constant.Kiro:
		return GetKiroModels()
	case constant.Orchids:
		return GetOrchidsModels()
	case constant.Warp:
		return GetWarpModels()
	}
	return nil
}

// InWarpCatalog reports whether the clean model name is served by Warp.
func InWarpCatalog(model string) bool {
	for _, info := range warpCatalog {
		if strings.EqualFold(info.ID, model) {
			return true
		}
	}
	return false
}

// RouteModel resolves a clean model name to a provider type using the
// fixed heuristic ordering: Warp catalog, Claude substrings, Gemini
// substrings, Qwen, OpenAI GPT/o-series, then the configured default.
func RouteModel(model, defaultProvider string) string {
	lower := strings.ToLower(model)
	switch {
	case InWarpCatalog(model):
		return constant.Warp
	case strings.Contains(lower, "claude"):
		return constant.ClaudeCustom
	case strings.Contains(lower, "gemini"):
		return constant.GeminiCustom
	case strings.Contains(lower, "qwen"):
		return constant.Qwen
	case strings.HasPrefix(lower, "gpt") || isOSeries(lower):
		return constant.OpenAICustom
	default:
		return defaultProvider
	}
}

// isOSeries matches o1/o3/o4-style reasoning model names.
func isOSeries(lower string) bool {
	if len(lower) < 2 || lower[0] != 'o' {
		return false
	}
	if lower[1] < '0' || lower[1] > '9' {
		return false
	}
	return len(lower) == 2 || lower[2] == '-' || lower[2] == '.'
}

// ProviderDialect maps a provider type to the wire dialect it speaks.
// Warp is OpenAI-shaped on the wire.
func ProviderDialect(providerType string) string {
	prefix := providerType
	if i := strings.Index(providerType, "-"); i > 0 {
		prefix = providerType[:i]
	}
	switch prefix {
	case "openai", "qwen", "warp":
		return constant.OpenAI
	case "claude", "kiro", "orchids":
		return constant.Claude
	case "gemini":
		return constant.Gemini
	}
	return constant.OpenAI
}
