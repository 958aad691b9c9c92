// Package constant defines provider and dialect name constants used
// throughout the gateway. These constants identify the wire dialects,
// the upstream provider types, and the inbound endpoint kinds, ensuring
// consistent naming across the application.
package constant

// Wire dialects. A dialect names the JSON shape of a request or a
// streamed response, independent of which provider speaks it.
const (
	// OpenAI represents the OpenAI Chat Completions dialect.
	OpenAI = "openai"

	// OpenAIResponses represents the OpenAI Responses dialect.
	OpenAIResponses = "openai-responses"

	// Claude represents the Anthropic Messages dialect.
	Claude = "claude"

	// Gemini represents the Google GenerateContent dialect.
	Gemini = "gemini"
)

// Upstream provider types. The part left of the first hyphen is the
// protocol prefix used to select a dialect strategy.
const (
	// OpenAICustom is a direct OpenAI-compatible API credential.
	OpenAICustom = "openai-custom"

	// ClaudeCustom is a direct Anthropic API credential.
	ClaudeCustom = "claude-custom"

	// GeminiCustom is a direct Gemini API credential.
	GeminiCustom = "gemini-custom"

	// Qwen is the OAuth-brokered Qwen Code provider.
	Qwen = "qwen"

	// Kiro is the OAuth-brokered Kiro (CodeWhisperer) provider.
	Kiro = "kiro"

	// Orchids is the WebSocket coding-agent provider.
	Orchids = "orchids"

	// Warp is the protobuf-over-HTTP/2 provider. Its wire dialect is
	// OpenAI-shaped, so strategies alias it to OpenAI.
	Warp = "warp"
)

// Inbound endpoint kinds recognised by the dispatcher.
const (
	EndpointOpenAIChat      = "openai_chat"
	EndpointOpenAIResponses = "openai_responses"
	EndpointClaudeMessage   = "claude_message"
	EndpointGeminiContent   = "gemini_content"
	EndpointOpenAIModels    = "openai_model_list"
	EndpointGeminiModels    = "gemini_model_list"
)

// EndpointDialect maps an inbound endpoint kind to the dialect its
// payloads are written in.
var EndpointDialect = map[string]string{
	EndpointOpenAIChat:      OpenAI,
	EndpointOpenAIResponses: OpenAIResponses,
	EndpointClaudeMessage:   Claude,
	EndpointGeminiContent:   Gemini,
	EndpointOpenAIModels:    OpenAI,
	EndpointGeminiModels:    Gemini,
}
