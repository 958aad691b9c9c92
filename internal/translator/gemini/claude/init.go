package claude

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.Claude,
		constant.Gemini,
		ConvertClaudeRequestToGemini,
		translator.ResponseTransform{
			Stream:    ConvertGeminiResponseToClaude,
			NonStream: ConvertGeminiResponseToClaudeNonStream,
		},
	)
}
