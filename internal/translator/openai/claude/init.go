package claude

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.Claude,
		constant.OpenAI,
		ConvertClaudeRequestToOpenAI,
		translator.ResponseTransform{
			Stream:    ConvertOpenAIResponseToClaude,
			NonStream: ConvertOpenAIResponseToClaudeNonStream,
		},
	)
}
