package openai

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAI,
		constant.Claude,
		ConvertOpenAIRequestToClaude,
		translator.ResponseTransform{
			Stream:    ConvertClaudeResponseToOpenAI,
			NonStream: ConvertClaudeResponseToOpenAINonStream,
		},
	)
}
