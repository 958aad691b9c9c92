package responses

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAIResponses,
		constant.Claude,
		ConvertOpenAIResponsesRequestToClaude,
		translator.ResponseTransform{
			Stream:    ConvertClaudeResponseToOpenAIResponses,
			NonStream: ConvertClaudeResponseToOpenAIResponsesNonStream,
		},
	)
}
