package responses

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAIResponses,
		constant.OpenAI,
		ConvertOpenAIResponsesRequestToOpenAI,
		translator.ResponseTransform{
			Stream:    ConvertOpenAIResponseToOpenAIResponses,
			NonStream: ConvertOpenAIResponseToOpenAIResponsesNonStream,
		},
	)
}
