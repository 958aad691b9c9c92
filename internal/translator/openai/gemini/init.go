package gemini

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.Gemini,
		constant.OpenAI,
		ConvertGeminiRequestToOpenAI,
		translator.ResponseTransform{
			Stream:    ConvertOpenAIResponseToGemini,
			NonStream: ConvertOpenAIResponseToGeminiNonStream,
		},
	)
}
