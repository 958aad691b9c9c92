package openai

import (
	"github.com/justlovemaki/AIClient-2-API/internal/constant"
	"github.com/justlovemaki/AIClient-2-API/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAI,
		constant.Gemini,
		ConvertOpenAIRequestToGemini,
		translator.ResponseTransform{
			Stream:    ConvertGeminiResponseToOpenAI,
			NonStream: ConvertGeminiResponseToOpenAINonStream,
		},
	)
}
