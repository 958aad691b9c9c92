// Package translator wires every dialect pair into the registry via
// side-effect imports.
package translator

import (
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/claude/gemini"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/claude/openai"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/claude/responses"

	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/gemini/claude"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/gemini/openai"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/gemini/responses"

	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/openai/claude"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/openai/gemini"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator/openai/responses"
)
