package httpcompat

import (
	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/pluginregistry"
)

// LLMFactories is the standard kind -> compat.LLM factory table, passed as
// pluginregistry.Options.LLMCompat by both binaries (§6).
func LLMFactories() map[string]pluginregistry.LLMCompatFactory {
	return map[string]pluginregistry.LLMCompatFactory{
		"openai":    func() compat.LLM { return &OpenAIChatCompat{} },
		"anthropic": func() compat.LLM { return &AnthropicMessagesCompat{} },
	}
}

// EmbeddingFactories is the standard kind -> compat.Embedding factory
// table, passed as pluginregistry.Options.EmbeddingCompat.
func EmbeddingFactories() map[string]pluginregistry.EmbeddingCompatFactory {
	return map[string]pluginregistry.EmbeddingCompatFactory{
		"openai": func() compat.Embedding { return &OpenAIEmbeddingCompat{} },
	}
}
