package llm

import "context"

// ChatModel is a minimal abstraction for chat-based LLMs used by the domain.
// The summary, translation and reasoning providers are all built on it;
// concrete vendors stay behind this port.
type ChatModel interface {
	Ask(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
