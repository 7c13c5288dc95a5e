// Package node defines the contracts of the distributed inference node the
// benchmark drives, plus a client implementation speaking the node's
// OpenAI-compatible streaming API.
package node

import (
	"context"

	"nodebench/internal/eventbus"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Shard is the partition of a model's weights assigned to a node.
type Shard struct {
	ModelID    string `json:"modelId"`
	StartLayer int    `json:"startLayer"`
	EndLayer   int    `json:"endLayer"`
	NLayers    int    `json:"nLayers"`
}

// InferenceEngine materializes model weights. EnsureShard is idempotent and
// may be slow; callers must not bound it with their own timeout.
type InferenceEngine interface {
	EnsureShard(ctx context.Context, shard Shard) error
}

// Tokenizer formats prompts and renders generated tokens back to text.
type Tokenizer interface {
	ApplyChatTemplate(messages []Message) string
	Decode(tokens []int) string
}

// Node accepts generation requests. ProcessPrompt is fire-and-forget: output
// arrives asynchronously on the token event bus returned by OnToken.
type Node interface {
	ProcessPrompt(ctx context.Context, shard Shard, prompt string, requestID string) error
	OnToken() *eventbus.Bus
}
