package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sashabaranov/go-openai"

	"nodebench/internal/eventbus"
)

// DefaultMaxTokens bounds generation length per request.
const DefaultMaxTokens = 512

// RemoteNode drives a distributed inference node through its
// OpenAI-compatible streaming endpoint. Each streamed chunk is interned as
// one token id and republished on the token event bus, so a runner observes
// the same (request id, tokens, finished) stream a local node would emit.
type RemoteNode struct {
	client    *openai.Client
	bus       *eventbus.Bus
	tokenizer *ChatTokenizer
	maxTokens int
}

// NewRemoteNode creates a node client for the endpoint at baseURL.
func NewRemoteNode(baseURL, apiKey string, maxTokens int) *RemoteNode {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &RemoteNode{
		client:    openai.NewClientWithConfig(config),
		bus:       eventbus.NewBus(),
		tokenizer: NewChatTokenizer(),
		maxTokens: maxTokens,
	}
}

// OnToken exposes the bus carrying this node's generation events.
func (n *RemoteNode) OnToken() *eventbus.Bus { return n.bus }

// Tokenizer returns the tokenizer whose intern table the stream consumer
// fills; Decode on it renders this node's generated token ids back to text.
func (n *RemoteNode) Tokenizer() *ChatTokenizer { return n.tokenizer }

// ProcessPrompt submits a generation request. It returns as soon as the
// stream is open; tokens arrive on the event bus under requestID.
func (n *RemoteNode) ProcessPrompt(ctx context.Context, shard Shard, prompt string, requestID string) error {
	stream, err := n.client.CreateChatCompletionStream(
		ctx,
		openai.ChatCompletionRequest{
			Model: shard.ModelID,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:           n.maxTokens,
			MaxCompletionTokens: n.maxTokens,
			Stream:              true,
		},
	)
	if err != nil {
		return fmt.Errorf("process prompt %s: %w", requestID, err)
	}

	go n.consume(stream, requestID)
	return nil
}

// consume drains one completion stream, publishing the growing token
// sequence after every chunk and a terminal event at end of stream.
func (n *RemoteNode) consume(stream *openai.ChatCompletionStream, requestID string) {
	defer stream.Close()

	var tokens []int
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// No terminal event: a broken stream must look like a hung
			// request, not a completed one. The waiter's timeout reports it.
			log.Printf("stream error for request %s: %v", requestID, err)
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		tokens = append(tokens, n.tokenizer.Encode(content))
		n.bus.Publish(eventbus.TokenEvent{
			RequestID: requestID,
			Tokens:    append([]int(nil), tokens...),
		})
	}

	n.bus.Publish(eventbus.TokenEvent{
		RequestID:  requestID,
		Tokens:     append([]int(nil), tokens...),
		IsFinished: true,
	})
}

// RemoteEngine satisfies InferenceEngine against a remote node: a one-token
// warm-up request forces the node to materialize the shard's weights.
type RemoteEngine struct {
	client *openai.Client
}

// NewRemoteEngine creates an engine client for the endpoint at baseURL.
func NewRemoteEngine(baseURL, apiKey string) *RemoteEngine {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	return &RemoteEngine{client: openai.NewClientWithConfig(config)}
}

// EnsureShard materializes the shard's weights on the node. Idempotent and
// potentially very slow on first call; deliberately not time-bounded here.
func (e *RemoteEngine) EnsureShard(ctx context.Context, shard Shard) error {
	_, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: shard.ModelID,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: "ping",
				},
			},
			MaxTokens: 1,
		},
	)
	if err != nil {
		return fmt.Errorf("ensure shard %s: %w", shard.ModelID, err)
	}
	return nil
}
