package consolidator

import (
	"context"
	"fmt"
	"time"

	"github.com/livemem/livemem/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the consolidation conversation.
type Message struct {
	Role    string
	Content string
}

// Usage reports the token spend of one completion, as accounted by the
// provider. Zero values mean the endpoint did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the assistant reply to one exchange.
type Completion struct {
	Content string
	Usage   Usage
}

// Completer is the chat dependency of the consolidation pipeline. The
// production implementation speaks to an OpenAI-compatible endpoint; tests
// script the replies.
type Completer interface {
	// Complete sends the conversation and returns the assistant reply.
	Complete(ctx context.Context, msgs []Message) (*Completion, error)
	// Ping issues a minimal completion to prove the endpoint answers.
	Ping(ctx context.Context) error
	// Model names the backing model, for health payloads.
	Model() string
}

const pingMaxTokens = 5

// OpenAICompleter talks to an OpenAI-compatible chat endpoint through
// langchaingo. The base URL is expected to already carry the /v1 segment.
type OpenAICompleter struct {
	llm         *openai.LLM
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

func NewOpenAICompleter(cfg *config.Config) (*OpenAICompleter, error) {
	if !cfg.LLMConfigured() {
		return nil, fmt.Errorf("LLM endpoint is not configured")
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.LLMAPIURL),
		openai.WithToken(cfg.LLMAPIKey),
		openai.WithModel(cfg.LLMModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return &OpenAICompleter{
		llm:         llm,
		model:       cfg.LLMModel,
		maxTokens:   cfg.LLMMaxTokens,
		temperature: cfg.LLMTemperature,
		timeout:     time.Duration(cfg.ConsolidationTimeout) * time.Second,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, msgs []Message) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.llm.GenerateContent(ctx, convertMessages(msgs),
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return &Completion{
		Content: choice.Content,
		Usage: Usage{
			PromptTokens:     infoInt(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: infoInt(choice.GenerationInfo, "CompletionTokens"),
			TotalTokens:      infoInt(choice.GenerationInfo, "TotalTokens"),
		},
	}, nil
}

func (c *OpenAICompleter) Ping(ctx context.Context) error {
	_, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "Reply OK")},
		llms.WithMaxTokens(pingMaxTokens),
	)
	if err != nil {
		return fmt.Errorf("chat completion failed: %w", err)
	}
	return nil
}

func (c *OpenAICompleter) Model() string { return c.model }

func convertMessages(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return out
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// infoInt digs a numeric usage value out of langchaingo's generation info,
// which reports ints or floats depending on the provider.
func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
