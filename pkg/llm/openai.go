package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultEmbedDims matches text-embedding-3-small.
	DefaultEmbedDims = 1536
	// embedBatchSize is the max inputs per embedding request.
	embedBatchSize = 100
)

// Client is an OpenAI-compatible implementation of CompletionClient and
// Embedder. Any endpoint speaking the OpenAI API (including local gateways)
// works via BaseURL.
type Client struct {
	api        openai.Client
	chatModel  string
	embedModel string
	embedDims  int
	temp       float64
}

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string // empty means api.openai.com
	ChatModel  string
	EmbedModel string
	EmbedDims  int
	// Temperature is the default sampling temperature for completions.
	Temperature float64
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg Config) *Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.EmbedDims <= 0 {
		cfg.EmbedDims = DefaultEmbedDims
	}
	return &Client{
		api:        openai.NewClient(reqOpts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		embedDims:  cfg.EmbedDims,
		temp:       cfg.Temperature,
	}
}

// Complete implements CompletionClient.
func (c *Client) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	options := Options{
		Model:       c.chatModel,
		Temperature: c.temp,
	}
	for _, o := range opts {
		o(&options)
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if options.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(options.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	if options.MaxTokens > 0 {
		body.MaxCompletionTokens = openai.Int(options.MaxTokens)
	}

	resp, err := c.api.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements Embedder for a single input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("llm: unexpected embedding result size: got %d want 1", len(out))
	}
	return out[0], nil
}

// EmbedBatch implements Embedder. Inputs beyond embedBatchSize are split into
// chunk requests executed concurrently; order is preserved.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	eg, ectx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		eg.Go(func() error {
			vecs, err := c.embedChunk(ectx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions implements Embedder.
func (c *Client) Dimensions() int { return c.embedDims }

func (c *Client) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	body := openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(c.embedModel),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions: openai.Int(int64(c.embedDims)),
	}

	resp, err := c.api.Embeddings.New(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("llm: embedding response size mismatch: got %d want %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("llm: embedding index out of range: %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
