// Package llm provides the completion and embedding clients used across the
// runbook engine. All generative work (document extraction, Cypher generation,
// passage compression, checklist synthesis) goes through CompletionClient;
// all vectors come from Embedder.
package llm

import "context"

// CompletionClient issues a single-turn text completion.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Embedder converts text into fixed-length dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length this embedder produces.
	Dimensions() int
}

// Options holds per-request generation settings.
type Options struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int64
}

// Option mutates request Options.
type Option func(*Options)

// WithModel overrides the client's default model for one request.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithSystemPrompt prepends a system message to the request.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Options) { o.Temperature = temp }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(o *Options) { o.MaxTokens = n }
}
