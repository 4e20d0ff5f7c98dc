package llm

import (
	"context"

	"github.com/RunbookAI/runbook-mvp/pkg/resilience"
)

// ResilientClient wraps a CompletionClient with a rate limiter and circuit
// breaker, so a misbehaving model endpoint cannot stall or flood the engine.
type ResilientClient struct {
	inner   CompletionClient
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewResilient wraps client. Either limiter or breaker may be nil to skip
// that protection.
func NewResilient(client CompletionClient, limiter *resilience.Limiter, breaker *resilience.Breaker) *ResilientClient {
	return &ResilientClient{inner: client, limiter: limiter, breaker: breaker}
}

// Complete waits for a rate limit token, then runs the completion through
// the circuit breaker.
func (c *ResilientClient) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if c.breaker == nil {
		return c.inner.Complete(ctx, prompt, opts...)
	}

	var reply string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		reply, err = c.inner.Complete(ctx, prompt, opts...)
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}
