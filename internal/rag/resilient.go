package rag

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"
)

// ResilientEmbedder calls the primary embedder while its breaker allows and
// answers from the local fallback otherwise. Primary failures never reach
// the caller; only cancellation of the caller's context does.
type ResilientEmbedder struct {
	primary  Embedder
	fallback Embedder
	breaker  *CircuitBreaker
	limiter  *rate.Limiter
}

var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wires the chain. primary may be nil, in which case
// every vector comes from fallback. limiter may be nil.
func NewResilientEmbedder(primary, fallback Embedder, breaker *CircuitBreaker, limiter *rate.Limiter) (*ResilientEmbedder, error) {
	if fallback == nil {
		return nil, &InvalidConfigError{Field: "fallback_embedder", Reason: "is required"}
	}
	if primary != nil && primary.Dimension() != fallback.Dimension() {
		return nil, &InvalidConfigError{
			Field:  "embedding_dimension",
			Reason: fmt.Sprintf("primary produces %d, fallback produces %d", primary.Dimension(), fallback.Dimension()),
		}
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(1, 0)
	}
	return &ResilientEmbedder{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		limiter:  limiter,
	}, nil
}

func (e *ResilientEmbedder) Dimension() int { return e.fallback.Dimension() }

func (e *ResilientEmbedder) ModelName() string {
	if e.primary != nil {
		return e.primary.ModelName()
	}
	return e.fallback.ModelName()
}

func (e *ResilientEmbedder) Breaker() *CircuitBreaker { return e.breaker }

func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := e.EmbedWithModel(ctx, text)
	return vec, err
}

// EmbedWithModel also returns the name of the embedder that produced the vector.
func (e *ResilientEmbedder) EmbedWithModel(ctx context.Context, text string) ([]float32, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	if e.primary != nil && e.breaker.Allow() {
		vec, err := e.callPrimary(ctx, text)
		if err == nil {
			e.breaker.RecordSuccess()
			return vec, e.primary.ModelName(), nil
		}
		if ctx.Err() != nil {
			e.breaker.ReleaseProbe()
			return nil, "", ctx.Err()
		}
		e.breaker.RecordFailure()
		log.Printf("primary embedding failed, using fallback: %v", err)
	}

	vec, err := e.fallback.Embed(ctx, text)
	if err != nil {
		return nil, "", err
	}
	return vec, e.fallback.ModelName(), nil
}

// EmbedAs embeds text with the embedder called model, so a query can be
// compared with chunks stored by that embedder. The primary is still gated
// by the breaker, and its failures are returned rather than replaced.
func (e *ResilientEmbedder) EmbedAs(ctx context.Context, model, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case model == e.fallback.ModelName():
		return e.fallback.Embed(ctx, text)
	case e.primary != nil && model == e.primary.ModelName():
		if !e.breaker.Allow() {
			return nil, fmt.Errorf("%w: circuit open", ErrEmbeddingService)
		}
		vec, err := e.callPrimary(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				e.breaker.ReleaseProbe()
				return nil, ctx.Err()
			}
			e.breaker.RecordFailure()
			return nil, err
		}
		e.breaker.RecordSuccess()
		return vec, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", ErrEmbeddingService, model)
	}
}

func (e *ResilientEmbedder) callPrimary(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingService, err)
		}
	}
	vec, err := e.primary.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	if len(vec) != e.fallback.Dimension() {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingService, &DimensionMismatchError{
			Expected: e.fallback.Dimension(),
			Actual:   len(vec),
		})
	}
	return vec, nil
}
