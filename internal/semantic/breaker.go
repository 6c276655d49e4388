package semantic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds the configuration for the index circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to
	// trip the circuit. Default: 3
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before
	// transitioning to half-open. Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes
	// required in half-open state to close the circuit again.
	// Default: 2
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	}
}

// GuardedIndex wraps an Index with a circuit breaker so a struggling
// vector store cannot stall the request path. While the circuit is
// open, every call fails fast with ErrEngineUnavailable.
type GuardedIndex struct {
	inner   Index
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
}

// Ensure GuardedIndex satisfies Index at compile time.
var _ Index = (*GuardedIndex)(nil)

// Guard wraps an index with a circuit breaker.
func Guard(inner Index, cfg BreakerConfig) *GuardedIndex {
	logger := log.New(log.Writer(), "[semantic] ", log.LstdFlags)

	settings := gobreaker.Settings{
		Name:        "SemanticIndex",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Interval:    0, // never clear counts periodically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("index circuit %s -> %s", from, to)
		},
	}

	return &GuardedIndex{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (g *GuardedIndex) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open", ErrEngineUnavailable)
	}
	return result, err
}

// Upsert passes through the breaker.
func (g *GuardedIndex) Upsert(ctx context.Context, userID, id, content string, embedding []float32) error {
	_, err := g.execute(func() (interface{}, error) {
		return nil, g.inner.Upsert(ctx, userID, id, content, embedding)
	})
	return err
}

// Delete passes through the breaker.
func (g *GuardedIndex) Delete(ctx context.Context, ids ...string) error {
	_, err := g.execute(func() (interface{}, error) {
		return nil, g.inner.Delete(ctx, ids...)
	})
	return err
}

// DeleteAll passes through the breaker.
func (g *GuardedIndex) DeleteAll(ctx context.Context, userID string) (int, error) {
	result, err := g.execute(func() (interface{}, error) {
		return g.inner.DeleteAll(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Search passes through the breaker.
func (g *GuardedIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error) {
	result, err := g.execute(func() (interface{}, error) {
		return g.inner.Search(ctx, userID, embedding, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Hit), nil
}

// ListIDs passes through the breaker.
func (g *GuardedIndex) ListIDs(ctx context.Context, userID string) ([]string, error) {
	result, err := g.execute(func() (interface{}, error) {
		return g.inner.ListIDs(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
