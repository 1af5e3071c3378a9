package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router manages registered LLM providers and routes completion calls through
// the default one, retrying transient failures and falling back to the
// remaining providers in registration order.
type Router struct {
	providers map[string]Provider
	order     []string
	defaults  string
	retries   int
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		retries:   1,
		logger:    logger,
	}
}

// Register adds a provider to the router. The first registered provider
// becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; !exists {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// SetRetries configures how many times a failed call is retried on the same
// provider before moving to the next one.
func (r *Router) SetRetries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= 0 {
		r.retries = n
	}
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Complete routes a completion call. The default provider is tried first with
// bounded retries, then the remaining providers in registration order.
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	r.mu.RLock()
	chain := r.chain()
	retries := r.retries
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, errors.New("no providers registered")
	}

	var lastErr error
	for _, p := range chain {
		for attempt := 0; attempt <= retries; attempt++ {
			resp, err := p.Complete(ctx, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("complete via %s: %w", p.ID(), err)
			}
			r.logger.Warn("provider call failed",
				zap.String("provider", p.ID()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if attempt < retries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second << attempt):
				}
			}
		}
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// chain returns the default provider followed by the rest in registration
// order. Callers must hold at least a read lock.
func (r *Router) chain() []Provider {
	var chain []Provider
	if p, ok := r.providers[r.defaults]; ok {
		chain = append(chain, p)
	}
	for _, id := range r.order {
		if id == r.defaults {
			continue
		}
		chain = append(chain, r.providers[id])
	}
	return chain
}
