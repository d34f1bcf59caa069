package embedding

import (
	"context"
	"sync"
)

// Factory builds a [Provider].
type Factory func(ctx context.Context) (Provider, error)

// Lazy builds its provider on first use and reuses it afterwards. A failed
// build is retried on the next call.
type Lazy struct {
	mu       sync.Mutex
	factory  Factory
	provider Provider
}

// NewLazy creates a [Lazy] around factory.
func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

// Get returns the provider, building it if needed.
func (l *Lazy) Get(ctx context.Context) (Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.provider != nil {
		return l.provider, nil
	}
	p, err := l.factory(ctx)
	if err != nil {
		return nil, err
	}
	l.provider = p
	return p, nil
}

func (l *Lazy) Embed(ctx context.Context, samples []float32, rate int) ([]float32, error) {
	p, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, samples, rate)
}
