// Package pipeline provides the text-to-music generation engines and the
// process-wide generator provider.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
)

// ErrNilGenerator is returned when a loader reports success without a generator.
var ErrNilGenerator = errors.New("loader returned a nil generator")

// Provider owns the shared generator. The generator is built on first use and
// reused for the lifetime of the process. A failed load is not cached.
type Provider struct {
	loader  core.GeneratorLoader
	resolve func() core.ModelOptions
	log     *logger.Logger

	mu        sync.Mutex
	generator core.MusicGenerator
	options   core.ModelOptions
	resolved  bool
}

// NewProvider creates a Provider. resolve is called once, right before the
// first load attempt, so environment-derived options are read at that moment only.
func NewProvider(loader core.GeneratorLoader, resolve func() core.ModelOptions, log *logger.Logger) *Provider {
	return &Provider{
		loader:  loader,
		resolve: resolve,
		log:     log,
	}
}

// Generator returns the shared generator, loading it if needed.
func (p *Provider) Generator(ctx context.Context) (core.MusicGenerator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generator != nil {
		return p.generator, nil
	}

	if !p.resolved {
		p.options = p.resolve()
		p.resolved = true
	}

	opts := p.options

	p.log.Info("Loading music model from %s, version %s...", opts.Path, opts.Version)

	start := time.Now()
	generator, err := p.loader.Load(ctx, opts)

	if err == nil && generator == nil {
		err = ErrNilGenerator
	}

	metrics.ObserveModelLoad(time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("failed to load music model from %s: %w", opts.Path, err)
	}

	p.log.Info("Model loaded successfully in %s.", time.Since(start).Round(time.Millisecond))

	p.generator = generator

	return generator, nil
}

// Loaded reports whether the shared generator has been constructed.
func (p *Provider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.generator != nil
}

// Options returns the resolved model options, or the zero value before the first load attempt.
func (p *Provider) Options() core.ModelOptions {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.options
}
