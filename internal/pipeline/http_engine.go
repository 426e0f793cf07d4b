package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
)

const (
	// HealthCheckTimeout bounds the health probe made while loading.
	HealthCheckTimeout = 10 * time.Second

	filePermissions = 0o600
)

// HTTPLoader builds generators backed by a standalone music HTTP service.
type HTTPLoader struct {
	client *HTTPClient
	log    *logger.Logger
}

// NewHTTPLoader creates a loader that talks to the service at baseURL.
func NewHTTPLoader(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPLoader {
	return NewHTTPLoaderWithClient(NewHTTPClient(baseURL, timeout), log)
}

// NewHTTPLoaderWithClient creates a loader around an existing client.
func NewHTTPLoaderWithClient(client *HTTPClient, log *logger.Logger) *HTTPLoader {
	return &HTTPLoader{
		client: client,
		log:    log,
	}
}

// Load checks service health and asks it to load the checkpoint.
func (l *HTTPLoader) Load(ctx context.Context, opts core.ModelOptions) (core.MusicGenerator, error) {
	healthCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := l.client.HealthCheck(healthCtx)
	if err != nil {
		return nil, fmt.Errorf("music service health check failed: %w", err)
	}

	err = l.client.LoadModel(ctx, LoadRequest{
		Path:      opts.Path,
		Device:    opts.Device,
		Precision: opts.Precision,
		Version:   opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model on music service: %w", err)
	}

	return &HTTPGenerator{
		client: l.client,
		log:    l.log,
	}, nil
}

// HTTPGenerator implements core.MusicGenerator over HTTP.
type HTTPGenerator struct {
	client *HTTPClient
	log    *logger.Logger
}

// Generate requests audio from the service and writes it to req.SavePath.
func (g *HTTPGenerator) Generate(ctx context.Context, req core.GenerationRequest) error {
	if req.SavePath == "" {
		return ErrSavePathEmpty
	}

	audioData, err := g.client.GenerateMusic(ctx, MusicRequest{
		Tags:             req.Tags,
		Lyrics:           req.Lyrics,
		MaxAudioLengthMS: req.MaxAudioLengthMS,
		TopK:             req.TopK,
		Temperature:      req.Temperature,
		CFGScale:         req.CFGScale,
	})
	if err != nil {
		return fmt.Errorf("failed to generate music: %w", err)
	}

	err = os.WriteFile(req.SavePath, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	g.log.Info("Generated audio: %s (%d bytes)", req.SavePath, len(audioData))

	return nil
}
