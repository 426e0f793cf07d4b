package pipeline

import (
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
)

var (
	// ErrUnknownEngine indicates an unsupported music_service.engine value.
	ErrUnknownEngine = errors.New("unknown generation engine")
	// ErrServiceURLEmpty indicates that the http engine has no service URL.
	ErrServiceURLEmpty = errors.New("service url cannot be empty for the http engine")
)

// NewLoader returns the loader for the configured engine.
func NewLoader(cfg config.MusicServiceConfig, log *logger.Logger) (core.GeneratorLoader, error) {
	switch cfg.Engine {
	case config.EngineSubprocess:
		return NewSubprocessLoader(cfg.BinaryPath, log), nil
	case config.EngineHTTP:
		if cfg.ServiceURL == "" {
			return nil, ErrServiceURLEmpty
		}

		return NewHTTPLoader(cfg.ServiceURL, cfg.Timeout(), log), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownEngine, cfg.Engine)
	}
}
