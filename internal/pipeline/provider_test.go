package pipeline_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/book-expert/music-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLoadFailed = errors.New("checkpoint corrupt")

var _ metrics.ModelStatus = (*pipeline.Provider)(nil)

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, core.GenerationRequest) error { return nil }

type countingLoader struct {
	mu      sync.Mutex
	loads   int
	fail    bool
	nilGen  bool
	options []core.ModelOptions
}

func (c *countingLoader) Load(_ context.Context, opts core.ModelOptions) (core.MusicGenerator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loads++
	c.options = append(c.options, opts)

	if c.fail {
		return nil, errLoadFailed
	}

	if c.nilGen {
		return nil, nil
	}

	return nopGenerator{}, nil
}

func TestProvider_LoadsOnce(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	resolves := 0
	provider := pipeline.NewProvider(loader, func() core.ModelOptions {
		resolves++

		return core.ModelOptions{Path: "/app/ckpt", Version: "3B"}
	}, createTestLogger(t))

	assert.False(t, provider.Loaded())

	first, err := provider.Generator(context.Background())
	require.NoError(t, err)

	second, err := provider.Generator(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loader.loads)
	assert.Equal(t, 1, resolves)
	assert.True(t, provider.Loaded())
	assert.Equal(t, "/app/ckpt", provider.Options().Path)
}

func TestProvider_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	provider := pipeline.NewProvider(loader, func() core.ModelOptions { return core.ModelOptions{} }, createTestLogger(t))

	var waitGroup sync.WaitGroup

	for range 16 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, err := provider.Generator(context.Background())
			assert.NoError(t, err)
		}()
	}

	waitGroup.Wait()

	assert.Equal(t, 1, loader.loads)
}

func TestProvider_FailedLoadIsRetried(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{fail: true}
	resolves := 0
	provider := pipeline.NewProvider(loader, func() core.ModelOptions {
		resolves++

		return core.ModelOptions{Path: "/app/ckpt"}
	}, createTestLogger(t))

	_, err := provider.Generator(context.Background())
	require.ErrorIs(t, err, errLoadFailed)
	assert.False(t, provider.Loaded())

	loader.fail = false

	_, err = provider.Generator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loads)
	assert.Equal(t, 1, resolves)
}

func TestProvider_NilGenerator(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{nilGen: true}
	provider := pipeline.NewProvider(loader, func() core.ModelOptions { return core.ModelOptions{} }, createTestLogger(t))

	_, err := provider.Generator(context.Background())
	require.ErrorIs(t, err, pipeline.ErrNilGenerator)
}

// Environment is read once: a later change to MODEL_PATH must not rebuild the generator.
func TestProvider_EnvironmentReadOnce(t *testing.T) {
	t.Setenv(config.EnvModelPath, "/first/ckpt")
	t.Setenv(config.EnvModelVersion, "3B")

	loader := &countingLoader{}
	musicCfg := config.MusicServiceConfig{}
	provider := pipeline.NewProvider(loader, func() core.ModelOptions {
		return musicCfg.ModelOptions(os.LookupEnv)
	}, createTestLogger(t))

	_, err := provider.Generator(context.Background())
	require.NoError(t, err)

	t.Setenv(config.EnvModelPath, "/second/ckpt")

	_, err = provider.Generator(context.Background())
	require.NoError(t, err)

	require.Len(t, loader.options, 1)
	assert.Equal(t, "/first/ckpt", loader.options[0].Path)
	assert.Equal(t, "/first/ckpt", provider.Options().Path)
}

func TestNewLoader(t *testing.T) {
	t.Parallel()

	log := createTestLogger(t)

	subprocessLoader, err := pipeline.NewLoader(config.MusicServiceConfig{Engine: config.EngineSubprocess, BinaryPath: "gen"}, log)
	require.NoError(t, err)
	assert.IsType(t, &pipeline.SubprocessLoader{}, subprocessLoader)

	httpLoader, err := pipeline.NewLoader(config.MusicServiceConfig{Engine: config.EngineHTTP, ServiceURL: "http://gpu:9000"}, log)
	require.NoError(t, err)
	assert.IsType(t, &pipeline.HTTPLoader{}, httpLoader)

	_, err = pipeline.NewLoader(config.MusicServiceConfig{Engine: config.EngineHTTP}, log)
	require.ErrorIs(t, err, pipeline.ErrServiceURLEmpty)

	_, err = pipeline.NewLoader(config.MusicServiceConfig{Engine: "grpc"}, log)
	require.ErrorIs(t, err, pipeline.ErrUnknownEngine)
}
