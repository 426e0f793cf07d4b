package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
)

var (
	// ErrBinaryPathEmpty indicates that no generation binary was configured.
	ErrBinaryPathEmpty = errors.New("generation binary path cannot be empty")
	// ErrTagsEmpty indicates that a generation request carried no tags.
	ErrTagsEmpty = errors.New("tags cannot be empty")
	// ErrSavePathEmpty indicates that a generation request carried no output path.
	ErrSavePathEmpty = errors.New("save path cannot be empty")
	// ErrEmptyOutput indicates that the pipeline exited cleanly without writing audio.
	ErrEmptyOutput = errors.New("pipeline produced no audio")
)

// SubprocessLoader builds generators that run the pipeline binary once per job.
type SubprocessLoader struct {
	binaryPath string
	log        *logger.Logger
}

// NewSubprocessLoader creates a loader for the given pipeline binary.
func NewSubprocessLoader(binaryPath string, log *logger.Logger) *SubprocessLoader {
	return &SubprocessLoader{
		binaryPath: binaryPath,
		log:        log,
	}
}

// Load validates the binary and the checkpoint location and returns a generator bound to them.
func (l *SubprocessLoader) Load(_ context.Context, opts core.ModelOptions) (core.MusicGenerator, error) {
	if l.binaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	binary, err := exec.LookPath(l.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to locate generation binary '%s': %w", l.binaryPath, err)
	}

	modelPath, err := ResolveModelPath(opts.Path)
	if err != nil {
		return nil, err
	}

	opts.Path = modelPath

	return &SubprocessGenerator{
		binary: binary,
		opts:   opts,
		log:    l.log,
	}, nil
}

// SubprocessGenerator implements core.MusicGenerator by calling the pipeline binary.
type SubprocessGenerator struct {
	binary string
	opts   core.ModelOptions
	log    *logger.Logger
}

// Generate runs the pipeline binary and waits for it to write req.SavePath.
func (g *SubprocessGenerator) Generate(ctx context.Context, req core.GenerationRequest) error {
	if req.Tags == "" {
		return ErrTagsEmpty
	}

	if req.SavePath == "" {
		return ErrSavePathEmpty
	}

	args := []string{
		"--model_path", g.opts.Path,
		"--device", g.opts.Device,
		"--dtype", g.opts.Precision,
		"--version", g.opts.Version,
		"--tags", req.Tags,
		"--lyrics", req.Lyrics,
		"--max_audio_length_ms", strconv.Itoa(req.MaxAudioLengthMS),
		"--topk", strconv.Itoa(req.TopK),
		"--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		"--cfg_scale", strconv.FormatFloat(req.CFGScale, 'f', -1, 64),
		"--save_path", req.SavePath,
		"--inference",
	}

	// #nosec G204 -- the binary is fixed at load time; job fields are passed as discrete args
	cmd := exec.CommandContext(ctx, g.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("generation binary execution failed: %w - output: %s", err, string(output))
	}

	info, err := os.Stat(req.SavePath)
	if err != nil {
		return fmt.Errorf("failed to stat generated audio '%s': %w", req.SavePath, err)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%w at '%s'", ErrEmptyOutput, req.SavePath)
	}

	g.log.Info("Generated audio: %s (%d bytes)", req.SavePath, info.Size())

	return nil
}
