package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
)

const (
	scratchPattern  = "music-*." + AudioFormat
	dirPermissions  = 0o750
	msgInvalidInput = "invalid input: %v"
)

// GeneratorSource hands out the shared generator, constructing it on first use.
type GeneratorSource interface {
	Generator(ctx context.Context) (core.MusicGenerator, error)
}

// Handler processes music generation jobs.
type Handler struct {
	source     GeneratorSource
	scratchDir string
	log        *logger.Logger
}

// New creates a Handler. Output files are reserved in scratchDir, or in the
// system temp directory when scratchDir is empty.
func New(source GeneratorSource, scratchDir string, log *logger.Logger) (*Handler, error) {
	if scratchDir != "" {
		err := os.MkdirAll(scratchDir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch directory %s: %w", scratchDir, err)
		}
	}

	return &Handler{
		source:     source,
		scratchDir: scratchDir,
		log:        log,
	}, nil
}

// Handle runs one job. Invalid jobs yield an error record and a nil error.
// Failures after validation return a *GenerationError; the reserved output
// file is removed on every path.
func (h *Handler) Handle(ctx context.Context, job Job) (Result, error) {
	input, err := DecodeInput(job.Input)
	if err != nil {
		return ErrorResult(fmt.Sprintf(msgInvalidInput, err)), nil
	}

	if input.Prompt == "" {
		return ErrorResult(MsgPromptRequired), nil
	}

	params := input.Resolve()

	generator, err := h.source.Generator(ctx)
	if err != nil {
		return Result{}, &GenerationError{Stage: StageLoad, Err: err}
	}

	audio, err := h.generate(ctx, generator, params)
	if err != nil {
		return Result{}, err
	}

	return SuccessResult(audio), nil
}

func (h *Handler) generate(ctx context.Context, generator core.MusicGenerator, params Params) ([]byte, error) {
	savePath, release, err := h.reserveOutputPath()
	if err != nil {
		return nil, &GenerationError{Stage: StageScratch, Err: err}
	}
	defer release()

	start := time.Now()

	err = generator.Generate(ctx, params.request(savePath))
	if err != nil {
		return nil, &GenerationError{Stage: StageGenerate, Err: err}
	}

	audio, err := os.ReadFile(savePath)
	if err != nil {
		return nil, &GenerationError{Stage: StageRead, Err: err}
	}

	metrics.ObserveGeneration(time.Since(start), len(audio))

	return audio, nil
}

// reserveOutputPath creates an empty, uniquely named output file and returns
// its path with a func that deletes it.
func (h *Handler) reserveOutputPath() (string, func(), error) {
	file, err := os.CreateTemp(h.scratchDir, scratchPattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file for music output: %w", err)
	}

	path := file.Name()

	closeErr := file.Close()
	if closeErr != nil {
		_ = os.Remove(path)

		return "", nil, fmt.Errorf("failed to close temp file '%s': %w", path, closeErr)
	}

	release := func() {
		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			h.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
		}
	}

	return path, release, nil
}
