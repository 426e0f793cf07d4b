package handler

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed is the kind shared by every failure after validation.
var ErrGenerationFailed = errors.New("generation failed")

// Stages at which a GenerationError can occur.
const (
	StageLoad     = "load"
	StageScratch  = "scratch"
	StageGenerate = "generate"
	StageRead     = "read"
)

// GenerationError reports a failure to produce audio for a valid job.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrGenerationFailed, e.Stage, e.Err)
}

// Unwrap exposes both ErrGenerationFailed and the underlying cause.
func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}
