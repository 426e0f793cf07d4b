package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrModelNotFound is returned when a model checkpoint cannot be located.
var ErrModelNotFound = errors.New("model not found")

// ResolveModelPath returns the absolute path of an existing checkpoint file or directory.
func ResolveModelPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrModelNotFound)
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}

		return "", fmt.Errorf("error checking model path %q: %w", path, statErr)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %q: %w", path, err)
	}

	return absPath, nil
}
