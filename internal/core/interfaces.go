// Package core defines the core business logic and interfaces for the music service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ModelOptions holds the parameters used to construct a generation pipeline.
type ModelOptions struct {
	Path      string
	Device    string
	Precision string
	Version   string
}

// GenerationRequest holds the inputs for a single music generation call.
// The pipeline writes the finished audio to SavePath.
type GenerationRequest struct {
	Tags             string
	Lyrics           string
	MaxAudioLengthMS int
	SavePath         string
	TopK             int
	Temperature      float64
	CFGScale         float64
}

// MusicGenerator defines the interface for a loaded text-to-music pipeline.
type MusicGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) error
}

// GeneratorLoader constructs a MusicGenerator. Loading is expected to be slow.
type GeneratorLoader interface {
	Load(ctx context.Context, opts ModelOptions) (MusicGenerator, error)
}
