// Package handler turns music generation jobs into calls against the shared
// generation pipeline and packages the produced audio as a job result.
package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/events"
	"github.com/book-expert/music-service/internal/core"
)

// Input defaults.
const (
	DefaultLyrics           = "[inst]\n[inst]\n[inst]"
	DefaultMaxAudioLengthMS = 240_000
	DefaultTemperature      = 1.0
	DefaultTopK             = 50
	DefaultCFGScale         = 1.5
)

// Declared properties of every successful result.
const (
	AudioFormat = "mp3"
	SampleRate  = 48000
)

// MsgPromptRequired is the error record returned for jobs without a prompt.
const MsgPromptRequired = "prompt is required"

// Job is a single inbound unit of work.
type Job struct {
	ID     string              `json:"id,omitempty"`
	Header *events.EventHeader `json:"header,omitempty"`
	Input  json.RawMessage     `json:"input,omitempty"`
}

// WorkflowID identifies the job in logs.
func (j Job) WorkflowID() string {
	if j.Header != nil && j.Header.WorkflowID != "" {
		return j.Header.WorkflowID
	}

	return j.ID
}

// Input is the job payload. Optional fields are pointers so that an explicit
// zero value is distinguishable from an absent one.
type Input struct {
	Prompt           string   `json:"prompt"`
	Lyrics           *string  `json:"lyrics,omitempty"`
	MaxAudioLengthMS *int     `json:"max_audio_length_ms,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"topk,omitempty"`
	CFGScale         *float64 `json:"cfg_scale,omitempty"`
}

// ErrNotInteger is returned when an integer field holds a fractional number.
var ErrNotInteger = errors.New("must be an integer")

// UnmarshalJSON accepts integral JSON numbers in any notation (50, 50.0, 2.4e5)
// for the integer fields.
func (in *Input) UnmarshalJSON(data []byte) error {
	type plain Input

	var wire struct {
		plain
		MaxAudioLengthMS *json.Number `json:"max_audio_length_ms,omitempty"`
		TopK             *json.Number `json:"topk,omitempty"`
	}

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}

	decoded := Input(wire.plain)

	decoded.MaxAudioLengthMS, err = integerField("max_audio_length_ms", wire.MaxAudioLengthMS)
	if err != nil {
		return err
	}

	decoded.TopK, err = integerField("topk", wire.TopK)
	if err != nil {
		return err
	}

	*in = decoded

	return nil
}

func integerField(name string, number *json.Number) (*int, error) {
	if number == nil {
		return nil, nil
	}

	if value, err := number.Int64(); err == nil {
		converted := int(value)

		return &converted, nil
	}

	value, err := number.Float64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if value != math.Trunc(value) || value >= math.MaxInt64 || value < math.MinInt64 {
		return nil, fmt.Errorf("%s %s: %w", name, number.String(), ErrNotInteger)
	}

	converted := int(value)

	return &converted, nil
}

// Params are the effective generation parameters after defaulting.
type Params struct {
	Tags             string
	Lyrics           string
	MaxAudioLengthMS int
	Temperature      float64
	TopK             int
	CFGScale         float64
}

// DecodeInput parses a raw input object. Absent or null input decodes to an empty Input.
func DecodeInput(raw json.RawMessage) (Input, error) {
	var input Input

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return input, nil
	}

	err := json.Unmarshal(trimmed, &input)
	if err != nil {
		return Input{}, fmt.Errorf("failed to decode job input: %w", err)
	}

	return input, nil
}

// Resolve applies defaults to every absent optional field. Values are not range checked.
func (in Input) Resolve() Params {
	params := Params{
		Tags:             in.Prompt,
		Lyrics:           DefaultLyrics,
		MaxAudioLengthMS: DefaultMaxAudioLengthMS,
		Temperature:      DefaultTemperature,
		TopK:             DefaultTopK,
		CFGScale:         DefaultCFGScale,
	}

	if in.Lyrics != nil {
		params.Lyrics = *in.Lyrics
	}

	if in.MaxAudioLengthMS != nil {
		params.MaxAudioLengthMS = *in.MaxAudioLengthMS
	}

	if in.Temperature != nil {
		params.Temperature = *in.Temperature
	}

	if in.TopK != nil {
		params.TopK = *in.TopK
	}

	if in.CFGScale != nil {
		params.CFGScale = *in.CFGScale
	}

	return params
}

func (p Params) request(savePath string) core.GenerationRequest {
	return core.GenerationRequest{
		Tags:             p.Tags,
		Lyrics:           p.Lyrics,
		MaxAudioLengthMS: p.MaxAudioLengthMS,
		SavePath:         savePath,
		TopK:             p.TopK,
		Temperature:      p.Temperature,
		CFGScale:         p.CFGScale,
	}
}

// Result is either an error record or a success record.
type Result struct {
	AudioBase64 string `json:"audio_base64,omitempty"`
	Format      string `json:"format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	AudioKey    string `json:"audio_key,omitempty"`
	Error       string `json:"error,omitempty"`

	audio []byte
}

// ErrorResult builds an error record.
func ErrorResult(message string) Result {
	return Result{Error: message}
}

// SuccessResult builds a success record carrying the encoded audio.
func SuccessResult(audio []byte) Result {
	return Result{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Format:      AudioFormat,
		SampleRate:  SampleRate,
		audio:       audio,
	}
}

// Succeeded reports whether r is a success record.
func (r Result) Succeeded() bool {
	return r.Error == ""
}

// Audio returns the raw audio bytes of a success record produced in this process.
func (r Result) Audio() []byte {
	return r.audio
}
