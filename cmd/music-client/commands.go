package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/handler"
	"github.com/book-expert/music-service/internal/objectstore"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagNATSURL          = "nats-url"
	flagSubject          = "subject"
	flagTimeout          = "timeout"
	flagPrompt           = "prompt"
	flagLyrics           = "lyrics"
	flagMaxAudioLengthMS = "max-audio-length-ms"
	flagTemperature      = "temperature"
	flagTopK             = "topk"
	flagCFGScale         = "cfg-scale"
	flagOutput           = "output"
	flagBucket           = "bucket"
	flagKey              = "key"
	flagRemove           = "remove"
)

const (
	defaultOutputFile = "output.mp3"
	filePermissions   = 0o600
)

var (
	errPromptRequired = errors.New("--prompt must be provided")
	errKeyRequired    = errors.New("--key must be provided")
	errBucketRequired = errors.New("--bucket must be provided")
)

// clientOptions holds the persistent connection flags.
type clientOptions struct {
	natsURL string
	subject string
	timeout time.Duration
}

// fetchOptions holds the fetch command flags.
type fetchOptions struct {
	bucket string
	key    string
	output string
	remove bool
}

// generateOptions holds the generate command flags.
type generateOptions struct {
	prompt           string
	lyrics           string
	maxAudioLengthMS int
	temperature      float64
	topK             int
	cfgScale         float64
	output           string
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}

	root := &cobra.Command{
		Use:           "music-client",
		Short:         "Submit text-to-music jobs to the music-service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.natsURL, flagNATSURL, nats.DefaultURL, "NATS server URL")
	root.PersistentFlags().StringVar(&opts.subject, flagSubject, config.DefaultJobSubject, "Job subject")
	root.PersistentFlags().DurationVar(&opts.timeout, flagTimeout, config.NATSConfig{}.RequestTimeout(), "How long to wait for a result")

	root.AddCommand(newGenerateCmd(opts), newFetchCmd(opts))

	return root
}

func newGenerateCmd(opts *clientOptions) *cobra.Command {
	genOpts := &generateOptions{}

	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a track and write it as mp3",
		Example: "  music-client generate --prompt \"upbeat synth pop\" --output song.mp3",
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := buildJob(cmd, genOpts)
			if err != nil {
				return err
			}

			result, err := submitJob(cmd.Context(), opts, job)
			if err != nil {
				return err
			}

			err = writeAudio(result, genOpts.output)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated: %s\n", genOpts.output)

			if result.AudioKey != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Archived as: %s\n", result.AudioKey)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&genOpts.prompt, flagPrompt, "", "Style and genre tags (required)")
	flags.StringVar(&genOpts.lyrics, flagLyrics, handler.DefaultLyrics, "Song lyrics")
	flags.IntVar(&genOpts.maxAudioLengthMS, flagMaxAudioLengthMS, handler.DefaultMaxAudioLengthMS, "Maximum audio length in ms")
	flags.Float64Var(&genOpts.temperature, flagTemperature, handler.DefaultTemperature, "Sampling temperature")
	flags.IntVar(&genOpts.topK, flagTopK, handler.DefaultTopK, "Top-k sampling")
	flags.Float64Var(&genOpts.cfgScale, flagCFGScale, handler.DefaultCFGScale, "Classifier-free guidance scale")
	flags.StringVarP(&genOpts.output, flagOutput, "o", defaultOutputFile, "Output file path (.mp3)")

	return cmd
}

func newFetchCmd(opts *clientOptions) *cobra.Command {
	fetchOpts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download an archived track by key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fetchOpts.bucket == "" {
				return errBucketRequired
			}

			if fetchOpts.key == "" {
				return errKeyRequired
			}

			if fetchOpts.output == "" {
				fetchOpts.output = fetchOpts.key
			}

			contentType, err := fetchArchived(cmd.Context(), opts, fetchOpts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Fetched: %s\n", fetchOpts.output)

			if contentType != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Content type: %s\n", contentType)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&fetchOpts.bucket, flagBucket, "", "Audio object store bucket")
	flags.StringVar(&fetchOpts.key, flagKey, "", "Object key, e.g. <job id>.mp3")
	flags.StringVarP(&fetchOpts.output, flagOutput, "o", "", "Output file path (defaults to the key)")
	flags.BoolVar(&fetchOpts.remove, flagRemove, false, "Delete the object from the archive after download")

	return cmd
}

// buildJob sends only the flags the user set so the service applies its own defaults.
func buildJob(cmd *cobra.Command, genOpts *generateOptions) (handler.Job, error) {
	if genOpts.prompt == "" {
		return handler.Job{}, errPromptRequired
	}

	input := handler.Input{Prompt: genOpts.prompt}
	flags := cmd.Flags()

	if flags.Changed(flagLyrics) {
		input.Lyrics = &genOpts.lyrics
	}

	if flags.Changed(flagMaxAudioLengthMS) {
		input.MaxAudioLengthMS = &genOpts.maxAudioLengthMS
	}

	if flags.Changed(flagTemperature) {
		input.Temperature = &genOpts.temperature
	}

	if flags.Changed(flagTopK) {
		input.TopK = &genOpts.topK
	}

	if flags.Changed(flagCFGScale) {
		input.CFGScale = &genOpts.cfgScale
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return handler.Job{}, fmt.Errorf("failed to marshal job input: %w", err)
	}

	return handler.Job{ID: uuid.NewString(), Input: raw}, nil
}

func submitJob(ctx context.Context, opts *clientOptions, job handler.Job) (handler.Result, error) {
	natsConnection, err := nats.Connect(opts.natsURL, nats.Name("music-client"))
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to connect to NATS at %s: %w", opts.natsURL, err)
	}
	defer natsConnection.Close()

	payload, err := json.Marshal(job)
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	reply, err := natsConnection.RequestWithContext(ctx, opts.subject, payload)
	if err != nil {
		return handler.Result{}, fmt.Errorf("job %s failed: %w", job.ID, err)
	}

	var result handler.Result

	err = json.Unmarshal(reply.Data, &result)
	if err != nil {
		return handler.Result{}, fmt.Errorf("failed to decode job result: %w", err)
	}

	return result, nil
}

func writeAudio(result handler.Result, output string) error {
	if !result.Succeeded() {
		return fmt.Errorf("music-service rejected job: %s", result.Error)
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	err = os.WriteFile(output, audio, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	return nil
}

// fetchArchived writes the object to disk and returns its recorded content type.
func fetchArchived(ctx context.Context, opts *clientOptions, fetchOpts *fetchOptions) (string, error) {
	natsConnection, err := nats.Connect(opts.natsURL, nats.Name("music-client"))
	if err != nil {
		return "", fmt.Errorf("failed to connect to NATS at %s: %w", opts.natsURL, err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return "", fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.Open(ctx, js, fetchOpts.bucket)
	if err != nil {
		return "", err
	}

	audio, err := store.Download(ctx, fetchOpts.key)
	if err != nil {
		return "", err
	}

	contentType, err := store.ContentType(ctx, fetchOpts.key)
	if err != nil {
		return "", err
	}

	err = os.WriteFile(fetchOpts.output, audio, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	if fetchOpts.remove {
		err = store.Delete(ctx, fetchOpts.key)
		if err != nil {
			return "", err
		}
	}

	return contentType, nil
}
