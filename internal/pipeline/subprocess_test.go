package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Subprocess tests do not run in parallel: exec of a freshly written script
// can fail with ETXTBSY while another test forks.

// fakePipelineScript writes its arguments next to the output and a fixed
// payload to the path following --save_path.
const fakePipelineScript = `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--save_path" ]; then out="$arg"; fi
  prev="$arg"
done
printf '%s\n' "$@" > "$out.args"
printf 'ID3-subprocess' > "$out"
`

const failingPipelineScript = `#!/bin/sh
echo "CUDA error: out of memory" >&2
exit 3
`

const silentPipelineScript = `#!/bin/sh
exit 0
`

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "heartmula-generate")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))

	return path
}

func loadSubprocessGenerator(t *testing.T, script string) core.MusicGenerator {
	t.Helper()

	loader := pipeline.NewSubprocessLoader(writeScript(t, script), createTestLogger(t))

	generator, err := loader.Load(context.Background(), core.ModelOptions{
		Path:      t.TempDir(),
		Device:    "cuda",
		Precision: "bfloat16",
		Version:   "3B",
	})
	require.NoError(t, err)

	return generator
}

func TestSubprocessGenerator_Generate(t *testing.T) {
	generator := loadSubprocessGenerator(t, fakePipelineScript)
	savePath := filepath.Join(t.TempDir(), "job.mp3")

	err := generator.Generate(context.Background(), core.GenerationRequest{
		Tags:             "upbeat synth pop",
		Lyrics:           "[inst]\n[inst]\n[inst]",
		MaxAudioLengthMS: 240000,
		SavePath:         savePath,
		TopK:             50,
		Temperature:      1.0,
		CFGScale:         1.5,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(savePath)
	require.NoError(t, err)
	assert.Equal(t, "ID3-subprocess", string(data))

	args, err := os.ReadFile(savePath + ".args")
	require.NoError(t, err)

	argText := string(args)
	for _, want := range []string{
		"--tags\nupbeat synth pop\n",
		"--max_audio_length_ms\n240000\n",
		"--topk\n50\n",
		"--temperature\n1\n",
		"--cfg_scale\n1.5\n",
		"--version\n3B\n",
		"--dtype\nbfloat16\n",
	} {
		assert.True(t, strings.Contains(argText, want), "missing %q in %q", want, argText)
	}
}

func TestSubprocessGenerator_Failure(t *testing.T) {
	generator := loadSubprocessGenerator(t, failingPipelineScript)

	err := generator.Generate(context.Background(), core.GenerationRequest{
		Tags:     "rock",
		SavePath: filepath.Join(t.TempDir(), "job.mp3"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestSubprocessGenerator_EmptyOutput(t *testing.T) {
	generator := loadSubprocessGenerator(t, silentPipelineScript)

	savePath := filepath.Join(t.TempDir(), "job.mp3")
	require.NoError(t, os.WriteFile(savePath, nil, 0o600))

	err := generator.Generate(context.Background(), core.GenerationRequest{Tags: "rock", SavePath: savePath})
	require.ErrorIs(t, err, pipeline.ErrEmptyOutput)
}

func TestSubprocessGenerator_RequiresTags(t *testing.T) {
	generator := loadSubprocessGenerator(t, fakePipelineScript)

	err := generator.Generate(context.Background(), core.GenerationRequest{SavePath: "/tmp/x.mp3"})
	require.ErrorIs(t, err, pipeline.ErrTagsEmpty)
}

func TestSubprocessLoader_MissingModel(t *testing.T) {
	loader := pipeline.NewSubprocessLoader(writeScript(t, fakePipelineScript), createTestLogger(t))

	_, err := loader.Load(context.Background(), core.ModelOptions{Path: "/definitely/not/a/checkpoint"})
	require.ErrorIs(t, err, pipeline.ErrModelNotFound)
}

func TestSubprocessLoader_MissingBinary(t *testing.T) {
	loader := pipeline.NewSubprocessLoader(filepath.Join(t.TempDir(), "missing-binary"), createTestLogger(t))

	_, err := loader.Load(context.Background(), core.ModelOptions{Path: t.TempDir()})
	require.Error(t, err)

	_, err = pipeline.NewSubprocessLoader("", createTestLogger(t)).Load(context.Background(), core.ModelOptions{})
	require.ErrorIs(t, err, pipeline.ErrBinaryPathEmpty)
}
