package metrics_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModelStatus struct {
	loaded atomic.Bool
}

func (f *fakeModelStatus) Loaded() bool { return f.loaded.Load() }

func (f *fakeModelStatus) Options() core.ModelOptions {
	return core.ModelOptions{Path: "/app/ckpt", Version: "3B", Device: "cuda", Precision: "bfloat16"}
}

func TestRouter_Healthz(t *testing.T) {
	t.Parallel()

	status := &fakeModelStatus{}

	server := httptest.NewServer(metrics.NewRouter(status))
	defer server.Close()

	fetch := func() map[string]any {
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)

		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		return body
	}

	assert.Equal(t, map[string]any{"status": "ok", "model_loaded": false}, fetch())

	status.loaded.Store(true)
	assert.Equal(t, map[string]any{
		"status":        "ok",
		"model_loaded":  true,
		"model_path":    "/app/ckpt",
		"model_version": "3B",
	}, fetch())
}

func TestRouter_MetricsExposesJobCounters(t *testing.T) {
	t.Parallel()

	metrics.ObserveJob(metrics.OutcomeSuccess)
	metrics.ObserveGeneration(2*time.Second, 4096)
	metrics.ObserveModelLoad(time.Second, errors.New("boom"))

	server := httptest.NewServer(metrics.NewRouter(nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `music_jobs_total{outcome="success"}`)
	assert.Contains(t, text, "music_generation_duration_seconds")
	assert.Contains(t, text, `music_model_loads_total{result="error"}`)
}
