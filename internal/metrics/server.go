package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/book-expert/music-service/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ModelStatus reports the state of the shared generator.
type ModelStatus interface {
	Loaded() bool
	Options() core.ModelOptions
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelPath    string `json:"model_path,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
}

// NewRouter returns the ops router serving /metrics and /healthz.
// Model details are reported once the generator has been loaded.
func NewRouter(status ModelStatus) http.Handler {
	router := chi.NewRouter()

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response := healthResponse{Status: "ok"}

		if status != nil && status.Loaded() {
			opts := status.Options()
			response.ModelLoaded = true
			response.ModelPath = opts.Path
			response.ModelVersion = opts.Version
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	return router
}
