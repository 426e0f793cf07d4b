package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// API endpoints and paths.
const (
	apiGenerateMusic = "/v1/generate/music"
	apiLoadModel     = "/v1/models/load"
	apiHealth        = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/mpeg, got %s"
	errFmtServiceErrorWithCode  = "music service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "music service returned non-OK status: %s, body: %s"
)

// ErrReceivedEmptyAudio is returned when the service answers 200 with no body.
var ErrReceivedEmptyAudio = errors.New("received empty audio data")

// HTTPClient represents a client for a standalone music generation HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// MusicRequest defines the JSON payload for a generation request.
type MusicRequest struct {
	Tags             string  `json:"tags"`
	Lyrics           string  `json:"lyrics"`
	MaxAudioLengthMS int     `json:"max_audio_length_ms"`
	TopK             int     `json:"topk"`
	Temperature      float64 `json:"temperature"`
	CFGScale         float64 `json:"cfg_scale"`
}

// LoadRequest defines the JSON payload asking the service to load a checkpoint.
type LoadRequest struct {
	Path      string `json:"path"`
	Device    string `json:"device"`
	Precision string `json:"dtype"`
	Version   string `json:"version"`
}

// ErrorResponse represents a structured error response from the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates an HTTP client for the music service.
// A zero timeout leaves deadlines to the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateMusic sends a generation request and returns the raw mp3 bytes.
func (c *HTTPClient) GenerateMusic(ctx context.Context, req MusicRequest) ([]byte, error) {
	if req.Tags == "" {
		return nil, ErrTagsEmpty
	}

	resp, err := c.postJSON(ctx, apiGenerateMusic, contentTypeMPEG, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeMPEG {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// LoadModel asks the service to load the given checkpoint.
func (c *HTTPClient) LoadModel(ctx context.Context, req LoadRequest) error {
	resp, err := c.postJSON(ctx, apiLoadModel, contentTypeJSON, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	return nil
}

// HealthCheck verifies that the music service is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path, accept string, payload any) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to music service at %s: %w", c.baseURL, err)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
