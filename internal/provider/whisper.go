package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"time"

	"relaybot/internal/domain"
)

// WhisperConfig configures the Whisper speech-to-text provider.
type WhisperConfig struct {
	APIBase  string // e.g., "https://api.groq.com/openai/v1" or "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g., "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	Language string // optional: ISO-639-1 language code
	Client   *http.Client
	Logger   *slog.Logger
}

// WhisperProvider implements domain.Transcriber against the OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperProvider struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &WhisperProvider{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

var _ domain.Transcriber = (*WhisperProvider)(nil)

// Healthy checks the endpoint and, when it lists models, that the configured
// transcription model is among them.
func (w *WhisperProvider) Healthy(ctx context.Context) error {
	models, err := listModels(ctx, w.client, w.apiBase, w.apiKey, "transcription")
	if err != nil {
		return err
	}
	if len(models) > 0 && !slices.Contains(models, w.model) {
		return fmt.Errorf("transcription model %s not offered by %s", w.model, w.apiBase)
	}
	return nil
}

// Transcribe uploads the audio as multipart form data. filename must carry the
// extension; the API infers the container from it.
func (w *WhisperProvider) Transcribe(ctx context.Context, audio io.Reader, filename string) (*domain.TranscriptionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	payload := body.Bytes()

	start := time.Now()
	resp, err := doWithRetry(ctx, w.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		return req, nil
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("whisper API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result domain.TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Debug("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &result, nil
}
