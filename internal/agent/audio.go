package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/media"
	"relaybot/internal/metrics"
)

type AudioGatewayConfig struct {
	Transcriber   domain.Transcriber
	Text          *TextGateway // receives the transcript as a typed message
	TempDir       string       // scratch directory for the audio file, os.TempDir when empty
	Timeout       time.Duration
	FallbackReply string
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// AudioGateway transcribes a voice note and chains the transcript into the
// text pipeline.
type AudioGateway struct {
	transcriber   domain.Transcriber
	text          *TextGateway
	tempDir       string
	timeout       time.Duration
	fallbackReply string
	metrics       *metrics.Collector
	logger        *slog.Logger
}

func NewAudioGateway(cfg AudioGatewayConfig) *AudioGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &AudioGateway{
		transcriber:   cfg.Transcriber,
		text:          cfg.Text,
		tempDir:       cfg.TempDir,
		timeout:       cfg.Timeout,
		fallbackReply: cfg.FallbackReply,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

func (g *AudioGateway) Reply(ctx context.Context, userID string, audio domain.Media) Reply {
	transcript, err := g.transcribe(ctx, audio)
	if err == nil && transcript == "" {
		err = errEmptyTranscript
	}
	if err != nil {
		outcome, reason := classify(err)
		if err == errEmptyTranscript {
			outcome, reason = domain.OutcomeEmpty, "empty"
		}
		g.metrics.GatewayError(domain.PipelineTranscription, reason)
		g.logger.Error("transcription failed",
			"user", userID,
			"pipeline", domain.PipelineTranscription,
			"mime", audio.MimeType,
			"size", len(audio.Data),
			"reason", reason,
			"err", err,
		)
		return Reply{Text: g.fallbackReply, Outcome: outcome}
	}

	g.logger.Debug("transcribed voice message", "user", userID, "chars", len(transcript))
	return g.text.Reply(ctx, userID, transcript)
}

// transcribe owns the temp file: it is removed before returning on every path.
func (g *AudioGateway) transcribe(ctx context.Context, audio domain.Media) (string, error) {
	path, cleanup, err := media.Materialize(g.tempDir, audio)
	defer cleanup()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open temp audio: %w", err)
	}
	defer f.Close()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.transcriber.Transcribe(callCtx, f, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
