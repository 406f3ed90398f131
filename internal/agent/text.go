package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/metrics"
)

type TextGatewayConfig struct {
	Provider      domain.Provider
	History       *history.Store
	Model         string
	Temperature   float64
	MaxTokens     int
	TopP          float64
	Timeout       time.Duration
	FallbackReply string // sent when the completion call fails
	EmptyReply    string // sent and stored when the completion is empty
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// TextGateway answers a typed (or transcribed) message with the user's
// bounded history as context.
type TextGateway struct {
	provider      domain.Provider
	history       *history.Store
	model         string
	temperature   float64
	maxTokens     int
	topP          float64
	timeout       time.Duration
	fallbackReply string
	emptyReply    string
	metrics       *metrics.Collector
	logger        *slog.Logger
}

func NewTextGateway(cfg TextGatewayConfig) *TextGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &TextGateway{
		provider:      cfg.Provider,
		history:       cfg.History,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		topP:          cfg.TopP,
		timeout:       cfg.Timeout,
		fallbackReply: cfg.FallbackReply,
		emptyReply:    cfg.EmptyReply,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Reply appends the user turn, asks for a completion over the whole window and
// stores the answer. On failure the user turn stays and no assistant turn is
// added, so a retry by the user sees its earlier message.
func (g *TextGateway) Reply(ctx context.Context, userID, text string) Reply {
	g.history.GetOrCreate(userID)
	g.history.Append(userID, domain.Message{Role: domain.RoleUser, Content: text})
	window := g.history.GetOrCreate(userID)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temperature, topP := g.temperature, g.topP
	resp, err := g.provider.Chat(callCtx, domain.ChatRequest{
		Messages:    window,
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		outcome, reason := classify(err)
		g.metrics.GatewayError(domain.PipelineText, reason)
		g.logger.Error("completion failed",
			"user", userID,
			"pipeline", domain.PipelineText,
			"provider", g.provider.Name(),
			"reason", reason,
			"err", err,
		)
		return Reply{Text: g.fallbackReply, Outcome: outcome}
	}

	content := strings.TrimSpace(resp.Content)
	outcome := domain.OutcomeOK
	if content == "" {
		content = g.emptyReply
		outcome = domain.OutcomeEmpty
	}
	g.history.Append(userID, domain.Message{Role: domain.RoleAssistant, Content: content})

	g.logger.Debug("completion done",
		"user", userID,
		"provider", g.provider.Name(),
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens,
	)
	return Reply{Text: content, Outcome: outcome}
}
