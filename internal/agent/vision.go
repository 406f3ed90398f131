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

type VisionGatewayConfig struct {
	Provider             domain.Provider
	History              *history.Store
	Model                string
	MaxTokens            int
	Instruction          string // prompt sent with the image
	CaptionAsInstruction bool   // a non-empty caption replaces Instruction
	Placeholder          string // user turn stored in place of the image
	FallbackReply        string
	Timeout              time.Duration
	Metrics              *metrics.Collector
	Logger               *slog.Logger
}

// VisionGateway describes an image in a single-shot request. Prior history is
// not sent; the exchange is recorded afterwards as placeholder + description.
type VisionGateway struct {
	provider             domain.Provider
	history              *history.Store
	model                string
	maxTokens            int
	instruction          string
	captionAsInstruction bool
	placeholder          string
	fallbackReply        string
	timeout              time.Duration
	metrics              *metrics.Collector
	logger               *slog.Logger
}

func NewVisionGateway(cfg VisionGatewayConfig) *VisionGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &VisionGateway{
		provider:             cfg.Provider,
		history:              cfg.History,
		model:                cfg.Model,
		maxTokens:            cfg.MaxTokens,
		instruction:          cfg.Instruction,
		captionAsInstruction: cfg.CaptionAsInstruction,
		placeholder:          cfg.Placeholder,
		fallbackReply:        cfg.FallbackReply,
		timeout:              cfg.Timeout,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger,
	}
}

func (g *VisionGateway) Reply(ctx context.Context, userID string, img domain.Media, caption string) Reply {
	instruction := g.instruction
	if g.captionAsInstruction && strings.TrimSpace(caption) != "" {
		instruction = strings.TrimSpace(caption)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Chat(callCtx, domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: instruction,
			Images:  []domain.Media{img},
		}},
		Model:     g.model,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		outcome, reason := classify(err)
		g.metrics.GatewayError(domain.PipelineVision, reason)
		g.logger.Error("image description failed",
			"user", userID,
			"pipeline", domain.PipelineVision,
			"provider", g.provider.Name(),
			"mime", img.MimeType,
			"size", len(img.Data),
			"reason", reason,
			"err", err,
		)
		return Reply{Text: g.fallbackReply, Outcome: outcome}
	}

	description := strings.TrimSpace(resp.Content)
	if description == "" {
		g.metrics.GatewayError(domain.PipelineVision, "empty")
		g.logger.Warn("image description empty", "user", userID, "provider", g.provider.Name())
		return Reply{Text: g.fallbackReply, Outcome: domain.OutcomeEmpty}
	}

	g.history.GetOrCreate(userID)
	g.history.Append(userID,
		domain.Message{Role: domain.RoleUser, Content: g.placeholder},
		domain.Message{Role: domain.RoleAssistant, Content: description},
	)
	return Reply{Text: description, Outcome: domain.OutcomeOK}
}
