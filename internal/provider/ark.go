package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

// generator is the part of an eino chat model the Ark adapter needs.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ArkConfig configures the Volcengine Ark backend.
type ArkConfig struct {
	Name    string
	APIKey  string
	BaseURL string // e.g. "https://ark.cn-beijing.volces.com/api/v3"
	Model   string // endpoint id or model name
	Logger  *slog.Logger
}

// Ark implements domain.Provider on top of an eino chat model. The underlying
// client is built on first use so a misconfigured backend never blocks startup.
type Ark struct {
	cfg    ArkConfig
	logger *slog.Logger

	once    sync.Once
	initErr error
	model   generator
}

func NewArk(cfg ArkConfig) *Ark {
	if cfg.Name == "" {
		cfg.Name = "ark"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}
	return &Ark{cfg: cfg, logger: cfg.Logger}
}

// newArkWithModel wires a ready generator, used by tests.
func newArkWithModel(name string, m generator, logger *slog.Logger) *Ark {
	a := &Ark{cfg: ArkConfig{Name: name}, logger: logger, model: m}
	a.once.Do(func() {})
	return a
}

func (a *Ark) Name() string { return a.cfg.Name }

func (a *Ark) init(ctx context.Context) error {
	a.once.Do(func() {
		if a.cfg.APIKey == "" {
			a.initErr = errors.New("ark: apiKey is required")
			return
		}
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  a.cfg.APIKey,
			BaseURL: a.cfg.BaseURL,
			Model:   a.cfg.Model,
		})
		if err != nil {
			a.initErr = fmt.Errorf("create ark chat model: %w", err)
			return
		}
		a.model = cm
	})
	return a.initErr
}

// Healthy only checks that the client can be constructed; Ark has no cheap probe endpoint.
func (a *Ark) Healthy(ctx context.Context) error {
	return a.init(ctx)
}

func toSchemaMessages(msgs []domain.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		sm := &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content}
		if len(m.Images) > 0 {
			sm.Content = ""
			if m.Content != "" {
				sm.MultiContent = append(sm.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, img := range m.Images {
				sm.MultiContent = append(sm.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    media.DataURI(img),
						Detail: schema.ImageURLDetailAuto,
					},
				})
			}
		}
		out = append(out, sm)
	}
	return out
}

func (a *Ark) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := a.init(ctx); err != nil {
		return nil, err
	}

	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*req.TopP)))
	}

	start := time.Now()
	msg, err := a.model.Generate(ctx, toSchemaMessages(req.Messages), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", a.cfg.Name, err)
	}

	out := &domain.ChatResponse{
		Content:      msg.Content,
		FinishReason: "stop",
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if meta := msg.ResponseMeta; meta != nil {
		if meta.FinishReason != "" {
			out.FinishReason = meta.FinishReason
		}
		if meta.Usage != nil {
			out.Usage = domain.Usage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
				TotalTokens:      meta.Usage.TotalTokens,
			}
		}
	}
	return out, nil
}
