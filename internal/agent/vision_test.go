package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
	"relaybot/internal/history"
)

func newTestVisionGateway(p domain.Provider, h *history.Store, captionAsInstruction bool) *VisionGateway {
	return NewVisionGateway(VisionGatewayConfig{
		Provider:             p,
		History:              h,
		Model:                "vision-model",
		MaxTokens:            512,
		Instruction:          "describe",
		CaptionAsInstruction: captionAsInstruction,
		Placeholder:          "[imagem]",
		FallbackReply:        "vision fallback",
		Timeout:              time.Second,
		Logger:               testLogger(),
	})
}

var testImage = domain.Media{MimeType: "image/png", Data: []byte("png")}

func TestVisionGateway_SingleShotAndAtomicAppend(t *testing.T) {
	h := newHistory(7)
	h.GetOrCreate("u1")
	h.Append("u1", domain.Message{Role: domain.RoleUser, Content: "earlier"})

	p := &fakeProvider{chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: " um gato "}, nil
	}}
	g := newTestVisionGateway(p, h, false)

	r := g.Reply(context.Background(), "u1", testImage, "ignored caption")
	assert.Equal(t, Reply{Text: "um gato", Outcome: domain.OutcomeOK}, r)

	req := p.last()
	require.Len(t, req.Messages, 1, "no history is sent with the image")
	assert.Equal(t, "describe", req.Messages[0].Content)
	require.Len(t, req.Messages[0].Images, 1)
	assert.Equal(t, "vision-model", req.Model)
	assert.Equal(t, 512, req.MaxTokens)

	turns := h.GetOrCreate("u1")
	require.Len(t, turns, 4)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "[imagem]"}, turns[2])
	assert.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "um gato"}, turns[3])
	assert.Nil(t, turns[2].Images)
}

func TestVisionGateway_CaptionAsInstruction(t *testing.T) {
	p := &fakeProvider{}
	g := newTestVisionGateway(p, newHistory(7), true)

	g.Reply(context.Background(), "u1", testImage, "what breed?")
	assert.Equal(t, "what breed?", p.last().Messages[0].Content)

	g.Reply(context.Background(), "u1", testImage, "  ")
	assert.Equal(t, "describe", p.last().Messages[0].Content)
}

func TestVisionGateway_FailureLeavesHistory(t *testing.T) {
	for name, p := range map[string]*fakeProvider{
		"error": failingProvider(errBoom),
		"empty": {chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{}, nil
		}},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHistory(7)
			r := newTestVisionGateway(p, h, false).Reply(context.Background(), "u1", testImage, "")
			assert.Equal(t, "vision fallback", r.Text)
			assert.NotEqual(t, domain.OutcomeOK, r.Outcome)
			assert.Len(t, h.GetOrCreate("u1"), 1)
		})
	}
}
