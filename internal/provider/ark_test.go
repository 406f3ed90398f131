package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

type fakeGenerator struct {
	input []*schema.Message
	opts  *model.Options
	resp  *schema.Message
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.opts = model.GetCommonOptions(nil, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestArk_Chat_MapsMessagesAndOptions(t *testing.T) {
	gen := &fakeGenerator{resp: &schema.Message{
		Role:    schema.Assistant,
		Content: "resposta",
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		},
	}}
	a := newArkWithModel("ark", gen, testLogger())

	resp, err := a.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "oi"},
		},
		MaxTokens:   256,
		Temperature: ptr(0.5),
		TopP:        ptr(0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, "resposta", resp.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	require.Len(t, gen.input, 2)
	assert.Equal(t, schema.System, gen.input[0].Role)
	assert.Equal(t, "oi", gen.input[1].Content)

	require.NotNil(t, gen.opts.MaxTokens)
	assert.Equal(t, 256, *gen.opts.MaxTokens)
	require.NotNil(t, gen.opts.Temperature)
	assert.InDelta(t, 0.5, *gen.opts.Temperature, 1e-6)
	require.NotNil(t, gen.opts.TopP)
	assert.InDelta(t, 0.9, *gen.opts.TopP, 1e-6)
}

func TestArk_Chat_ZeroTemperatureIsSent(t *testing.T) {
	gen := &fakeGenerator{resp: &schema.Message{Content: "ok"}}
	a := newArkWithModel("ark", gen, testLogger())

	_, err := a.Chat(context.Background(), domain.ChatRequest{Temperature: ptr(0)})
	require.NoError(t, err)
	require.NotNil(t, gen.opts.Temperature)
	assert.Zero(t, *gen.opts.Temperature)
	assert.Nil(t, gen.opts.TopP)
}

func TestArk_Chat_ImagesBecomeMultiContent(t *testing.T) {
	gen := &fakeGenerator{resp: &schema.Message{Content: "um gato"}}
	a := newArkWithModel("ark", gen, testLogger())

	_, err := a.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: "descreva",
			Images:  []domain.Media{{MimeType: "image/jpeg", Data: []byte("abc")}},
		}},
	})
	require.NoError(t, err)

	require.Len(t, gen.input, 1)
	parts := gen.input[0].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, parts[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,YWJj", parts[1].ImageURL.URL)
}

func TestArk_Chat_PropagatesError(t *testing.T) {
	boom := errors.New("quota")
	a := newArkWithModel("ark", &fakeGenerator{err: boom}, testLogger())
	_, err := a.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestArk_MissingKeyFailsLazily(t *testing.T) {
	a := NewArk(ArkConfig{Logger: testLogger()})
	assert.Error(t, a.Healthy(context.Background()))
	_, err := a.Chat(context.Background(), domain.ChatRequest{})
	assert.Error(t, err)
}
