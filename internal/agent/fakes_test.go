package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"relaybot/internal/domain"
	"relaybot/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newHistory(limit int) *history.Store {
	return history.New(history.Config{SystemPrompt: "sys", Limit: limit})
}

// fakeProvider answers through chat and records every request.
type fakeProvider struct {
	mu   sync.Mutex
	reqs []domain.ChatRequest
	chat func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.chat == nil {
		return &domain.ChatResponse{Content: "ok"}, nil
	}
	return p.chat(ctx, req)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func (p *fakeProvider) last() domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

// echoProvider replies with the last user turn prefixed by "re: ".
func echoProvider() *fakeProvider {
	return &fakeProvider{chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: "re: " + req.Messages[len(req.Messages)-1].Content}, nil
	}}
}

func failingProvider(err error) *fakeProvider {
	return &fakeProvider{chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}}
}

// blockingProvider waits for the request context to end.
func blockingProvider() *fakeProvider {
	return &fakeProvider{chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	filename string
	data     []byte
	onCall   func(filename string) // runs while the temp file still exists
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (*domain.TranscriptionResult, error) {
	data, _ := io.ReadAll(audio)
	f.mu.Lock()
	f.calls++
	f.filename = filename
	f.data = data
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(filename)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TranscriptionResult{Text: f.text}, nil
}

// fakeBus records outbound messages. sendErr and sendPanic simulate a broken channel.
type fakeBus struct {
	mu        sync.Mutex
	inbound   chan domain.InboundMessage
	sent      []domain.OutboundMessage
	sendErr   error
	sendPanic bool
	onSend    func(domain.OutboundMessage)
}

func newFakeBus() *fakeBus {
	return &fakeBus{inbound: make(chan domain.InboundMessage, 16)}
}

func (b *fakeBus) Publish(msg domain.InboundMessage)         { b.inbound <- msg }
func (b *fakeBus) Subscribe() <-chan domain.InboundMessage   { return b.inbound }
func (b *fakeBus) OnOutbound(string, domain.OutboundHandler) {}
func (b *fakeBus) Close()                                    { close(b.inbound) }

func (b *fakeBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	if b.sendPanic {
		panic("channel exploded")
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
	if b.onSend != nil {
		b.onSend(msg)
	}
	return nil
}

func (b *fakeBus) messages() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OutboundMessage(nil), b.sent...)
}

var errBoom = errors.New("service unavailable")

func staticFetch(mimeType string, data []byte) func(ctx context.Context) (*domain.Media, error) {
	return func(ctx context.Context) (*domain.Media, error) {
		return &domain.Media{MimeType: mimeType, Data: data}, nil
	}
}
