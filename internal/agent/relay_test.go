package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/history"
)

type rig struct {
	bus      *fakeBus
	events   *bus.EventBus
	history  *history.Store
	text     *fakeProvider
	vision   *fakeProvider
	audio    *fakeTranscriber
	relay    *Relay
	loop     *Loop
	mu       sync.Mutex
	records  []domain.RelayRecord
	received int
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		bus:     newFakeBus(),
		events:  bus.NewEventBus(testLogger()),
		history: newHistory(7),
		text:    echoProvider(),
		vision: &fakeProvider{chat: func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Content: "uma foto"}, nil
		}},
		audio: &fakeTranscriber{text: "voz"},
	}
	r.events.OnRelayCompleted(func(rec domain.RelayRecord) {
		r.mu.Lock()
		r.records = append(r.records, rec)
		r.mu.Unlock()
	})
	r.events.On(bus.EventMessageReceived, func(e bus.Event) {
		r.mu.Lock()
		r.received++
		r.mu.Unlock()
	})

	text := newTestTextGateway(r.text, r.history, time.Second)
	r.relay = NewRelay(RelayConfig{
		Router:     newTestRouter(time.Second),
		Text:       text,
		Vision:     newTestVisionGateway(r.vision, r.history, false),
		Audio:      newTestAudioGateway(r.audio, text, t.TempDir()),
		Dispatcher: NewDispatcher(DispatcherConfig{Bus: r.bus, Timeout: time.Second, Logger: testLogger()}),
		History:    r.history,
		Events:     r.events,
		Commands:   true,
		ResetReply: "reset done",
		Logger:     testLogger(),
	})
	r.loop = NewLoop(LoopConfig{Bus: r.bus, Relay: r.relay, Events: r.events, Concurrency: 4, Logger: testLogger()})
	return r
}

func (r *rig) lastRecord() domain.RelayRecord {
	r.events.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

func TestRelay_Pipelines(t *testing.T) {
	tests := []struct {
		name     string
		msg      domain.InboundMessage
		pipeline domain.Pipeline
		reply    string
	}{
		{"text", domain.InboundMessage{Content: "oi"}, domain.PipelineText, "re: oi"},
		{"image", domain.InboundMessage{Attachment: &domain.Attachment{MimeType: "image/png", Fetch: staticFetch("image/png", []byte("p"))}}, domain.PipelineVision, "uma foto"},
		{"voice", domain.InboundMessage{Attachment: &domain.Attachment{MimeType: "audio/ogg", Fetch: staticFetch("audio/ogg", []byte("o"))}}, domain.PipelineTranscription, "re: voz"},
		{"pdf", domain.InboundMessage{Attachment: &domain.Attachment{MimeType: "application/pdf"}}, domain.PipelineNone, "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			tt.msg.ID, tt.msg.Channel, tt.msg.ChatID, tt.msg.SenderID, tt.msg.MessageID = "id-1", "test", "c1", "s1", "wamid"

			rec := r.relay.Handle(context.Background(), tt.msg)
			assert.Equal(t, tt.pipeline, rec.Pipeline)
			assert.Equal(t, "test:s1", rec.UserID)
			assert.True(t, rec.Delivered)

			sent := r.bus.messages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.reply, sent[0].Content)
			assert.Equal(t, "wamid", sent[0].ReplyTo)
			assert.Equal(t, rec, r.lastRecord())
		})
	}
}

func TestRelay_UnsupportedDoesNotTouchGatewaysOrHistory(t *testing.T) {
	r := newRig(t)
	r.relay.Handle(context.Background(), domain.InboundMessage{
		Channel: "test", SenderID: "s1",
		Attachment: &domain.Attachment{MimeType: "application/pdf"},
	})
	assert.Zero(t, r.text.calls())
	assert.Zero(t, r.vision.calls())
	assert.Zero(t, r.audio.calls)
	assert.Equal(t, 0, r.history.Users())
	assert.Equal(t, domain.OutcomeUnsupported, r.lastRecord().Outcome)
}

func TestRelay_Commands(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	msg := func(s string) domain.InboundMessage {
		return domain.InboundMessage{Channel: "test", SenderID: "s1", Content: s}
	}

	r.relay.Handle(ctx, msg("oi"))
	require.Len(t, r.history.GetOrCreate("test:s1"), 3)

	rec := r.relay.Handle(ctx, msg("/reset"))
	assert.Equal(t, domain.PipelineCommand, rec.Pipeline)
	assert.Len(t, r.history.GetOrCreate("test:s1"), 1)

	r.relay.Handle(ctx, msg("/help"))
	r.relay.Handle(ctx, msg("/unknown thing"))

	sent := r.bus.messages()
	require.Len(t, sent, 4)
	assert.Equal(t, "reset done", sent[1].Content)
	assert.Contains(t, sent[2].Content, "/reset")
	assert.Equal(t, "re: /unknown thing", sent[3].Content, "unknown commands are relayed")
}

func TestRelay_CommandsDisabled(t *testing.T) {
	r := newRig(t)
	r.relay.commands = false
	r.relay.Handle(context.Background(), domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "/reset"})
	assert.Equal(t, domain.PipelineText, r.lastRecord().Pipeline)
}

func TestRelay_SendFailureIsRecorded(t *testing.T) {
	r := newRig(t)
	r.bus.sendErr = errBoom
	rec := r.relay.Handle(context.Background(), domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "oi"})
	assert.False(t, rec.Delivered)
	assert.Equal(t, domain.OutcomeOK, rec.Outcome)
}

func TestLoop_SameUserKeepsArrivalOrder(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "primeira"})
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "segunda"})
	r.loop.Wait()

	turns := r.history.GetOrCreate("test:s1")
	require.Len(t, turns, 5)
	assert.Equal(t, "primeira", turns[1].Content)
	assert.Equal(t, "re: primeira", turns[2].Content)
	assert.Equal(t, "segunda", turns[3].Content)
	assert.Equal(t, "re: segunda", turns[4].Content)
}

func TestLoop_UsersDoNotBlockEachOther(t *testing.T) {
	r := newRig(t)
	release := make(chan struct{})
	r.text.chat = func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		last := req.Messages[len(req.Messages)-1].Content
		if last == "slow" {
			<-release
		}
		return &domain.ChatResponse{Content: "re: " + last}, nil
	}
	fastDone := make(chan struct{})
	r.bus.onSend = func(m domain.OutboundMessage) {
		if m.Content == "re: fast" {
			close(fastDone)
		}
	}

	ctx := context.Background()
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "a", Content: "slow"})
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "b", Content: "fast"})

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("user b waited for user a")
	}
	close(release)
	r.loop.Wait()
	assert.Len(t, r.bus.messages(), 2)
}

func TestLoop_SkipsSelfAndEmptyMessages(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "eco", FromSelf: true})
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "   "})
	r.loop.Wait()

	assert.Empty(t, r.bus.messages())
	assert.Zero(t, r.received)
}

func TestLoop_RunAssignsIDsAndStopsOnClose(t *testing.T) {
	r := newRig(t)
	r.bus.Publish(domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "oi"})
	r.bus.Close()

	done := make(chan struct{})
	go func() {
		r.loop.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after the inbound channel closed")
	}

	rec := r.lastRecord()
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, r.received)
}

func TestLoop_CancelledContextDropsQueuedWork(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "oi"})
	r.loop.Wait()
	assert.Zero(t, r.text.calls())
}

func TestLoop_InFlightMessageFinishesOnShutdown(t *testing.T) {
	r := newRig(t)
	started := make(chan struct{})
	release := make(chan struct{})
	r.text.chat = func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		close(started)
		select {
		case <-release:
			return &domain.ChatResponse{Content: "resposta"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.loop.Submit(ctx, domain.InboundMessage{Channel: "test", SenderID: "s1", Content: "oi"})
	<-started
	cancel()
	close(release)
	r.loop.Wait()

	rec := r.lastRecord()
	assert.Equal(t, domain.OutcomeOK, rec.Outcome)
	assert.True(t, rec.Delivered)
	sent := r.bus.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "resposta", sent[0].Content)
}
