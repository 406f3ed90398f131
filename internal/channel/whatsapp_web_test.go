package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"relaybot/internal/browser"
)

func newTestWhatsAppWeb(t *testing.T) *WhatsAppWeb {
	t.Helper()
	b := browser.NewBridge(browser.BridgeConfig{ProfileDir: t.TempDir(), Headless: true, Logger: testLogger()})
	return NewWhatsAppWeb(WhatsAppWebConfig{Bridge: b, Logger: testLogger()})
}

func TestParseDataID(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want dataID
	}{
		{"false_5511999@c.us_3EB0A1", true, dataID{chat: "5511999@c.us", id: "3EB0A1"}},
		{"true_5511999@c.us_ABC", true, dataID{fromMe: true, chat: "5511999@c.us", id: "ABC"}},
		{"false_120363@g.us_3EB0_5511888@c.us", true, dataID{chat: "120363@g.us", id: "3EB0", participant: "5511888@c.us"}},
		{"garbage", false, dataID{}},
		{"maybe_5511@c.us_x", false, dataID{}},
		{"false_nochat_x", false, dataID{}},
	}
	for _, tt := range tests {
		got, ok := parseDataID(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseDataID(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPhoneFromJID(t *testing.T) {
	if p, ok := phoneFromJID("5511999@c.us"); !ok || p != "5511999" {
		t.Fatalf("got %q %v", p, ok)
	}
	for _, jid := range []string{"120363@g.us", "abc@c.us", "5511", "@c.us"} {
		if _, ok := phoneFromJID(jid); ok {
			t.Errorf("%q should not yield a phone number", jid)
		}
	}
}

func TestWhatsAppWeb_ToInbound(t *testing.T) {
	w := newTestWhatsAppWeb(t)

	msg, ok := w.toInbound(waWebMessage{ID: "false_5511999@c.us_M1", Text: " bom dia "})
	if !ok {
		t.Fatal("text message should convert")
	}
	if msg.Content != "bom dia" || msg.ChatID != "5511999@c.us" || msg.MessageID != "M1" || msg.UserKey() != "whatsappweb:5511999@c.us" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	msg, ok = w.toInbound(waWebMessage{ID: "false_120363@g.us_M2_5511888@c.us", MediaKind: "audio", MediaURL: "blob:https://web.whatsapp.com/x"})
	if !ok || msg.Attachment == nil || msg.Attachment.MimeType != "audio/ogg" {
		t.Fatalf("voice note should carry an audio attachment: %+v", msg)
	}
	if msg.SenderID != "5511888@c.us" {
		t.Fatalf("group sender should be the participant, got %q", msg.SenderID)
	}

	msg, ok = w.toInbound(waWebMessage{ID: "true_5511999@c.us_M3", Text: "eco"})
	if !ok || !msg.FromSelf {
		t.Fatal("own messages are flagged FromSelf")
	}

	if _, ok := w.toInbound(waWebMessage{ID: "false_5511999@c.us_M4"}); ok {
		t.Fatal("empty rows are skipped")
	}
}

func TestSeenSet(t *testing.T) {
	s := newSeenSet(2)
	if !s.Add("a") || s.Add("a") {
		t.Fatal("duplicate ids must be rejected")
	}
	s.Add("b")
	s.Add("c") // evicts a
	if !s.Add("a") {
		t.Fatal("evicted ids are new again")
	}
}

func TestScriptsEmbedSelectors(t *testing.T) {
	sel := browser.DefaultSelectors()
	if !strings.Contains(openUnreadScript(sel), sel.UnreadChat) {
		t.Error("unread script should use the unread selector")
	}
	script := collectScript(sel, 3)
	if !strings.Contains(script, "slice(-3)") || !strings.Contains(script, sel.MessageText) {
		t.Errorf("collect script missing pieces: %s", script)
	}
	if !strings.Contains(blobScript("blob:x"), `"blob:x"`) {
		t.Error("blob url should be quoted")
	}
	if !strings.Contains(insertTextScript("a\nb"), `"a\nb"`) {
		t.Error("text should be escaped")
	}
}

func TestWhatsAppWeb_PollPublishesCollectedMessages(t *testing.T) {
	w := newTestWhatsAppWeb(t)
	bus := newRecordingBus()
	w.bus = bus
	w.tab = context.Background()
	w.collect = func(tab context.Context) ([]waWebMessage, error) {
		return []waWebMessage{
			{ID: "false_5511999@c.us_M1", Text: "oi"},
			{ID: "false_5511999@c.us_M1", Text: "oi"},
			{ID: "true_5511999@c.us_M2", Text: "eco"},
		}, nil
	}

	if err := w.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	msgs := bus.messages()
	if len(msgs) != 1 || msgs[0].Content != "oi" {
		t.Fatalf("expected one published message, got %+v", msgs)
	}
}

func TestWhatsAppWeb_PollCancelledMidCollectPublishesNothing(t *testing.T) {
	w := newTestWhatsAppWeb(t)
	bus := newRecordingBus()
	w.bus = bus
	w.tab = context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	w.collect = func(tab context.Context) ([]waWebMessage, error) {
		defer close(finished)
		close(started)
		<-release
		return []waWebMessage{{ID: "false_5511999@c.us_M1", Text: "tarde"}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.poll(ctx) }()
	<-started
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return after cancellation")
	}
	close(release)
	<-finished
	if len(bus.messages()) != 0 {
		t.Fatal("a cancelled poll must not publish")
	}
}
