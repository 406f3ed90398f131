package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"relaybot/internal/domain"
)

func startWS(t *testing.T) (*WebSocketChannel, *recordingBus, *httptest.Server) {
	t.Helper()
	return startWSWith(t, WSConfig{Logger: testLogger()})
}

func startWSWith(t *testing.T, cfg WSConfig) (*WebSocketChannel, *recordingBus, *httptest.Server) {
	t.Helper()
	ws := NewWebSocketChannel(cfg)
	bus := newRecordingBus()
	ws.attach(bus)
	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		ws.Stop()
		srv.Close()
	})
	return ws, bus, srv
}

func dialWS(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?chat_id=" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello WSMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "status" {
		t.Fatalf("expected status greeting, got %+v %v", hello, err)
	}
	return conn
}

func waitPublished(t *testing.T, bus *recordingBus, n int) []domain.InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := bus.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func TestWebSocket_TextAndReply(t *testing.T) {
	_, bus, srv := startWS(t)
	conn := dialWS(t, srv, "c1")

	if err := conn.WriteJSON(WSMessage{Type: "message", UserID: "ana", Content: "oi"}); err != nil {
		t.Fatal(err)
	}
	msgs := waitPublished(t, bus, 1)
	if msgs[0].Content != "oi" || msgs[0].ChatID != "c1" || msgs[0].UserKey() != "websocket:ana" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}

	if err := bus.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "websocket", ChatID: "c1", Content: "olá"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var reply WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Type != "message" || reply.Content != "olá" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWebSocket_Attachment(t *testing.T) {
	_, bus, srv := startWS(t)
	conn := dialWS(t, srv, "c2")

	data := base64.StdEncoding.EncodeToString([]byte("OggS"))
	conn.WriteJSON(WSMessage{Type: "message", Attachment: &WSAttachment{MimeType: "audio/ogg", Filename: "v.ogg", Data: data}})

	msgs := waitPublished(t, bus, 1)
	att := msgs[0].Attachment
	if att == nil || att.MimeType != "audio/ogg" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	m, err := att.Fetch(context.Background())
	if err != nil || string(m.Data) != "OggS" {
		t.Fatalf("fetch: %v %q", err, m.Data)
	}
}

func TestWebSocket_BadAttachmentReportsError(t *testing.T) {
	_, bus, srv := startWS(t)
	conn := dialWS(t, srv, "c3")

	conn.WriteJSON(WSMessage{Type: "message", Attachment: &WSAttachment{Data: "%%%"}})
	var resp WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "error" || len(bus.messages()) != 0 {
		t.Fatalf("expected error frame and nothing published, got %+v", resp)
	}
}

func TestWebSocket_NoClient(t *testing.T) {
	ws, _, _ := startWS(t)
	err := ws.Send(context.Background(), "nobody", "x")
	if !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
}

func TestWebSocket_DefaultReadLimitFitsLargestAttachment(t *testing.T) {
	ws := NewWebSocketChannel(WSConfig{Logger: testLogger()})
	if ws.readLimit < maxMediaBytes*4/3 {
		t.Fatalf("read limit %d cannot carry a %d byte attachment", ws.readLimit, maxMediaBytes)
	}
}

func TestWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	_, bus, srv := startWSWith(t, WSConfig{ReadLimit: 1024, Logger: testLogger()})
	conn := dialWS(t, srv, "big")

	big := base64.StdEncoding.EncodeToString(make([]byte, 4096))
	conn.WriteJSON(WSMessage{Type: "message", Attachment: &WSAttachment{MimeType: "image/png", Data: big}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err == nil {
		t.Fatalf("expected the connection to close, got %+v", resp)
	}
	if len(bus.messages()) != 0 {
		t.Fatal("oversized frame should not be published")
	}
}
