package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

// ErrNoClient is returned when a reply targets a chat with no open connection.
var ErrNoClient = errors.New("no websocket client for chat")

// defaultWSReadLimit fits one base64 attachment of maxMediaBytes plus the
// JSON envelope.
const defaultWSReadLimit = maxMediaBytes*4/3 + 64<<10

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	ReadLimit int64 // largest inbound frame in bytes; 0 uses defaultWSReadLimit
	Logger    *slog.Logger
}

// WebSocketChannel accepts JSON messages over websocket connections served
// by the shared HTTP router.
type WebSocketChannel struct {
	readLimit int64
	logger    *slog.Logger

	mu      sync.RWMutex
	bus     domain.MessageBus
	clients map[string]*wsClient
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON protocol for WebSocket communication.
type WSMessage struct {
	Type       string        `json:"type"` // "message" | "status" | "error"
	Content    string        `json:"content,omitempty"`
	ChatID     string        `json:"chat_id,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	MessageID  string        `json:"message_id,omitempty"`
	ReplyTo    string        `json:"reply_to,omitempty"`
	Attachment *WSAttachment `json:"attachment,omitempty"`
}

// WSAttachment carries inline media; Data is base64.
type WSAttachment struct {
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// NewWebSocketChannel creates a new WebSocket channel.
func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultWSReadLimit
	}
	return &WebSocketChannel{
		readLimit: cfg.ReadLimit,
		logger:    cfg.Logger,
		clients:   make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start registers the outbound handler and closes all clients when ctx ends.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.attach(bus)
	ws.logger.Info("websocket channel ready")

	<-ctx.Done()
	ws.closeAllClients()
	return nil
}

func (ws *WebSocketChannel) attach(bus domain.MessageBus) {
	ws.mu.Lock()
	ws.bus = bus
	ws.mu.Unlock()
	bus.OnOutbound("websocket", func(ctx context.Context, msg domain.OutboundMessage) error {
		return ws.sendToChat(msg.ChatID, WSMessage{
			Type:    "message",
			Content: msg.Content,
			ChatID:  msg.ChatID,
			ReplyTo: msg.ReplyTo,
		})
	})
}

func (ws *WebSocketChannel) Stop() error {
	ws.closeAllClients()
	return nil
}

func (ws *WebSocketChannel) Send(ctx context.Context, chatID string, content string) error {
	return ws.sendToChat(chatID, WSMessage{Type: "message", Content: content, ChatID: chatID})
}

// ServeHTTP upgrades the connection. The chat id comes from ?chat_id= and
// defaults to a fresh id.
func (ws *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	bus := ws.bus
	ws.mu.RUnlock()
	if bus == nil {
		http.Error(w, "websocket channel not started", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(ws.readLimit)

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "ws-" + uuid.NewString()
	}

	client := &wsClient{
		conn:   conn,
		chatID: chatID,
	}

	clientID := fmt.Sprintf("%s-%p", chatID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID)
	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			client.send(WSMessage{Type: "error", Content: "invalid json", ChatID: chatID})
			continue
		}
		if wsMsg.Type != "message" {
			continue
		}

		msg, err := ws.toInbound(chatID, wsMsg)
		if err != nil {
			client.send(WSMessage{Type: "error", Content: err.Error(), ChatID: chatID})
			continue
		}
		bus.Publish(msg)
	}
}

func (ws *WebSocketChannel) toInbound(chatID string, m WSMessage) (domain.InboundMessage, error) {
	sender := m.UserID
	if sender == "" {
		sender = chatID
	}
	msg := domain.InboundMessage{
		Channel:   "websocket",
		ChatID:    chatID,
		SenderID:  sender,
		MessageID: m.MessageID,
		Content:   strings.TrimSpace(m.Content),
		Timestamp: time.Now(),
	}
	if m.Attachment == nil {
		return msg, nil
	}

	data, err := base64.StdEncoding.DecodeString(m.Attachment.Data)
	if err != nil {
		return msg, fmt.Errorf("attachment data is not base64: %w", err)
	}
	declared := m.Attachment.MimeType
	filename := m.Attachment.Filename
	msg.Attachment = &domain.Attachment{
		MimeType: declared,
		Filename: filename,
		Fetch: func(ctx context.Context) (*domain.Media, error) {
			return &domain.Media{
				MimeType: media.Resolve("", declared, filename, data),
				Filename: filename,
				Data:     data,
			}, nil
		},
	}
	return msg, nil
}

func (ws *WebSocketChannel) sendToChat(chatID string, msg WSMessage) error {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	delivered := 0
	var lastErr error
	for _, client := range ws.clients {
		if client.chatID != chatID {
			continue
		}
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			ws.logger.Debug("websocket write failed", "err", err)
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered > 0 {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("websocket write: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrNoClient, chatID)
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
