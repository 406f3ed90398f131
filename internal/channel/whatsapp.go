package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

const (
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappMaxMsgLen = 4096
	maxWebhookBody    = 1 << 20
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
// Inbound messages arrive on a webhook mounted on the shared router.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
}

type WhatsAppChannelConfig struct {
	Config config.WhatsAppConfig
	Client *http.Client // optional
	Logger *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	if cfg.Config.APIBase == "" {
		cfg.Config.APIBase = whatsappAPIBase
	}
	cfg.Config.APIBase = strings.TrimRight(cfg.Config.APIBase, "/")
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = "/webhook/whatsapp"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WhatsApp{
		cfg:    cfg.Config,
		logger: cfg.Logger,
		client: cfg.Client,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Start registers the outbound handler. Delivery happens on the webhook, so
// Start returns immediately.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	bus.OnOutbound("whatsapp", func(ctx context.Context, msg domain.OutboundMessage) error {
		return w.sendMessage(ctx, msg.ChatID, msg.ReplyTo, msg.Content)
	})
	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

func (w *WhatsApp) Send(ctx context.Context, chatID string, content string) error {
	return w.sendMessage(ctx, chatID, "", content)
}

// Mount registers the webhook verification and delivery routes.
func (w *WhatsApp) Mount(r chi.Router) {
	r.Get(w.cfg.WebhookPath, w.handleVerification)
	r.Post(w.cfg.WebhookPath, w.handleIncoming)
}

// handleVerification answers the subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && w.cfg.VerifyToken != "" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" && !verifyHMAC(body, w.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg, ok := w.toInbound(m)
				if !ok {
					w.logger.Debug("whatsapp message skipped", "type", m.Type, "id", m.ID)
					continue
				}
				w.logger.Info("whatsapp message received",
					"from", m.From,
					"type", m.Type,
					"text_len", len(msg.Content),
				)
				w.bus.Publish(msg)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsApp) toInbound(m waMessage) (domain.InboundMessage, bool) {
	msg := domain.InboundMessage{
		Channel:   "whatsapp",
		ChatID:    m.From,
		SenderID:  m.From,
		MessageID: m.ID,
		Timestamp: time.Now(),
	}
	if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		msg.Timestamp = time.Unix(ts, 0)
	}

	var ref *waMedia
	filename := ""
	switch m.Type {
	case "text":
		if m.Text != nil {
			msg.Content = strings.TrimSpace(m.Text.Body)
		}
	case "image":
		ref = m.Image
	case "audio":
		ref = m.Audio
		filename = "voice.ogg"
	case "document":
		ref = m.Document
		if ref != nil {
			filename = ref.Filename
		}
	case "video":
		ref = m.Video
	case "sticker":
		ref = m.Sticker
		filename = "sticker.webp"
	default:
		return msg, false
	}

	if ref != nil && ref.ID != "" {
		msg.Content = strings.TrimSpace(ref.Caption)
		msg.Attachment = w.attachment(ref.ID, ref.MimeType, filename)
	}
	if msg.Content == "" && msg.Attachment == nil {
		return msg, false
	}
	return msg, true
}

func (w *WhatsApp) attachment(mediaID, mimeType, filename string) *domain.Attachment {
	return &domain.Attachment{
		MimeType: mimeType,
		Filename: filename,
		Fetch: func(ctx context.Context) (*domain.Media, error) {
			info, err := w.mediaInfo(ctx, mediaID)
			if err != nil {
				return nil, err
			}
			declared := info.MimeType
			if declared == "" {
				declared = mimeType
			}
			return download(ctx, w.client, info.URL, w.authHeader(), declared, filename)
		},
	}
}

// mediaInfo resolves a media id to its short-lived download URL.
func (w *WhatsApp) mediaInfo(ctx context.Context, mediaID string) (*waMediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.APIBase+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = w.authHeader()

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp media lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whatsapp media lookup %d: %s", resp.StatusCode, string(respBody))
	}
	var info waMediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("whatsapp media %s has no url", mediaID)
	}
	return &info, nil
}

func (w *WhatsApp) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	return h
}

// sendMessage sends a text message via the Cloud API. The first chunk quotes
// replyTo when set.
func (w *WhatsApp) sendMessage(ctx context.Context, to, replyTo, text string) error {
	for i, chunk := range splitMessage(text, whatsappMaxMsgLen) {
		payload := map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": chunk},
		}
		if i == 0 && replyTo != "" {
			payload["context"] = map[string]string{"message_id": replyTo}
		}
		if err := w.post(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *WhatsApp) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = w.authHeader()
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Audio     *waMedia `json:"audio,omitempty"`
	Document  *waMedia `json:"document,omitempty"`
	Video     *waMedia `json:"video,omitempty"`
	Sticker   *waMedia `json:"sticker,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

type waMediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}
