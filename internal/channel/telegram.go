package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramAPI is the part of *tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    telegramAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	t.attach(bot, bus)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) attach(bot telegramAPI, bus domain.MessageBus) {
	t.bot = bot
	t.bus = bus
	bus.OnOutbound("telegram", func(ctx context.Context, msg domain.OutboundMessage) error {
		return t.deliver(ctx, msg.ChatID, msg.ReplyTo, msg.Content)
	})
}

// Stop is a no-op: StopReceivingUpdates is already called when ctx is
// cancelled in Start, and calling it twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	return t.deliver(ctx, chatID, "", content)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	userID := m.From.ID
	chatID := m.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", m.From.UserName,
		)
		t.sendText(context.Background(), chatID, 0, "⛔ Acesso não autorizado.")
		return
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			t.sendText(context.Background(), chatID, m.MessageID,
				"👋 Olá! Envie uma mensagem de texto, uma imagem ou um áudio e eu respondo.\n\n/reset apaga o histórico da conversa.")
			return
		case "help":
			t.sendText(context.Background(), chatID, m.MessageID,
				"Envie texto, imagens ou mensagens de voz.\n\n/reset - apaga o histórico da conversa\n/help - mostra esta mensagem")
			return
		}
	}

	msg, ok := t.toInbound(m)
	if !ok {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(msg.Content),
		"attachment", msg.HasAttachment(),
	)

	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	t.bus.Publish(msg)
}

// toInbound maps a Telegram message to an inbound message. The caption of a
// media message becomes its content.
func (t *Telegram) toInbound(m *tgbotapi.Message) (domain.InboundMessage, bool) {
	msg := domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		MessageID: strconv.Itoa(m.MessageID),
		Content:   strings.TrimSpace(m.Text),
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if msg.Content == "" {
		msg.Content = strings.TrimSpace(m.Caption)
	}

	switch {
	case len(m.Photo) > 0:
		// Sizes are ordered smallest first.
		msg.Attachment = t.attachment(m.Photo[len(m.Photo)-1].FileID, "image/jpeg", "photo.jpg")
	case m.Voice != nil:
		mt := m.Voice.MimeType
		if mt == "" {
			mt = "audio/ogg"
		}
		msg.Attachment = t.attachment(m.Voice.FileID, mt, "voice.ogg")
	case m.Audio != nil:
		msg.Attachment = t.attachment(m.Audio.FileID, m.Audio.MimeType, m.Audio.FileName)
	case m.Document != nil:
		msg.Attachment = t.attachment(m.Document.FileID, m.Document.MimeType, m.Document.FileName)
	case m.Video != nil:
		mt := m.Video.MimeType
		if mt == "" {
			mt = "video/mp4"
		}
		msg.Attachment = t.attachment(m.Video.FileID, mt, "")
	case m.Sticker != nil:
		mt := "image/webp"
		if m.Sticker.IsAnimated {
			mt = "application/x-tgsticker"
		}
		msg.Attachment = t.attachment(m.Sticker.FileID, mt, "sticker.webp")
	}

	if msg.Content == "" && msg.Attachment == nil {
		return msg, false
	}
	return msg, true
}

func (t *Telegram) attachment(fileID, mimeType, filename string) *domain.Attachment {
	return &domain.Attachment{
		MimeType: mimeType,
		Filename: filename,
		Fetch: func(ctx context.Context) (*domain.Media, error) {
			url, err := t.bot.GetFileDirectURL(fileID)
			if err != nil {
				return nil, fmt.Errorf("telegram file url: %w", err)
			}
			return download(ctx, mediaHTTPClient, url, nil, mimeType, filename)
		},
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// deliver sends text to chatID in chunks; the first chunk quotes replyTo.
func (t *Telegram) deliver(ctx context.Context, chatID, replyTo, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	quote, _ := strconv.Atoi(replyTo)
	return t.sendText(ctx, id, quote, text)
}

func (t *Telegram) sendText(ctx context.Context, chatID int64, replyTo int, text string) error {
	for i, chunk := range splitMessage(text, telegramMaxMsgLen) {
		quote := 0
		if i == 0 {
			quote = replyTo
		}
		if err := t.sendChunk(ctx, chatID, quote, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends a single message chunk. Markdown is tried first and a parse
// error falls back to plain text; rate limiting backs off and retries.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, replyTo int, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		msg.ParseMode = t.parseMode

		if _, err = t.bot.Send(msg); err == nil {
			return nil
		}
		errStr := err.Error()

		if msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			msg.ParseMode = ""
			if _, err = t.bot.Send(msg); err == nil {
				return nil
			}
			errStr = err.Error()
		}

		if !strings.Contains(errStr, "Too Many Requests") && !strings.Contains(errStr, "429") {
			break
		}
		retryAfter := time.Duration(attempt+1) * 3 * time.Second
		t.logger.Warn("telegram rate limited, backing off",
			"retry_after", retryAfter, "attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return fmt.Errorf("telegram send: %w", err)
}
