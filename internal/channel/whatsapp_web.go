package channel

import (
	"container/list"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"relaybot/internal/browser"
	"relaybot/internal/domain"
	"relaybot/internal/media"
)

const (
	waWebDefaultPoll     = 2 * time.Second
	waWebReadyTimeout    = 60 * time.Second
	waWebMaxChatsPerPoll = 10
	waWebSeenCapacity    = 2048
)

// ErrNotPaired is returned by Start when the profile has no logged-in session.
var ErrNotPaired = errors.New("whatsapp web session is not paired, run `relaybot pair` first")

type WhatsAppWebConfig struct {
	Bridge       *browser.Bridge
	PollInterval time.Duration
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// WhatsAppWeb drives web.whatsapp.com in a headless Chrome: it polls unread
// chats for incoming messages and replies by typing into the compose box.
// All tab access is serialized.
type WhatsAppWeb struct {
	bridge       *browser.Bridge
	sel          browser.Selectors
	interval     time.Duration
	readyTimeout time.Duration
	logger       *slog.Logger

	bus      domain.MessageBus
	tabMu    sync.Mutex
	tab      context.Context
	openChat string // chat JID currently shown in the tab
	seen     *seenSet
	collect  func(tab context.Context) ([]waWebMessage, error)
}

func NewWhatsAppWeb(cfg WhatsAppWebConfig) *WhatsAppWeb {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = waWebDefaultPoll
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = waWebReadyTimeout
	}
	w := &WhatsAppWeb{
		bridge:       cfg.Bridge,
		sel:          cfg.Bridge.Selectors(),
		interval:     cfg.PollInterval,
		readyTimeout: cfg.ReadyTimeout,
		logger:       cfg.Logger,
		seen:         newSeenSet(waWebSeenCapacity),
	}
	w.collect = w.collectUnread
	return w
}

func (w *WhatsAppWeb) Name() string { return "whatsappweb" }

// Start opens the session and polls until ctx is cancelled.
func (w *WhatsAppWeb) Start(ctx context.Context, bus domain.MessageBus) error {
	tab, cancel := w.bridge.NewContext(ctx)
	defer cancel()

	if err := w.bridge.Open(tab, w.readyTimeout); err != nil {
		if errors.Is(err, browser.ErrPairTimeout) {
			return ErrNotPaired
		}
		return err
	}

	w.tabMu.Lock()
	w.tab = tab
	w.bus = bus
	w.tabMu.Unlock()

	bus.OnOutbound(w.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		return w.Send(ctx, msg.ChatID, msg.Content)
	})
	w.logger.Info("whatsapp web channel polling", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("whatsapp web channel stopping")
			return nil
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("whatsapp web poll failed", "err", err)
			}
		}
	}
}

func (w *WhatsAppWeb) Stop() error { return nil }

// Send types content into the chat's compose box, opening the chat first
// when another one is shown.
func (w *WhatsAppWeb) Send(ctx context.Context, chatID string, content string) error {
	return w.inTab(ctx, func(tab context.Context) error {
		if w.openChat != chatID {
			phone, ok := phoneFromJID(chatID)
			if !ok {
				return fmt.Errorf("cannot open chat %s from whatsapp web", chatID)
			}
			err := chromedp.Run(tab,
				chromedp.Navigate(browser.WhatsAppURL+"/send?phone="+phone),
				chromedp.WaitVisible(w.sel.ComposeBox, chromedp.ByQuery),
			)
			if err != nil {
				return fmt.Errorf("open chat %s: %w", chatID, err)
			}
			w.openChat = chatID
		}

		err := chromedp.Run(tab,
			chromedp.Click(w.sel.ComposeBox, chromedp.ByQuery),
			chromedp.Evaluate(insertTextScript(content), nil),
			chromedp.KeyEvent(kb.Enter),
		)
		if err != nil {
			return fmt.Errorf("type reply: %w", err)
		}
		return nil
	})
}

// collectUnread opens up to waWebMaxChatsPerPoll unread chats and returns
// their newest incoming rows. Callers hold tabMu.
func (w *WhatsAppWeb) collectUnread(tab context.Context) ([]waWebMessage, error) {
	var batch []waWebMessage
	for i := 0; i < waWebMaxChatsPerPoll; i++ {
		var unread int
		if err := chromedp.Run(tab, chromedp.Evaluate(openUnreadScript(w.sel), &unread)); err != nil {
			return batch, fmt.Errorf("open unread chat: %w", err)
		}
		if unread <= 0 {
			return batch, nil
		}

		var raw []waWebMessage
		err := chromedp.Run(tab,
			chromedp.WaitVisible(w.sel.IncomingRow, chromedp.ByQuery),
			chromedp.Evaluate(collectScript(w.sel, unread), &raw),
		)
		if err != nil {
			return batch, fmt.Errorf("collect messages: %w", err)
		}
		for _, m := range raw {
			if chat, ok := parseDataID(m.ID); ok {
				w.openChat = chat.chat
			}
		}
		batch = append(batch, raw...)
	}
	return batch, nil
}

// inTab runs fn with exclusive access to the tab, giving up when ctx ends.
func (w *WhatsAppWeb) inTab(ctx context.Context, fn func(tab context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		w.tabMu.Lock()
		defer w.tabMu.Unlock()
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		if w.tab == nil {
			done <- errors.New("whatsapp web session not started")
			return
		}
		done <- fn(w.tab)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll opens each unread chat and publishes its newest incoming messages.
func (w *WhatsAppWeb) poll(ctx context.Context) error {
	var batch []waWebMessage
	err := w.inTab(ctx, func(tab context.Context) error {
		var err error
		batch, err = w.collect(tab)
		return err
	})
	if err != nil && ctx.Err() != nil {
		// The tab goroutine may still be filling batch.
		return err
	}

	for _, raw := range batch {
		if !w.seen.Add(raw.ID) {
			continue
		}
		msg, ok := w.toInbound(raw)
		if !ok || msg.FromSelf {
			continue
		}
		w.logger.Info("whatsapp web message received",
			"chat", msg.ChatID,
			"text_len", len(msg.Content),
			"attachment", msg.HasAttachment(),
		)
		w.bus.Publish(msg)
	}
	return err
}

// waWebMessage is what collectScript extracts from one message row.
type waWebMessage struct {
	ID        string `json:"id"` // data-id attribute
	Text      string `json:"text"`
	MediaKind string `json:"mediaKind"` // "image" | "audio" | ""
	MediaURL  string `json:"mediaUrl"`  // blob: URL
}

func (w *WhatsAppWeb) toInbound(m waWebMessage) (domain.InboundMessage, bool) {
	id, ok := parseDataID(m.ID)
	if !ok {
		return domain.InboundMessage{}, false
	}
	sender := id.participant
	if sender == "" {
		sender = id.chat
	}
	msg := domain.InboundMessage{
		Channel:   w.Name(),
		ChatID:    id.chat,
		SenderID:  sender,
		MessageID: id.id,
		FromSelf:  id.fromMe,
		Content:   strings.TrimSpace(m.Text),
		Timestamp: time.Now(),
	}

	if m.MediaURL != "" {
		declared := ""
		switch m.MediaKind {
		case "image":
			declared = "image/jpeg"
		case "audio":
			declared = "audio/ogg"
		}
		url := m.MediaURL
		msg.Attachment = &domain.Attachment{
			MimeType: declared,
			Fetch: func(ctx context.Context) (*domain.Media, error) {
				return w.fetchBlob(ctx, url, declared)
			},
		}
	}
	if msg.Content == "" && msg.Attachment == nil {
		return msg, false
	}
	return msg, true
}

// fetchBlob reads a blob: URL inside the page and returns its bytes.
func (w *WhatsAppWeb) fetchBlob(ctx context.Context, url, declared string) (*domain.Media, error) {
	var res struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	err := w.inTab(ctx, func(tab context.Context) error {
		return browser.EvaluateAsync(tab, blobScript(url), &res)
	})
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &domain.Media{MimeType: media.Resolve(res.Type, declared, "", data), Data: data}, nil
}

type dataID struct {
	fromMe      bool
	chat        string // e.g. 5511999999999@c.us or 1203...@g.us
	id          string
	participant string // group sender
}

// parseDataID splits a message row's data-id, "<fromMe>_<chat>_<id>[_<participant>]".
func parseDataID(s string) (dataID, bool) {
	parts := strings.Split(s, "_")
	if len(parts) < 3 || (parts[0] != "true" && parts[0] != "false") || !strings.Contains(parts[1], "@") {
		return dataID{}, false
	}
	d := dataID{fromMe: parts[0] == "true", chat: parts[1], id: parts[2]}
	if len(parts) > 3 {
		d.participant = strings.Join(parts[3:], "_")
	}
	return d, true
}

// phoneFromJID returns the phone number of a one-to-one chat.
func phoneFromJID(jid string) (string, bool) {
	user, server, ok := strings.Cut(jid, "@")
	if !ok || server != "c.us" || user == "" {
		return "", false
	}
	for _, r := range user {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return user, true
}

func openUnreadScript(sel browser.Selectors) string {
	return fmt.Sprintf(`(function() {
	var row = document.querySelector(%s);
	if (!row) return 0;
	var badge = row.querySelector('span[aria-label*="unread"]');
	var n = badge ? parseInt(badge.textContent, 10) : 1;
	var target = row.querySelector('[role="gridcell"]') || row;
	['mousedown', 'mouseup', 'click'].forEach(function(t) {
		target.dispatchEvent(new MouseEvent(t, {bubbles: true}));
	});
	return isNaN(n) || n < 1 ? 1 : n;
})()`, browser.JSString(sel.UnreadChat))
}

func collectScript(sel browser.Selectors, last int) string {
	return fmt.Sprintf(`(function() {
	var rows = Array.from(document.querySelectorAll(%s)).slice(-%d);
	return rows.map(function(row) {
		var holder = row.closest('[data-id]') || row.querySelector('[data-id]');
		var text = row.querySelector(%s);
		var img = row.querySelector('img[src^="blob:"]');
		var audio = row.querySelector('audio[src^="blob:"]');
		return {
			id: holder ? holder.getAttribute('data-id') : '',
			text: text ? text.innerText : '',
			mediaKind: img ? 'image' : (audio ? 'audio' : ''),
			mediaUrl: img ? img.src : (audio ? audio.src : '')
		};
	});
})()`, browser.JSString(sel.IncomingRow), last, browser.JSString(sel.MessageText))
}

func blobScript(url string) string {
	return fmt.Sprintf(`fetch(%s).then(function(r) { return r.blob(); }).then(function(b) {
	return new Promise(function(resolve, reject) {
		var fr = new FileReader();
		fr.onload = function() { resolve({type: b.type, data: String(fr.result).split(',')[1] || ''}); };
		fr.onerror = reject;
		fr.readAsDataURL(b);
	});
})`, browser.JSString(url))
}

func insertTextScript(text string) string {
	return fmt.Sprintf(`document.execCommand('insertText', false, %s)`, browser.JSString(text))
}

// seenSet remembers the most recent message ids so a chat polled twice does
// not relay the same message again.
type seenSet struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	ids   map[string]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{cap: capacity, order: list.New(), ids: make(map[string]*list.Element)}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = s.order.PushBack(id)
	for s.order.Len() > s.cap {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.ids, oldest.Value.(string))
	}
	return true
}
