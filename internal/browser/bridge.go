// Package browser drives a Chrome instance with a persistent profile. It backs
// the WhatsApp Web channel and the pair command.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	WhatsAppURL = "https://web.whatsapp.com"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// ErrPairTimeout is returned when the session never reaches the chat list.
var ErrPairTimeout = errors.New("timed out waiting for whatsapp web login")

// Bridge manages Chrome instances sharing one user data directory, so a
// session paired once stays logged in.
type Bridge struct {
	profileDir string
	headless   bool
	selectors  Selectors
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool   // Run headless (true) or with visible UI (false)
	Selectors  Selectors
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".relaybot", "whatsapp-web")
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		selectors:  cfg.Selectors.withDefaults(),
		logger:     cfg.Logger,
	}
}

// Selectors returns the CSS selectors in use.
func (b *Bridge) Selectors() Selectors { return b.selectors }

// ProfileDir returns the Chrome user data directory.
func (b *Bridge) ProfileDir() string { return b.profileDir }

func (b *Bridge) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(userAgent),
	)
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewContext creates a new chromedp context with the bridge's Chrome profile.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	return b.newContext(parentCtx, b.headless)
}

func (b *Bridge) newContext(parentCtx context.Context, headless bool) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, b.allocatorOptions(headless)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}
	return taskCtx, cancelAll
}

// Open navigates taskCtx to WhatsApp Web and waits until the chat list is
// visible, logging any QR payload shown meanwhile.
func (b *Bridge) Open(taskCtx context.Context, timeout time.Duration) error {
	if err := chromedp.Run(taskCtx, chromedp.Navigate(WhatsAppURL), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigate to whatsapp web: %w", err)
	}
	return b.waitReady(taskCtx, timeout, nil)
}

// Pair opens a visible browser so the user can scan the QR code. Each new
// QR payload is logged and, when qrOut is set, the QR element is saved there
// as a PNG. Pair returns once the chat list shows up.
func (b *Bridge) Pair(ctx context.Context, qrOut string, timeout time.Duration) error {
	taskCtx, cancel := b.newContext(ctx, false)
	defer cancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(WhatsAppURL), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigate to whatsapp web: %w", err)
	}
	b.logger.Info("browser opened, scan the QR code with your phone")

	onQR := func(payload string) {
		if qrOut == "" {
			return
		}
		var png []byte
		if err := chromedp.Run(taskCtx, chromedp.Screenshot(b.selectors.QRCode, &png, chromedp.ByQuery)); err != nil {
			b.logger.Warn("qr screenshot failed", "err", err)
			return
		}
		if err := os.WriteFile(qrOut, png, 0o600); err != nil {
			b.logger.Warn("write qr image failed", "path", qrOut, "err", err)
			return
		}
		b.logger.Info("qr image written", "path", qrOut)
	}

	if err := b.waitReady(taskCtx, timeout, onQR); err != nil {
		return err
	}
	b.logger.Info("session saved", "profile", b.profileDir)
	return nil
}

// waitReady polls until the chat list is visible. A changed QR payload is
// logged and passed to onQR.
func (b *Bridge) waitReady(taskCtx context.Context, timeout time.Duration, onQR func(string)) error {
	deadline := time.Now().Add(timeout)
	lastQR := ""
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var state pageState
		err := chromedp.Run(taskCtx, chromedp.Evaluate(stateScript(b.selectors), &state))
		if err != nil {
			return fmt.Errorf("inspect whatsapp web: %w", err)
		}
		if state.Ready {
			b.logger.Info("ready")
			return nil
		}
		if state.QR != "" && state.QR != lastQR {
			lastQR = state.QR
			b.logger.Info("qr-code-payload", "payload", state.QR)
			if onQR != nil {
				onQR(state.QR)
			}
		}
		if time.Now().After(deadline) {
			return ErrPairTimeout
		}

		select {
		case <-taskCtx.Done():
			return taskCtx.Err()
		case <-ticker.C:
		}
	}
}

// EvaluateAsync runs a script that returns a promise and decodes its result.
func EvaluateAsync(taskCtx context.Context, script string, res any) error {
	return chromedp.Run(taskCtx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

type pageState struct {
	Ready bool   `json:"ready"`
	QR    string `json:"qr"`
}

func stateScript(sel Selectors) string {
	return fmt.Sprintf(`(function() {
	var ready = document.querySelector(%s) !== null;
	var qr = document.querySelector(%s);
	return {ready: ready, qr: qr ? (qr.getAttribute('data-ref') || '') : ''};
})()`, JSString(sel.ChatList), JSString(sel.QRCode))
}

// JSString renders s as a JavaScript string literal.
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
