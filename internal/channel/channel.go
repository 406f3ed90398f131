// Package channel holds the messaging clients that feed the relay: each one
// turns platform updates into domain.InboundMessage values on the bus and
// registers an outbound handler for replies.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

var (
	_ domain.Channel = (*CLI)(nil)
	_ domain.Channel = (*Telegram)(nil)
	_ domain.Channel = (*WhatsApp)(nil)
	_ domain.Channel = (*WhatsAppWeb)(nil)
	_ domain.Channel = (*WebSocketChannel)(nil)
)

// maxMediaBytes caps a single attachment download.
const maxMediaBytes = 25 << 20

// mediaHTTPClient is used for attachment downloads. Per-call deadlines come
// from the relay's context.
var mediaHTTPClient = &http.Client{Timeout: 2 * time.Minute}

// download fetches url and resolves the payload type from the response, the
// type the platform declared, and the file itself.
func download(ctx context.Context, client *http.Client, url string, header http.Header, declared, filename string) (*domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}

	return &domain.Media{
		MimeType: media.Resolve(resp.Header.Get("Content-Type"), declared, filename, data),
		Filename: filename,
		Data:     data,
	}, nil
}

// splitMessage breaks msg into chunks of at most maxLen bytes, preferring
// newline boundaries. Chunks always end on a rune boundary.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		// Never cut inside a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// verifyHMAC verifies an "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
