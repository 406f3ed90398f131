package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool
	outMu     sync.Mutex
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting for a reply
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until context is cancelled,
// stdin closes or the user types /quit.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(ctx context.Context, msg domain.OutboundMessage) error {
		c.stopThinking()
		c.outMu.Lock()
		defer c.outMu.Unlock()
		if c.spinner {
			fmt.Fprint(c.out, "\r\033[K") // clear spinner line
		}
		_, err := fmt.Fprintf(c.out, "\n--- relaybot ---\n%s\n----------------\nVocê> ", msg.Content)
		return err
	})

	c.print("relaybot CLI. Digite sua mensagem e pressione Enter.\n" +
		"/image <arquivo> envia uma imagem, /audio <arquivo> envia um áudio, /quit sai.\nVocê> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print("Você> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		msg, err := c.parseLine(line)
		if err != nil {
			c.print(err.Error() + "\nVocê> ")
			continue
		}

		c.startThinking()
		c.bus.Publish(msg)
	}
}

// parseLine turns a REPL line into an inbound message. "/image path" and
// "/audio path" attach a local file; anything else is sent as text.
func (c *CLI) parseLine(line string) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		Channel:   "cli",
		ChatID:    "direct",
		SenderID:  "user",
		Content:   line,
		Timestamp: time.Now(),
	}

	cmd, rest, _ := strings.Cut(line, " ")
	if cmd != "/image" && cmd != "/audio" {
		return msg, nil
	}

	path := strings.TrimSpace(rest)
	if path == "" {
		return msg, fmt.Errorf("uso: %s <arquivo>", cmd)
	}
	path = expandHome(path)
	if _, err := os.Stat(path); err != nil {
		return msg, fmt.Errorf("arquivo não encontrado: %s", path)
	}

	msg.Content = ""
	msg.Attachment = &domain.Attachment{
		MimeType: media.ByFilename(path),
		Filename: filepath.Base(path),
		Fetch: func(ctx context.Context) (*domain.Media, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return &domain.Media{MimeType: media.Detect(path, data), Filename: filepath.Base(path), Data: data}, nil
		},
	}
	return msg, nil
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Pensando...", frames[i%len(frames)]))
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, content)
	return err
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
