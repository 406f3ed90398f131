package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/channel"
	"relaybot/internal/domain"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway"},
		Short:   "Start every enabled channel and the relay",
		Long:    "Starts the enabled channels (Telegram, WhatsApp, WhatsApp Web, WebSocket, CLI), the HTTP server and the relay loop. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(false)
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCommand(true)
		},
	}
}

// serveCommand runs the relay. In chat mode only the CLI channel runs and
// quitting it ends the process; otherwise every enabled channel starts.
func serveCommand(chat bool) error {
	cfg, err := loadConfig(chat)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		chans   []domain.Channel
		primary domain.Channel
		srv     = a.httpServer(nil, nil)
	)
	if chat || cfg.Channels.CLI.Enabled {
		cli := channel.NewCLI(channel.CLIConfig{Logger: logger.With("channel", "cli"), Spinner: true})
		chans = append(chans, cli)
		if chat {
			primary = cli
		}
	}
	if !chat {
		more, wa, ws := a.channels()
		chans = append(chans, more...)
		srv = a.httpServer(wa, ws)
	}
	if len(chans) == 0 {
		logger.Warn("no channels enabled, only the HTTP server will run")
	}

	logger.Info("relaybot started", "version", version, "channels", len(chans))
	err = a.serve(ctx, chans, srv, primary)
	logger.Info("shutdown complete")
	return err
}

func pairCmd() *cobra.Command {
	var (
		qrOut   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link a WhatsApp Web session by scanning the QR code",
		Long:  "Opens web.whatsapp.com in a visible Chrome window. Scan the QR code with your phone; the session is stored in the profile directory for later headless use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bridge := newBridge(cfg, false, logger)
			if err := bridge.Pair(ctx, qrOut, timeout); err != nil {
				return err
			}
			logger.Info("paired", "profile", bridge.ProfileDir())
			return nil
		},
	}
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "also write the QR code to this PNG file")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the scan")
	return cmd
}
