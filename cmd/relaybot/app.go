package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/agent"
	"relaybot/internal/browser"
	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/relaylog"
	"relaybot/internal/server"
)

const busBuffer = 100

// app holds the relay core shared by the run and chat commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *bus.InMemoryBus
	events   *bus.EventBus
	history  *history.Store
	metrics  *metrics.Collector // nil when disabled
	relayLog relaylog.Store     // nil when disabled
	loop     *agent.Loop
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    bus.New(busBuffer, logger),
		events: bus.NewEventBus(logger),
		history: history.New(history.Config{
			SystemPrompt: cfg.Relay.SystemPrompt,
			Limit:        cfg.Relay.HistoryLimit,
		}),
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.metrics.Attach(a.events)
		a.metrics.TrackUsers(a.history.Users)
	}

	if cfg.RelayLog.Enabled {
		store, err := relaylog.Open(ctx, cfg.RelayLog, logger)
		if err != nil {
			return nil, fmt.Errorf("relay log: %w", err)
		}
		a.relayLog = store
		relaylog.NewRecorder(store, logger.With("component", "relaylog")).Attach(a.events)
	}

	factory := provider.NewFactory(cfg, logger)
	completion, err := factory.Completion()
	if err != nil {
		a.Close()
		return nil, err
	}
	vision, err := factory.Vision()
	if err != nil {
		a.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.Relay.CallTimeoutSeconds) * time.Second
	replies := cfg.Relay.Replies

	text := agent.NewTextGateway(agent.TextGatewayConfig{
		Provider:      completion,
		History:       a.history,
		Model:         cfg.Completion.Model,
		Temperature:   cfg.Completion.Temperature,
		MaxTokens:     cfg.Completion.MaxTokens,
		TopP:          cfg.Completion.TopP,
		Timeout:       timeout,
		FallbackReply: replies.CompletionFailed,
		EmptyReply:    replies.EmptyCompletion,
		Metrics:       a.metrics,
		Logger:        logger.With("pipeline", domain.PipelineText),
	})

	relay := agent.NewRelay(agent.RelayConfig{
		Router: agent.NewRouter(agent.RouterConfig{
			Timeout:             timeout,
			UnsupportedReply:    replies.UnsupportedMedia,
			DownloadFailedReply: replies.DownloadFailed,
			Logger:              logger,
		}),
		Text: text,
		Vision: agent.NewVisionGateway(agent.VisionGatewayConfig{
			Provider:             vision,
			History:              a.history,
			Model:                cfg.Vision.Model,
			MaxTokens:            cfg.Vision.MaxTokens,
			Instruction:          cfg.Relay.VisionInstruction,
			CaptionAsInstruction: cfg.Relay.CaptionAsInstruction,
			Placeholder:          replies.ImagePlaceholder,
			FallbackReply:        replies.VisionFailed,
			Timeout:              timeout,
			Metrics:              a.metrics,
			Logger:               logger.With("pipeline", domain.PipelineVision),
		}),
		Audio: agent.NewAudioGateway(agent.AudioGatewayConfig{
			Transcriber:   factory.Transcriber(),
			Text:          text,
			TempDir:       cfg.Transcription.TempDir,
			Timeout:       timeout,
			FallbackReply: replies.TranscriptionFailed,
			Metrics:       a.metrics,
			Logger:        logger.With("pipeline", domain.PipelineTranscription),
		}),
		Dispatcher: agent.NewDispatcher(agent.DispatcherConfig{
			Bus:     a.bus,
			Timeout: timeout,
			Logger:  logger,
		}),
		History:    a.history,
		Events:     a.events,
		Metrics:    a.metrics,
		Commands:   cfg.Relay.Commands,
		ResetReply: replies.HistoryReset,
		Logger:     logger,
	})

	a.loop = agent.NewLoop(agent.LoopConfig{
		Bus:         a.bus,
		Relay:       relay,
		Events:      a.events,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Logger:      logger,
	})
	return a, nil
}

// channels builds every enabled channel except the CLI, which the caller adds.
// ws is non-nil when the websocket channel is enabled.
func (a *app) channels() (chans []domain.Channel, wa *channel.WhatsApp, ws *channel.WebSocketChannel) {
	cc := a.cfg.Channels

	if cc.Telegram.Enabled {
		chans = append(chans, channel.NewTelegram(channel.TelegramConfig{
			Token:     cc.Telegram.Token,
			AllowFrom: cc.Telegram.AllowFrom,
			ParseMode: cc.Telegram.ParseMode,
			Logger:    a.logger.With("channel", "telegram"),
		}))
	}
	if cc.WhatsApp.Enabled {
		wa = channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config: cc.WhatsApp,
			Logger: a.logger.With("channel", "whatsapp"),
		})
		chans = append(chans, wa)
	}
	if cc.WhatsAppWeb.Enabled {
		chans = append(chans, channel.NewWhatsAppWeb(channel.WhatsAppWebConfig{
			Bridge:       newBridge(a.cfg, true, a.logger),
			PollInterval: time.Duration(cc.WhatsAppWeb.PollIntervalSeconds) * time.Second,
			Logger:       a.logger.With("channel", "whatsappweb"),
		}))
	}
	if cc.WebSocket.Enabled {
		ws = channel.NewWebSocketChannel(channel.WSConfig{Logger: a.logger.With("channel", "websocket")})
		chans = append(chans, ws)
	}
	return chans, wa, ws
}

func newBridge(cfg *config.Config, headless bool, logger *slog.Logger) *browser.Bridge {
	return browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Channels.WhatsAppWeb.ProfileDir,
		Headless:   headless,
		Selectors:  browser.DefaultSelectors().Override(cfg.Channels.WhatsAppWeb.Selectors),
		Logger:     logger.With("component", "browser"),
	})
}

// httpServer returns the shared listener, or nil when nothing needs it.
func (a *app) httpServer(wa *channel.WhatsApp, ws *channel.WebSocketChannel) *server.Server {
	if wa == nil && ws == nil && a.metrics == nil {
		return nil
	}
	cfg := server.Config{
		Host:   a.cfg.Server.Host,
		Port:   a.cfg.Server.Port,
		Health: a.health,
		Logger: a.logger.With("component", "http"),
	}
	if a.metrics != nil {
		cfg.Metrics = a.metrics.Handler()
		cfg.MetricsPath = a.cfg.Metrics.Endpoint
	}
	if wa != nil {
		cfg.Mounts = append(cfg.Mounts, wa)
	}
	if ws != nil {
		cfg.WebSocket = ws
		cfg.WSPath = a.cfg.Channels.WebSocket.Path
	}
	return server.New(cfg)
}

func (a *app) health() map[string]any {
	h := map[string]any{
		"version": version,
		"users":   a.history.Users(),
		"inbound": a.bus.Stats(),
	}
	if a.metrics != nil {
		h["uptime"] = humanize.RelTime(time.Now().Add(-a.metrics.Uptime()), time.Now(), "", "")
	}
	return h
}

// serve runs the loop, the channels and the HTTP server until ctx ends.
// When primary is set, its return also ends the run (the chat command).
func (a *app) serve(ctx context.Context, chans []domain.Channel, srv *server.Server, primary domain.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.loop.Run(gctx)
		return nil
	})

	for _, ch := range chans {
		g.Go(func() error {
			if ch == primary {
				defer cancel()
			}
			err := ch.Start(gctx, a.bus)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, channel.ErrNotPaired):
				a.logger.Error("channel disabled", "channel", ch.Name(), "err", err)
				return nil
			default:
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		})
		a.logger.Info("channel enabled", "channel", ch.Name())
	}

	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	for _, ch := range chans {
		if stopErr := ch.Stop(); stopErr != nil {
			a.logger.Warn("channel stop failed", "channel", ch.Name(), "err", stopErr)
		}
	}
	return err
}

func (a *app) Close() {
	a.bus.Close()
	a.events.Wait()
	if a.relayLog != nil {
		if err := a.relayLog.Close(); err != nil {
			a.logger.Warn("relay log close failed", "err", err)
		}
	}
}
