package config

const defaultSystemPrompt = "Você é um assistente útil e amigável no WhatsApp. " +
	"Responda apenas às mensagens enviadas por usuários. " +
	"Seja claro, objetivo e mantenha um tom profissional e amigável."

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
		},
		Relay: RelayConfig{
			SystemPrompt:       defaultSystemPrompt,
			HistoryLimit:       7,
			CallTimeoutSeconds: 60,
			VisionInstruction:  "Descreva esta imagem em detalhes, em português.",
			Commands:           true,
			Replies: RepliesConfig{
				CompletionFailed:    "Desculpe, houve um erro ao processar sua mensagem.",
				EmptyCompletion:     "Não consegui gerar uma resposta.",
				VisionFailed:        "Desculpe, não consegui analisar a imagem.",
				TranscriptionFailed: "Desculpe, não consegui transcrever o áudio.",
				UnsupportedMedia:    "Desculpe, ainda não consigo processar esse tipo de arquivo.",
				DownloadFailed:      "Desculpe, não consegui baixar a mídia enviada.",
				ImagePlaceholder:    "[O usuário enviou uma imagem]",
				HistoryReset:        "Conversa reiniciada.",
			},
		},
		Providers: map[string]ProviderConfig{
			"groq": {
				Enabled:      true,
				Kind:         "openai",
				APIBase:      "https://api.groq.com/openai/v1",
				APIKey:       "${GROQ_API_KEY}",
				DefaultModel: "llama-3.3-70b-versatile",
			},
		},
		Completion: CompletionConfig{
			Provider:    "groq",
			Temperature: 1,
			MaxTokens:   1024,
			TopP:        1,
		},
		Vision: VisionConfig{
			Provider:  "groq",
			Model:     "meta-llama/llama-4-scout-17b-16e-instruct",
			MaxTokens: 1024,
		},
		Transcription: TranscriptionConfig{
			APIBase: "https://api.groq.com/openai/v1",
			APIKey:  "${GROQ_API_KEY}",
			Model:   "whisper-large-v3",
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
				APIBase:     "https://graph.facebook.com/v21.0",
			},
			WhatsAppWeb: WhatsAppWebConfig{
				Enabled:             false,
				ProfileDir:          "~/.relaybot/whatsapp-web",
				PollIntervalSeconds: 2,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Path:    "/ws",
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		RelayLog: RelayLogConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "~/.relaybot/relaylog.db",
		},
	}
}
