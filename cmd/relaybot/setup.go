package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

var setupChannels = []struct {
	ID   string
	Desc string
}{
	{"cli", "Terminal chat"},
	{"telegram", "Telegram bot"},
	{"whatsapp", "WhatsApp Cloud API (webhook)"},
	{"whatsappWeb", "WhatsApp Web (browser session, needs 'relaybot pair')"},
	{"websocket", "WebSocket endpoint"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: API key → channels → save config",
		Long:  "Asks for the model API key and which channels to enable, then writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: 'relaybot chat' for the terminal, or 'relaybot run' for every enabled channel.")
			return nil
		},
	}
}

// runSetup walks the prompts and edits cfg in place.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		return def, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Model API key ---")
	name := cfg.Completion.Provider
	pc := cfg.Providers[name]
	key, err := prompt(fmt.Sprintf("API key for %s (paste the key or ${ENV_VAR})", name), "${GROQ_API_KEY}")
	if err != nil {
		return err
	}
	pc.APIKey = key
	cfg.Providers[name] = pc
	if cfg.Transcription.APIKey == "" || strings.HasPrefix(cfg.Transcription.APIKey, "${") {
		cfg.Transcription.APIKey = key
	}

	fmt.Fprintln(out, "\n--- Step 2: Channels ---")
	cc := &cfg.Channels
	for _, c := range setupChannels {
		def := "n"
		if channelEnabled(cc, c.ID) {
			def = "y"
		}
		ans, err := prompt(fmt.Sprintf("Enable %s (%s)? y/n", c.ID, c.Desc), def)
		if err != nil {
			return err
		}
		setChannel(cc, c.ID, strings.HasPrefix(strings.ToLower(ans), "y"))
	}

	if cc.Telegram.Enabled {
		tok, err := prompt("Telegram bot token (from @BotFather)", cc.Telegram.Token)
		if err != nil {
			return err
		}
		cc.Telegram.Token = tok
	}
	if cc.WhatsApp.Enabled {
		for _, f := range []struct {
			label string
			dst   *string
		}{
			{"WhatsApp phone number id", &cc.WhatsApp.PhoneNumberID},
			{"WhatsApp access token", &cc.WhatsApp.AccessToken},
			{"WhatsApp webhook verify token", &cc.WhatsApp.VerifyToken},
			{"WhatsApp app secret", &cc.WhatsApp.AppSecret},
		} {
			v, err := prompt(f.label, *f.dst)
			if err != nil {
				return err
			}
			*f.dst = v
		}
	}

	return config.Validate(cfg)
}

func channelEnabled(cc *config.ChannelsConfig, id string) bool {
	switch id {
	case "cli":
		return cc.CLI.Enabled
	case "telegram":
		return cc.Telegram.Enabled
	case "whatsapp":
		return cc.WhatsApp.Enabled
	case "whatsappWeb":
		return cc.WhatsAppWeb.Enabled
	case "websocket":
		return cc.WebSocket.Enabled
	}
	return false
}

func setChannel(cc *config.ChannelsConfig, id string, on bool) {
	switch id {
	case "cli":
		cc.CLI.Enabled = on
	case "telegram":
		cc.Telegram.Enabled = on
	case "whatsapp":
		cc.WhatsApp.Enabled = on
	case "whatsappWeb":
		cc.WhatsAppWeb.Enabled = on
	case "websocket":
		cc.WebSocket.Enabled = on
	}
}
