package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/relaylog"
)

// checkResult tallies doctor outcomes.
type checkResult struct {
	passed, warned, failed int
}

func (r *checkResult) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (r *checkResult) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func (r *checkResult) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, credentials, relay log and
listening port are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n\n", version)

			var r checkResult

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'relaybot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "valid")

			doctorCredentials(&r, cfg)
			doctorChannels(&r, cfg)
			doctorRelayLog(&r, cfg)

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func doctorCredentials(r *checkResult, cfg *config.Config) {
	names := []string{cfg.Completion.Provider}
	if cfg.Vision.Provider != cfg.Completion.Provider {
		names = append(names, cfg.Vision.Provider)
	}
	for _, name := range names {
		if missingKey(cfg.Providers[name].APIKey) {
			r.fail("Provider: "+name, "no API key (set it in the config or the environment)")
		} else {
			r.pass("Provider: "+name, "API key configured")
		}
	}
	if missingKey(cfg.Transcription.APIKey) {
		r.warn("Transcription", "no API key, voice notes will get the fallback reply")
	} else {
		r.pass("Transcription", cfg.Transcription.Model)
	}
}

// missingKey reports an empty key or an unresolved ${VAR} reference.
func missingKey(key string) bool {
	return key == "" || strings.HasPrefix(key, "${")
}

func doctorChannels(r *checkResult, cfg *config.Config) {
	cc := cfg.Channels
	if cc.WhatsApp.Enabled && cc.WhatsApp.AppSecret == "" {
		r.warn("WhatsApp webhook", "no appSecret, inbound signatures are not verified")
	}
	if cc.WhatsAppWeb.Enabled {
		if _, err := os.Stat(cc.WhatsAppWeb.ProfileDir); err != nil {
			r.fail("WhatsApp Web", "no browser profile, run 'relaybot pair'")
		} else {
			r.pass("WhatsApp Web", cc.WhatsAppWeb.ProfileDir)
		}
	}
	if cc.WhatsApp.Enabled || cc.WebSocket.Enabled || cfg.Metrics.Enabled {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		if err := checkPort(addr); err != nil {
			r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", addr, err))
		} else {
			r.pass("HTTP port", addr+" available")
		}
	}
}

func doctorRelayLog(r *checkResult, cfg *config.Config) {
	if !cfg.RelayLog.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := relaylog.Open(ctx, cfg.RelayLog, logger)
	if err != nil {
		r.fail("Relay log", err.Error())
		return
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		r.fail("Relay log", fmt.Sprintf("cannot ping: %v", err))
		return
	}
	r.pass("Relay log", cfg.RelayLog.Driver)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
