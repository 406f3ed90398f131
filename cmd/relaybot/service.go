package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

const (
	launchdLabel = "com.relaybot.run"
	systemdUnit  = "relaybot.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove relaybot as a user service (systemd/launchd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a service that runs 'relaybot run' at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, content, err := serviceFile(runtime.GOOS, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if runtime.GOOS == "darwin" {
				os.MkdirAll(filepath.Join(config.DefaultConfigDir(), "logs"), 0o755)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", path)
			printServiceHints(runtime.GOOS, path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, err := serviceFile(runtime.GOOS, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

// serviceFile returns where the service definition lives on goos and its
// rendered content.
func serviceFile(goos, execPath, cfgPath string) (path, content string, err error) {
	home, _ := os.UserHomeDir()
	switch goos {
	case "darwin":
		logDir := filepath.Join(config.DefaultConfigDir(), "logs")
		path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		content = renderTemplate(launchdTemplate, map[string]string{
			"LABEL":   launchdLabel,
			"EXEC":    execPath,
			"CONFIG":  cfgPath,
			"LOG":     filepath.Join(logDir, "relaybot.log"),
			"ERR_LOG": filepath.Join(logDir, "relaybot-error.log"),
		})
	case "linux":
		path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		content = renderTemplate(systemdTemplate, map[string]string{
			"EXEC":   execPath,
			"CONFIG": cfgPath,
		})
	default:
		return "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	return path, content, nil
}

func renderTemplate(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func printServiceHints(goos, path string) {
	if goos == "darwin" {
		fmt.Printf("To start: launchctl load %s\n", path)
		fmt.Printf("To stop:  launchctl unload %s\n", path)
		return
	}
	fmt.Println("To start:  systemctl --user start relaybot")
	fmt.Println("To enable: systemctl --user enable relaybot")
	fmt.Println("Logs:      journalctl --user -u relaybot -f")
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=relaybot message relay
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
