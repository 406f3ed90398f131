package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

func TestMain(m *testing.M) {
	logger = newLogger(io.Discard, "error")
	os.Exit(m.Run())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent.env")

	assert.NoError(t, loadEnvFile(missing, false), "implicit default may be absent")
	assert.Error(t, loadEnvFile(missing, true), "explicit file must exist")

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RELAYBOT_TEST_ENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RELAYBOT_TEST_ENV") })

	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "loaded", os.Getenv("RELAYBOT_TEST_ENV"))
}

func TestServiceFile(t *testing.T) {
	path, unit, err := serviceFile("linux", "/usr/local/bin/relaybot", "/etc/relaybot.yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("systemd", "user", "relaybot.service")))
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/relaybot run --config /etc/relaybot.yaml")
	assert.NotContains(t, unit, "{{")

	path, plist, err := serviceFile("darwin", "/bin/relaybot", "/cfg.json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, launchdLabel+".plist"))
	assert.Contains(t, plist, "<string>run</string>")
	assert.NotContains(t, plist, "{{")

	_, _, err = serviceFile("plan9", "", "")
	assert.Error(t, err)
}

func TestRunSetup(t *testing.T) {
	cfg := config.Defaults()
	answers := strings.Join([]string{
		"gsk_secret", // api key
		"n",          // cli
		"y",          // telegram
		"",           // whatsapp (keep default n)
		"",           // whatsappWeb
		"y",          // websocket
		"123:abc",    // telegram token
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runSetup(cfg, strings.NewReader(answers), &out))

	assert.Equal(t, "gsk_secret", cfg.Providers["groq"].APIKey)
	assert.Equal(t, "gsk_secret", cfg.Transcription.APIKey)
	assert.False(t, cfg.Channels.CLI.Enabled)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Channels.Telegram.Token)
	assert.False(t, cfg.Channels.WhatsApp.Enabled)
	assert.True(t, cfg.Channels.WebSocket.Enabled)
	assert.Contains(t, out.String(), "Step 2")
}

func TestRunSetup_InvalidResultIsReported(t *testing.T) {
	cfg := config.Defaults()
	// Telegram enabled with an empty token fails validation.
	answers := "key\nn\ny\nn\nn\nn\n\n"
	assert.Error(t, runSetup(cfg, strings.NewReader(answers), io.Discard))
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.json")
	dbPath := filepath.Join(src, "relaylog.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"x":1}`), 0o600))
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite"), 0o600))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600))

	cfg := config.Defaults()
	cfg.RelayLog.DSN = dbPath
	entries := backupEntries(cfgPath, cfg)
	assert.Len(t, entries, 3)
	assert.Equal(t, cfgPath, entries["config.json"])

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	require.NoError(t, createTarGz(archive, entries))

	dst := t.TempDir()
	restored, err := extractTarGz(archive, func(name string) (string, bool) {
		return filepath.Join(dst, name), strings.HasPrefix(name, archiveRelayLog)
	})
	require.NoError(t, err)
	assert.Len(t, restored, 2)

	data, err := os.ReadFile(filepath.Join(dst, "relaylog.db-wal"))
	require.NoError(t, err)
	assert.Equal(t, "wal", string(data))
	_, err = os.Stat(filepath.Join(dst, "config.json"))
	assert.True(t, os.IsNotExist(err), "unmapped entries are skipped")
}

func TestPrintRelays(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printRelays(&buf, []domain.RelayRecord{{
		Channel:   "telegram",
		UserID:    "42",
		Pipeline:  domain.PipelineVision,
		Outcome:   domain.OutcomeOK,
		Delivered: true,
		LatencyMs: 1234,
		CreatedAt: now.Add(-3 * time.Minute),
	}}, now)

	out := buf.String()
	assert.Contains(t, out, "3 minutes ago")
	assert.Contains(t, out, "1,234 ms")
	assert.Contains(t, out, "vision")

	buf.Reset()
	printRelays(&buf, nil, now)
	assert.Contains(t, buf.String(), "no relays")
}

func TestBuildApp_WiresOptionalParts(t *testing.T) {
	cfg := config.Defaults()
	cfg.Metrics.Enabled = true
	cfg.RelayLog.Enabled = true
	cfg.RelayLog.DSN = filepath.Join(t.TempDir(), "relaylog.db")
	cfg.Channels.WebSocket.Enabled = true
	cfg.Channels.WhatsApp = config.WhatsAppConfig{Enabled: true, AccessToken: "t", PhoneNumberID: "1"}

	a, err := buildApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.loop)
	assert.NotNil(t, a.metrics)
	assert.NotNil(t, a.relayLog)

	chans, wa, ws := a.channels()
	assert.Len(t, chans, 2)
	assert.NotNil(t, wa)
	assert.NotNil(t, ws)
	assert.NotNil(t, a.httpServer(wa, ws))

	h := a.health()
	assert.Equal(t, 0, h["users"])
	assert.Contains(t, h, "uptime")
}

func TestBuildApp_NoServerWhenNothingListens(t *testing.T) {
	a, err := buildApp(context.Background(), config.Defaults(), logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.metrics)
	assert.Nil(t, a.httpServer(nil, nil))
}

func TestBuildApp_UnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Completion.Provider = "missing"
	_, err := buildApp(context.Background(), cfg, logger)
	assert.Error(t, err)
}
