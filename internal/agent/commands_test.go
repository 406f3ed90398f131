package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args int
	}{
		{"/reset", "reset", 0},
		{"  /RESET  ", "reset", 0},
		{"/reset@relay_bot", "reset", 0},
		{"/help me please", "help", 2},
	}
	for _, c := range cases {
		cmd := ParseCommand(c.in)
		require.NotNil(t, cmd, c.in)
		assert.Equal(t, c.name, cmd.Name, c.in)
		assert.Len(t, cmd.Args, c.args, c.in)
	}

	for _, in := range []string{"oi", "", "/", "/@bot", "a /reset"} {
		assert.Nil(t, ParseCommand(in), in)
	}
}

func TestHandleCommand(t *testing.T) {
	hist := newHistory(7)
	r := NewRelay(RelayConfig{History: hist, ResetReply: "limpo", Logger: testLogger()})
	hist.Append("u", domain.Message{Role: domain.RoleUser, Content: "oi"})

	res := r.HandleCommand(ParseCommand("/history"), "u")
	assert.True(t, res.Handled)
	assert.False(t, res.Reset)
	assert.Contains(t, res.Response, "2 de 7")

	res = r.HandleCommand(ParseCommand("/new"), "u")
	assert.True(t, res.Reset)
	assert.Equal(t, "limpo", res.Response)
	assert.Len(t, hist.GetOrCreate("u"), 1)

	res = r.HandleCommand(ParseCommand("/help"), "u")
	assert.Contains(t, res.Response, "/clear - o mesmo que /reset")
	assert.Contains(t, res.Response, "/history")

	assert.False(t, r.HandleCommand(ParseCommand("/weather"), "u").Handled)
}
