package agent

import (
	"fmt"
	"strings"
)

// ChatCommand is a parsed "/name args..." message.
type ChatCommand struct {
	Name string // lower-cased, without "/" or a "@bot" suffix
	Args []string
	Raw  string
}

// CommandResult is the local answer to a command.
type CommandResult struct {
	Response string
	Handled  bool // false: relay the text to the model as usual
	Reset    bool // the user's history was cleared
}

type commandSpec struct {
	names []string
	help  string
	run   func(r *Relay, userID string) CommandResult
}

// commandTable is filled in init: the /help entry reads it back through
// helpText, which a package-level initializer cannot do.
var commandTable []commandSpec

func init() {
	commandTable = []commandSpec{
		{
			names: []string{"reset", "clear", "new"},
			help:  "apaga o histórico da conversa",
			run: func(r *Relay, userID string) CommandResult {
				r.history.Reset(userID)
				return CommandResult{Response: r.resetReply, Handled: true, Reset: true}
			},
		},
		{
			names: []string{"history"},
			help:  "mostra quantas mensagens estão no contexto",
			run: func(r *Relay, userID string) CommandResult {
				turns := len(r.history.GetOrCreate(userID))
				return CommandResult{
					Response: fmt.Sprintf("Histórico: %d de %d mensagens guardadas.", turns, r.history.Limit()),
					Handled:  true,
				}
			},
		},
		{
			names: []string{"help"},
			help:  "mostra esta mensagem",
			run: func(r *Relay, userID string) CommandResult {
				return CommandResult{Response: helpText(), Handled: true}
			},
		},
	}
}

// ParseCommand returns nil when text is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)

	// Telegram appends the bot name in groups: /reset@relay_bot.
	name, _, _ := strings.Cut(strings.TrimPrefix(parts[0], "/"), "@")
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: strings.ToLower(name), Args: parts[1:], Raw: text}
}

// HandleCommand answers a command for one user. Unknown commands return
// Handled=false so the text is relayed as a normal message.
func (r *Relay) HandleCommand(cmd *ChatCommand, userID string) CommandResult {
	for _, spec := range commandTable {
		for _, n := range spec.names {
			if n == cmd.Name {
				return spec.run(r, userID)
			}
		}
	}
	return CommandResult{}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Comandos disponíveis:\n\n")
	for _, spec := range commandTable {
		fmt.Fprintf(&b, "/%s - %s\n", spec.names[0], spec.help)
		for _, alias := range spec.names[1:] {
			fmt.Fprintf(&b, "/%s - o mesmo que /%s\n", alias, spec.names[0])
		}
	}
	b.WriteString("\nEnvie texto, imagens ou mensagens de voz.")
	return b.String()
}
