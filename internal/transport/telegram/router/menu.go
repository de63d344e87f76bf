package router

import (
	"regexp"
	"strings"

	kit "commitbot/internal/transport"
)

// Telegram accepts at most this many menu entries and this description length.
const (
	maxMenuEntries = 100
	maxMenuDesc    = 256
)

var menuNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// menuName returns the command name as Telegram expects it, or "" when the name
// cannot be shown in the menu. Dashes become underscores; nothing else is fixed up.
func menuName(name string) string {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if !menuNameRE.MatchString(name) {
		return ""
	}
	return name
}

func menuDescription(c Command, name string) string {
	desc := strings.Join(strings.Fields(c.Description), " ")
	if desc == "" {
		desc = name
	}
	if c.Access == AccessOwnerOnly {
		desc = "🔒 " + desc
	}
	if r := []rune(desc); len(r) > maxMenuDesc {
		desc = string(r[:maxMenuDesc])
	}
	return desc
}

// buildMenuCommands lists commands in registration order, skipping names
// Telegram would reject and repeats.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, min(len(cmds), maxMenuEntries))
	seen := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if len(out) == maxMenuEntries {
			break
		}
		name := menuName(c.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, kit.BotCommand{Command: name, Description: menuDescription(c, name)})
	}
	return out
}
