package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "commitbot/internal/transport"
	logx "commitbot/pkg/logx"
)

// Bot API limits for setMyCommands.
const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

// UpdateMenuCommands publishes the command menu. Unchanged menus are not resent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	same := slices.Equal(a.menu, cmds)
	a.mu.Unlock()
	if same {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	menu := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" || len(menu) == maxMenuCommands {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxMenuDescription {
			desc = desc[:maxMenuDescription]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}

	a.mu.Lock()
	a.menu = slices.Clone(cmds)
	a.mu.Unlock()
	a.log.Info("command menu updated", logx.Int("count", len(menu)))
	return nil
}
