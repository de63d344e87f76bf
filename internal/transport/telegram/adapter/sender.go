package adapter

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "commitbot/internal/transport"
)

// Sender sends through one bot token. The Adapter embeds one for its own bot;
// the gateway builds extra ones for per-user tokens.
type Sender struct {
	bot *tele.Bot
}

// NewSender builds an offline bot: no polling and no getMe round trip.
func NewSender(token string) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errNoToken
	}
	bot, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: bot}, nil
}

// SendText delivers text, split over several messages past Telegram's length
// limit. Inline markup is attached to the first part, whose reference is
// returned because that is the message users reply to.
func (s *Sender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	markup, _ := o.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, part := range splitTelegramText(text, telegramTextLimit, o.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := &tele.SendOptions{
			ParseMode:             o.ParseMode,
			DisableWebPagePreview: o.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && markup != nil {
			so.ReplyMarkup = markup
		}
		sent, err := s.bot.Send(chat, part, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: sent.ID}
		}
	}
	return first, nil
}

// AnswerCallback acknowledges a button press; text shows as a toast.
func (s *Sender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}
