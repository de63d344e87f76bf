package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (no \f unique prefix).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Data formats callback data as "scope:action:payload".
func Data(scope, action, payload string) (string, error) {
	s := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits "scope:action:payload". ok is false when scope does not match.
// Telegram clients may echo telebot's "\f" unique marker; it is ignored.
func ParseData(scope, data string) (action, payload string, ok bool) {
	data = strings.TrimPrefix(strings.TrimSpace(data), "\f")
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] != scope || parts[1] == "" {
		return "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[1], payload, true
}
