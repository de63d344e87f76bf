package tgui

import (
	"html"
	"strconv"
	"strings"
	"unicode/utf8"
)

// H is a fragment that is valid in Telegram's HTML parse mode. Build it with
// Esc for user text; Raw is only for markup written in code.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

func Raw(s string) H { return H(s) }

func tag(name, text string) H {
	return H("<" + name + ">" + html.EscapeString(text) + "</" + name + ">")
}

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// Mention links name to a Telegram user, which notifies them in groups.
func Mention(name string, userID int64) H {
	href := "tg://user?id=" + strconv.FormatInt(userID, 10)
	return H(`<a href="` + href + `">` + html.EscapeString(name) + `</a>`)
}

// JoinH joins the non-blank fragments with sep.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

// TruncRunes keeps at most n runes of s and marks a cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
