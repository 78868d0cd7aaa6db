package tgui

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// H is HTML that is already escaped for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as already-safe HTML.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Cmd renders "/name" as code.
func Cmd(name string) H { return Code("/" + strings.TrimPrefix(name, "/")) }

// UserID renders a numeric Telegram id as code.
func UserID(id int64) H { return Code(strconv.FormatInt(id, 10)) }

// Link builds an anchor; html.EscapeString also escapes quotes in the URL.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Mention links to a Telegram user id. An empty name shows the id.
func Mention(name string, userID int64) H {
	if strings.TrimSpace(name) == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return Link(name, fmt.Sprintf("tg://user?id=%d", userID))
}

// JoinH joins non-empty parts with sep.
func JoinH(sep string, parts ...H) H {
	if len(parts) == 0 {
		return ""
	}
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}
