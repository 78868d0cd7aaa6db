package relay

import (
	"strconv"
	"strings"

	"relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

// Inline button actions. Callback data is "<action>:<user id>".
const (
	ActionBan = "ban"
)

func BanButton(userID int64) transport.Button {
	return transport.Button{Text: "🚫 Ban User", Data: ActionBan + ":" + strconv.FormatInt(userID, 10)}
}

// ParseAction decodes callback data produced by BanButton. Clients can send
// arbitrary data, so anything else is rejected.
func ParseAction(data string) (action string, userID int64, ok bool) {
	action, raw, found := strings.Cut(data, ":")
	if !found || action != ActionBan {
		return "", 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}

// senderCard is posted under a group copy so operators see who sent it and
// can ban them in one tap.
func senderCard(senderID int64, relayed transport.MessageRef) (string, *transport.SendOptions) {
	text := tgui.New().
		HTML("👤 " + tgui.Mention("", senderID) + " · " + tgui.UserID(senderID)).
		String()
	return text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyTo:        relayed.MessageID,
		Buttons:        [][]transport.Button{{BanButton(senderID)}},
	}
}
