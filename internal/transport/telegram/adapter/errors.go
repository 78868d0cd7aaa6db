package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

var unreachable = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrKickedFromGroup,
}

// classifyError maps telebot failures onto transport error kinds so the
// relay layer never has to know about Telegram.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return transport.Throttled(time.Duration(fe.RetryAfter)*time.Second, err)
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return transport.Throttled(time.Duration(fep.RetryAfter)*time.Second, err)
	}
	for _, target := range unreachable {
		if errors.Is(err, target) {
			return transport.Unreachable(err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return transport.Unreachable(err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "chat not found") {
		return transport.Unreachable(err)
	}
	return err
}
