package relay

// Messages are the user-visible texts. Empty fields fall back to defaults.
type Messages struct {
	Welcome        string
	BannedNotice   string
	Acknowledged   string
	RelayFailed    string
	BannedTarget   string
	UnbannedTarget string
	ReplySent      string
	ReplyFailed    string
	NoConversation string
	ReplyInFlight  string
	OperatorHint   string
	Unauthorized   string
}

func DefaultMessages() Messages {
	return Messages{
		Welcome:        "Hello! Welcome to my Personal Assistant Bot.\nSend me a message and the team will get back to you.",
		BannedNotice:   "🚫 You are banned from using this bot.",
		Acknowledged:   "✅ Your message has been forwarded to our team!",
		RelayFailed:    "❌ Failed to deliver the message. Please try again later.",
		BannedTarget:   "You have been blocked from using this bot.",
		UnbannedTarget: "You have been unblocked and can use this bot again.",
		ReplySent:      "✅ Reply sent to user!",
		ReplyFailed:    "❌ Failed to send reply. User might have blocked the bot.",
		NoConversation: "⚠️ No matching conversation for that message.",
		ReplyInFlight:  "⏳ Another reply to this message is still being delivered.",
		OperatorHint:   "ℹ️ Reply to a forwarded message to answer its sender.",
		Unauthorized:   "unauthorized",
	}
}

// WithDefaults fills empty fields from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Welcome, d.Welcome)
	fill(&m.BannedNotice, d.BannedNotice)
	fill(&m.Acknowledged, d.Acknowledged)
	fill(&m.RelayFailed, d.RelayFailed)
	fill(&m.BannedTarget, d.BannedTarget)
	fill(&m.UnbannedTarget, d.UnbannedTarget)
	fill(&m.ReplySent, d.ReplySent)
	fill(&m.ReplyFailed, d.ReplyFailed)
	fill(&m.NoConversation, d.NoConversation)
	fill(&m.ReplyInFlight, d.ReplyInFlight)
	fill(&m.OperatorHint, d.OperatorHint)
	fill(&m.Unauthorized, d.Unauthorized)
	return m
}
