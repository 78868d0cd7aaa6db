package router

import (
	"sort"
	"strings"

	"relaybot/pkg/tgui"
)

// helpText renders the command list in HTML parse mode. Operators see every
// command; everyone else sees only public ones.
func (m *CommandManager) helpText(operator bool, topic string) string {
	cmds := m.commands()
	if topic != "" {
		if c, ok := m.lookup(strings.TrimPrefix(strings.ToLower(topic), "/")); ok && (operator || c.Access == AccessEveryone) {
			return commandHelpHTML(c)
		}
		return tgui.New().
			Title("❓", "Unknown command").
			HTML("Type " + tgui.Cmd("help") + " to see what is available.").
			String()
	}

	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})
	b := tgui.New().Title("📚", "Commands").Blank()
	for _, c := range cmds {
		if c.Access == AccessOperator && !operator {
			continue
		}
		line := tgui.Cmd(c.Name)
		if c.Access == AccessOperator {
			line = "🔒 " + line
		}
		if c.Description != "" {
			line += " - " + tgui.Esc(c.Description)
		}
		b.Bullets(line)
	}
	b.Blank()
	if operator {
		b.Line("Reply to a forwarded message to answer its sender.")
	} else {
		b.Line("Send any message and it will reach the team.")
	}
	return b.String()
}

func commandHelpHTML(c Command) string {
	b := tgui.New().HTML("📚 " + tgui.B("Help") + " " + tgui.Cmd(c.Name))
	if c.Description != "" {
		b.Line(c.Description)
	}
	if c.Access == AccessOperator {
		b.HTML("🔒 " + tgui.I("Operators only"))
	}
	if c.Usage != "" {
		b.Blank().HTML(tgui.B("Usage")).HTML(tgui.Code(c.Usage))
	}
	if len(c.Aliases) > 0 {
		al := make([]tgui.H, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, tgui.Cmd(a))
		}
		b.Blank().HTML(tgui.B("Aliases") + " " + tgui.JoinH(", ", al...))
	}
	return b.String()
}
