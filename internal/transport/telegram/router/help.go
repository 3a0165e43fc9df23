package router

import (
	"strings"

	"mycelium/pkg/tgui"
)

func (m *Manager) helpText(args []string, owner bool) string {
	prefix := m.Policy().Prefix

	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], prefix))
		c, ok := m.lookup(word)
		if !ok || (c.Access == AccessOwnerOnly && !owner) {
			return "unknown command: " + tgui.Code(word).String()
		}
		var b strings.Builder
		b.WriteString(tgui.B(prefix+c.Route).String() + "\n")
		if c.Description != "" {
			b.WriteString(tgui.Esc(c.Description).String() + "\n")
		}
		usage := c.Usage
		if usage == "" {
			usage = prefix + c.Route
		}
		b.WriteString("usage: " + tgui.Code(usage).String())
		if len(c.Aliases) > 0 {
			b.WriteString("\naliases: " + tgui.Esc(strings.Join(c.Aliases, ", ")).String())
		}
		return b.String()
	}

	var b strings.Builder
	b.WriteString(tgui.B("commands").String() + "\n")
	for _, c := range m.Commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		line := tgui.JoinH(" - ", tgui.Code(prefix+c.Route), tgui.Esc(c.Description))
		b.WriteString(line.String())
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + tgui.Esc(prefix+"help <command> for details").String())
	return b.String()
}
