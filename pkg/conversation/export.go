package conversation

import (
	"fmt"
	"strings"
)

// ExportMarkdown renders the conversation as a markdown document, using the raw
// content of every message. System messages are left out.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", c.Title)
	if c.Model != "" {
		fmt.Fprintf(&sb, "_Model: %s_\n\n", c.Model)
	}

	for _, m := range c.Messages {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleUser:
			sb.WriteString("## You\n\n")
		case RoleAssistant:
			sb.WriteString("## Assistant\n\n")
		default:
			fmt.Fprintf(&sb, "## %s\n\n", m.Role)
		}
		text := m.RawContent
		// a fenced block at the very start needs a blank line to parse as markdown
		if strings.HasPrefix(text, "```") {
			text = "\n" + text
		}
		sb.WriteString(strings.TrimRight(text, "\n"))
		sb.WriteString("\n\n")
	}

	return sb.String()
}
