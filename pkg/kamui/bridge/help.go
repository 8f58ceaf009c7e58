package bridge

import (
	"fmt"
	"strings"
)

// platformNames maps channel names to display names.
var platformNames = map[string]string{
	"discord": "Discord",
	"slack":   "Slack",
	"cli":     "CLI",
}

// PlatformName returns the display name of a channel.
func PlatformName(channel string) string {
	if name, ok := platformNames[channel]; ok {
		return name
	}
	return channel
}

// HelpText renders the help message for a channel. Slack uses its own
// markup and lists its slash commands.
func HelpText(channel, botName, prefix string) string {
	if botName == "" {
		botName = "Kamui"
	}
	if prefix == "" {
		prefix = "!"
	}

	var b strings.Builder
	if channel == "slack" {
		fmt.Fprintf(&b, "🤖 *%s Bot Help*\n\n", botName)
		b.WriteString("*Basic usage:*\n")
		fmt.Fprintf(&b, "• `@%s message` - mention the bot\n", botName)
		b.WriteString("• Direct messages work too\n\n")
		b.WriteString("*Slash commands:*\n")
		b.WriteString("• `/ask question` - ask the agent\n")
		b.WriteString("• `/reset` - reset the conversation history\n")
		b.WriteString("• `/help` - show this help\n\n")
		b.WriteString("*Conversation:*\n")
		b.WriteString("• Conversations continue automatically\n")
		b.WriteString("• All of the agent's tools are available\n\n")
		fmt.Fprintf(&b, "*Platform:* %s", PlatformName(channel))
		return b.String()
	}

	fmt.Fprintf(&b, "🤖 **%s Bot Help**\n\n", botName)
	b.WriteString("**Basic usage:**\n")
	b.WriteString("• Mention the bot in a message\n")
	fmt.Fprintf(&b, "• Start a message with the prefix (`%s`)\n", prefix)
	b.WriteString("• Direct messages work too\n\n")
	b.WriteString("**Special commands:**\n")
	b.WriteString("• `/reset` or `リセット` - reset the conversation history\n")
	b.WriteString("• `/help` or `ヘルプ` - show this help\n\n")
	b.WriteString("**Conversation:**\n")
	b.WriteString("• Conversations continue automatically\n")
	b.WriteString("• All of the agent's tools are available\n\n")
	fmt.Fprintf(&b, "**Platform:** %s", PlatformName(channel))
	return b.String()
}
