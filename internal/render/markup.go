// Package render builds the text of dashboard and live-stop messages.
package render

import (
	"fmt"
	"strings"
)

// Markup is a chat platform's inline formatting dialect. Bold, Italic and
// Code wrap text that the caller has already escaped where needed.
type Markup interface {
	Bold(s string) string
	Italic(s string) string
	Code(s string) string
	Link(text, url string) string
	Escape(s string) string
}

// TelegramMarkdown is Telegram's legacy Markdown (parse_mode "Markdown").
type TelegramMarkdown struct{}

var telegramEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "[", `\[`, "`", "\\`")

func (TelegramMarkdown) Bold(s string) string         { return "*" + s + "*" }
func (TelegramMarkdown) Italic(s string) string       { return "_" + s + "_" }
func (TelegramMarkdown) Code(s string) string         { return "`" + s + "`" }
func (TelegramMarkdown) Link(text, url string) string { return fmt.Sprintf("[%s](%s)", text, url) }
func (TelegramMarkdown) Escape(s string) string       { return telegramEscaper.Replace(s) }

// SlackMrkdwn is Slack's mrkdwn text format.
type SlackMrkdwn struct{}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (SlackMrkdwn) Bold(s string) string         { return "*" + s + "*" }
func (SlackMrkdwn) Italic(s string) string       { return "_" + s + "_" }
func (SlackMrkdwn) Code(s string) string         { return "`" + s + "`" }
func (SlackMrkdwn) Link(text, url string) string { return fmt.Sprintf("<%s|%s>", url, text) }
func (SlackMrkdwn) Escape(s string) string       { return slackEscaper.Replace(s) }

// DiscordMarkdown is Discord's message markdown.
type DiscordMarkdown struct{}

var discordEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`, ">", `\>`,
)

func (DiscordMarkdown) Bold(s string) string         { return "**" + s + "**" }
func (DiscordMarkdown) Italic(s string) string       { return "*" + s + "*" }
func (DiscordMarkdown) Code(s string) string         { return "`" + s + "`" }
func (DiscordMarkdown) Link(text, url string) string { return fmt.Sprintf("[%s](<%s>)", text, url) }
func (DiscordMarkdown) Escape(s string) string       { return discordEscaper.Replace(s) }

// ForPlatform returns the dialect for a platform name, defaulting to
// Telegram Markdown.
func ForPlatform(platform string) Markup {
	switch platform {
	case "slack":
		return SlackMrkdwn{}
	case "discord":
		return DiscordMarkdown{}
	default:
		return TelegramMarkdown{}
	}
}
