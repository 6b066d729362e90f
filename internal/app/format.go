package app

import (
	"strings"
	"unicode/utf8"
)

// maxTextLen is the Telegram limit for a message body.
const maxTextLen = 4096

// maxCaptionLen is the Telegram limit for a media caption.
const maxCaptionLen = 1024

var markdownV2Escaper = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

func escapeMarkdownV2(text string) string {
	return markdownV2Escaper.Replace(text)
}

// quoteLines renders "> " prefixed lines as a MarkdownV2 block quote and
// escapes everything else.
func quoteLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if rest, ok := strings.CutPrefix(line, "> "); ok {
			lines[i] = ">" + escapeMarkdownV2(rest)
			continue
		}
		lines[i] = escapeMarkdownV2(line)
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// parseCommand splits "/name@bot arg1 arg2" into its lower-cased name and
// whitespace-separated arguments. Commands addressed to another bot are
// ignored.
func parseCommand(text, botName string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name, target, addressed := strings.Cut(fields[0][1:], "@")
	if addressed && botName != "" && !strings.EqualFold(target, botName) {
		return "", nil, false
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
