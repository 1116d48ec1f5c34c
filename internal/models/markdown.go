package models

import "strings"

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes user-supplied text for Telegram's legacy Markdown mode.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// CodeSafe makes s safe to place inside a Markdown code span or block.
func CodeSafe(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}
