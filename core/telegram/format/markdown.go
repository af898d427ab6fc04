// Package format escapes user text for Telegram parse modes.
package format

import "regexp"

var mdV2Specials = regexp.MustCompile("([_*\\[\\]()~`>#+\\-=|{}.!\\\\])")

// MDV2 escapes every MarkdownV2 reserved character in text.
func MDV2(text string) string {
	return mdV2Specials.ReplaceAllString(text, `\$1`)
}
