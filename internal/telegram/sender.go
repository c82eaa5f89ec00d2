package telegram

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// maxMessageRunes stays under Telegram's message size limit with headroom
// for the continuation prefix.
const maxMessageRunes = 4000

const continuationPrefix = "📄 **续：** "

// sendLong delivers a message of any length, splitting on line boundaries
// when it exceeds the size limit. Continuation parts carry a prefix, sends
// are spaced a second apart, and the keyboard lands on the last part only.
func (b *Bot) sendLong(ctx context.Context, chatID int64, text string, buttons []Button) error {
	parts := splitMessage(text)
	for i, part := range parts {
		if i > 0 {
			part = continuationPrefix + part
		}
		var kb []Button
		if i == len(parts)-1 {
			kb = buttons
		}
		if err := b.sendMessage(ctx, chatID, part, kb); err != nil {
			return err
		}
		if i < len(parts)-1 {
			b.sleep(time.Second)
		}
	}
	return nil
}

// splitMessage packs whole lines into chunks of at most maxMessageRunes. A
// single line longer than the limit becomes its own oversized chunk rather
// than being cut mid-line.
func splitMessage(text string) []string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return []string{text}
	}

	var parts []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		candidate := current + line + "\n"
		if utf8.RuneCountInString(candidate) > maxMessageRunes {
			if current != "" {
				parts = append(parts, strings.TrimSpace(current))
			}
			current = line + "\n"
		} else {
			current = candidate
		}
	}
	if current != "" {
		parts = append(parts, strings.TrimSpace(current))
	}
	return parts
}
