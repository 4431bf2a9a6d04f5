// Package addressing decides whether an inbound message is meant for the
// bot. Direct chats always are; group chats only when the bot is
// explicitly @mentioned in the message body.
package addressing

import "strings"

type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// ShouldRespond reports whether the bot should answer the message.
// The group check is a case-insensitive substring match on "@" + handle;
// some clients omit mention entities, so the raw text is the source of
// truth here.
func ShouldRespond(kind ChatKind, text, botHandle string) bool {
	if kind != ChatGroup {
		return true
	}
	botHandle = strings.TrimSpace(botHandle)
	if botHandle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botHandle))
}
