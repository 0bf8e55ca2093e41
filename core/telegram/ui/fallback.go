package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider exposes the replies used when an update cannot be served:
// no matching command, callback or dialog step, or the sender is rate limited.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnknownDocument() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
	RateLimited() tele.HandlerFunc
}
