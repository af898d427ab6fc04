package router

import (
	"context"

	tg "github.com/m3rciful/ridesbot/core/telegram"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
	"github.com/m3rciful/ridesbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Conversation owns free-text input while a user is in a multi-step dialog.
type Conversation interface {
	InProgress(ctx context.Context, userID int64) bool
	Handle(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds handlers for text and document routing. Text goes to the
// conversation first, then to a matching command, then to the fallbacks.
func TextRoutes(conv Conversation, reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		name, fn := pickText(c, conv, reg, opts)
		h := handled{name: name}
		if fn == nil {
			h.status = "skip"
		}
		return h.run(c, fn)
	}
	document := func(c tele.Context) error {
		h := handled{name: "unexpected_document"}
		if opts.UnknownDocument == nil {
			h.status = "skip"
		}
		return h.run(c, opts.UnknownDocument)
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: middleware.Chain(text)},
		{Endpoint: tele.OnDocument, Handler: middleware.Chain(document)},
	}
}

// pickText returns the handler name and function for a text update. A nil
// function means nothing wants the text.
func pickText(c tele.Context, conv Conversation, reg *tg.Registry, opts TextOptions) (string, tele.HandlerFunc) {
	if conv != nil {
		if uid := tghelpers.SenderID(c); uid != 0 && conv.InProgress(tghelpers.BuildContext(c), uid) {
			return "conversation", conv.Handle
		}
	}
	if reg != nil {
		if key, cmd, ok := reg.LookupCommand(c.Text()); ok {
			return normalizeHandlerName(key), cmd.Handler
		}
		if fb := reg.TextFallback(); fb != nil {
			return "fallback", fb
		}
	}
	return "unknown_text", opts.UnknownText
}
