package helpers

import (
	"context"

	"github.com/m3rciful/ridesbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const contextKey = "request_ctx"

// StoreContext attaches a request context to the update for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context stored by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// SenderID returns the id of the user behind the update, or 0.
func SenderID(c tele.Context) int64 {
	if c == nil || c.Sender() == nil {
		return 0
	}
	return c.Sender().ID
}

// ChatID returns the chat the update belongs to, or 0.
func ChatID(c tele.Context) int64 {
	if c == nil || c.Chat() == nil {
		return 0
	}
	return c.Chat().ID
}

// BuildContext returns the request context stored on the update. Without
// one it derives a context carrying the RID and the update, user and chat
// ids, and stores it for the rest of the update.
func BuildContext(c tele.Context) context.Context {
	if c == nil {
		return logger.Background()
	}
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}

	upd, user, chat := c.Update().ID, SenderID(c), ChatID(c)
	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd, chat, user)
	}
	ctx := logger.WithLogger(logger.Background(), logger.TG)
	ctx = logger.WithUpdateMeta(logger.WithRID(ctx, rid), upd, user, chat)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler records the handler name on the update context.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		StoreContext(c, ctx)
	}
	return ctx
}
