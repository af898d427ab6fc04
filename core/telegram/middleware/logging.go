package middleware

import (
	"log/slog"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware stores the update's request context (rid, update, user
// and chat ids) and logs a sampled update.received line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		updateID, userID, chatID := c.Update().ID, tghelpers.SenderID(c), tghelpers.ChatID(c)
		rid := logger.BuildRID(updateID, chatID, userID)
		c.Set("rid", rid)
		ctx := logger.WithLogger(logger.Background(), logger.TG)
		ctx = logger.WithUpdateMeta(logger.WithRID(ctx, rid), updateID, userID, chatID)
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receivedAttrs(c)...)
		}
		return next(c)
	}
}

func receivedAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if u := c.Sender(); u != nil {
		if u.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(u.Username, 64)))
		}
		if u.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", u.LanguageCode))
		}
	}

	var payload string
	if cb := c.Callback(); cb != nil {
		var key string
		key, payload = callbacks.Parse(cb)
		attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
	} else {
		payload = c.Text()
	}
	return append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
}
