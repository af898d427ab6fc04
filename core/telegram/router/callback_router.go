package router

import (
	"log/slog"

	tg "github.com/m3rciful/ridesbot/core/telegram"
	"github.com/m3rciful/ridesbot/core/telegram/callbacks"
	"github.com/m3rciful/ridesbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	// NotFound replaces the registry's answer for unknown buttons.
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every inline button press by its unique key.
// Found handlers always get the spinner cleared afterwards.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	dispatch := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.Key(c)
		h := handled{
			name:   "callback." + normalizeHandlerName(key),
			extras: []slog.Attr{slog.String("cb_key", key)},
		}

		if fn, ok := reg.GetCallback(key); ok {
			return h.run(c, func(c tele.Context) error {
				defer func() { _ = c.Respond() }()
				return fn(c)
			})
		}

		h.status = "skip"
		h.extras = append(h.extras, slog.String("reason", "not_found"))
		notFound := opts.NotFound
		if notFound == nil {
			notFound = reg.CallbackNotFound()
		}
		if notFound == nil {
			notFound = func(c tele.Context) error { return c.Respond() }
		}
		return h.run(c, notFound)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: middleware.Chain(dispatch)}
}
