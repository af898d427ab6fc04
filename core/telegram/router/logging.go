package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/ridesbot/core/logger"
	tghelpers "github.com/m3rciful/ridesbot/core/telegram/helpers"
	"github.com/m3rciful/ridesbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// handled names the branch an update took. Every routed update produces
// exactly one "handler.handled" line through it.
type handled struct {
	name string
	// status overrides the one derived from the handler error.
	status string
	extras []slog.Attr
}

func (h handled) run(c tele.Context, fn tele.HandlerFunc) error {
	start := time.Now()
	tghelpers.WithHandler(c, h.name)
	var err error
	if fn != nil {
		err = fn(c)
	}
	h.log(c, start, err)
	return err
}

func (h handled) log(c tele.Context, start time.Time, err error) {
	status := h.status
	if status == "" {
		status = logger.Status(err)
	}
	msgs, kb := middleware.GetCounters(c)

	attrs := make([]slog.Attr, 0, 7+len(h.extras))
	attrs = append(attrs,
		slog.String("status", status),
		slog.String("handler", h.name),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	)
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	attrs = append(attrs, h.extras...)
	logger.LogEvent(tghelpers.WithHandler(c, h.name), logger.TG, slog.LevelInfo, "handler.handled", attrs...)
}

// normalizeHandlerName turns "/List All" into "list_all".
func normalizeHandlerName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// deriveErrorCode uses a Code() method found anywhere in the chain, else the
// outermost error's type name.
func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.Fields(coded.Code()); len(code) > 0 {
			return strings.ToUpper(strings.Join(code, "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(t.Name())
}
