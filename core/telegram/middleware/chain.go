package middleware

import tele "gopkg.in/telebot.v4"

// Chain wraps h with the per-route stack: panic recovery outermost, then
// update logging, then message counters.
func Chain(h tele.HandlerFunc) tele.HandlerFunc {
	return RecoverMiddleware(LoggerMiddleware(MessageMetricsMiddleware(h)))
}
