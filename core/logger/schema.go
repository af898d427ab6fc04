package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
	"fatal":   "FATAL",
}

// statuses is the closed set written to the status field.
var statuses = map[string]bool{
	"ok":           true,
	"fail":         true,
	"skip":         true,
	"retry":        true,
	"rate_limited": true,
	"cancelled":    true,
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeStatus lowercases s; ok is false when s is outside statuses.
func normalizeStatus(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, statuses[s]
}

var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status", "rid", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler", "op", "cb_key",
	"duration_ms", "messages", "kb", "count", "payload", "lang", "username",
	"mode", "listen", "public_url", "http_code", "db", "host", "port",
	"ride_id", "owner_id", "step", "outcome", "rides", "expired", "reaped",
	"err", "err_code", "cause", "retryable", "attempts", "backoff_ms",
}
