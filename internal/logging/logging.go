// Package logging builds the process logger and scrubs credentials from
// connection strings before they reach the logs.
package logging

import (
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// New builds a slog logger writing text or JSON to w and installs it as the default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel accepts slog level names in any case, with optional offsets
// such as "warn+2". Anything else is info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

var passwordParam = regexp.MustCompile(`(?i)(password=)[^\s&]+`)

// RedactURL masks the password of a connection URL. Unparseable input is
// replaced entirely.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	return u.Redacted()
}

// SanitizeError renders err with each connection string replaced by its
// redacted form and password=... parameters masked.
func SanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	pairs := make([]string, 0, 2*len(secrets))
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, RedactURL(s))
		}
	}
	msg := strings.NewReplacer(pairs...).Replace(err.Error())

	return passwordParam.ReplaceAllString(msg, "${1}xxxxx")
}
