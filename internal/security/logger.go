package security

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
)

// silentHandler discards all log messages when verbose mode is disabled
type silentHandler struct{}

func (h *silentHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (h *silentHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (h *silentHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *silentHandler) WithGroup(_ string) slog.Handler {
	return h
}

// SecureLogger provides structured logging with automatic redaction of
// tokens, authorization codes and PKCE material.
type SecureLogger struct {
	logger *slog.Logger
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)(access_token|refresh_token|authorization|code_verifier)["':=\s]*["']?([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(client_secret)["':=\s]*["']?([A-Za-z0-9\-._~+/]{8,})`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

var urlSecretParams = regexp.MustCompile(`([?&](?:code|code_challenge|token|key|secret|state)=)[^&\s]*`)

// NewSecureLogger returns a JSON logger on stderr, or a silent one.
func NewSecureLogger(verbose bool) *SecureLogger {
	if !verbose {
		return &SecureLogger{logger: slog.New(&silentHandler{})}
	}
	return NewSecureLoggerTo(os.Stderr, slog.LevelInfo)
}

// NewSecureLoggerTo writes redacted JSON records at or above level to w.
func NewSecureLoggerTo(w io.Writer, level slog.Level) *SecureLogger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(RedactString(a.Value.String()))
			}
			return a
		},
	}
	return &SecureLogger{logger: slog.New(slog.NewJSONHandler(w, opts))}
}

func (sl *SecureLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *SecureLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *SecureLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *SecureLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

// LogAuthEvent logs an authentication state change or token operation.
func (sl *SecureLogger) LogAuthEvent(operation string, success bool, details map[string]any) {
	attrs := []any{
		slog.String("event_type", "authentication"),
		slog.String("operation", operation),
		slog.Bool("success", success),
	}
	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}

	if success {
		sl.logger.Info("Authentication event", attrs...)
	} else {
		sl.logger.Warn("Authentication event", attrs...)
	}
}

// LogNetworkEvent logs one request/response exchange.
func (sl *SecureLogger) LogNetworkEvent(method, url string, statusCode int, duration string) {
	sl.logger.Info("Network event",
		slog.String("event_type", "network"),
		slog.String("method", method),
		slog.String("url", RedactURL(url)),
		slog.Int("status_code", statusCode),
		slog.String("duration", duration),
	)
}

// LogCryptoEvent logs an at-rest encryption operation.
func (sl *SecureLogger) LogCryptoEvent(operation string, success bool, errMsg string) {
	attrs := []any{
		slog.String("event_type", "crypto"),
		slog.String("operation", operation),
		slog.Bool("success", success),
	}
	if errMsg != "" {
		attrs = append(attrs, slog.String("error", errMsg))
	}

	if success {
		sl.logger.Debug("Crypto event", attrs...)
	} else {
		sl.logger.Error("Crypto event", attrs...)
	}
}

// With returns a logger carrying additional fields.
func (sl *SecureLogger) With(attrs ...any) *SecureLogger {
	return &SecureLogger{logger: sl.logger.With(attrs...)}
}

// RedactString removes token-like material from input.
func RedactString(input string) string {
	result := RedactURL(input)
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			submatches := pattern.FindStringSubmatch(match)
			if len(submatches) >= 3 {
				return submatches[1] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}

// RedactURL blanks query parameters that carry codes or secrets.
func RedactURL(url string) string {
	return urlSecretParams.ReplaceAllString(url, "${1}[REDACTED]")
}
