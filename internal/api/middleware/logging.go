// logging.go — структурированное логирование HTTP-запросов.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// LoggingMiddleware возвращает HTTP middleware для логирования запросов.
// Уровень зависит от статуса ответа: 5xx — Error, 4xx — Warn, остальное — Info.
// Health-probes и /metrics не логируются, чтобы не засорять журнал.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health/live", "/health/ready", "/metrics":
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.String("duration", time.Since(start).String()),
				slog.String("remote_addr", r.RemoteAddr),
			}

			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.Error("HTTP-запрос завершился ошибкой сервера", attrs...)
			case wrapped.statusCode >= http.StatusBadRequest:
				log.Warn("HTTP-запрос отклонён", attrs...)
			default:
				log.Info("HTTP-запрос обработан", attrs...)
			}
		})
	}
}
