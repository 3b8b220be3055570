// metrics.go — Prometheus HTTP метрики.
// Регистрирует метрики: rms_http_requests_total, rms_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rms_http_requests_total",
			Help: "Общее количество HTTP-запросов к сервису возмещений",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rms_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к сервису возмещений в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// uuidLen — длина текстового UUID в сегменте пути.
const uuidLen = 36

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/claims/a1b2c3d4-.../receipt → /api/claims/{id}/receipt
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/claims",
		"/api/claims/me/pending",
		"/api/claims/me/approved",
		"/api/claims/me/rejected",
		"/api/claims/me/closed",
		"/api/claims/me/recall",
		"/api/admin/claims/pending",
		"/api/admin/claims/approved",
		"/api/admin/claims/rejected",
		"/api/admin/claims/recalled",
		"/api/admin/claims/export":
		return path
	}

	// Динамические пути с UUID
	prefixes := []struct {
		prefix string
		result string
	}{
		{"/api/admin/claims/", "/api/admin/claims/{id}"},
		{"/api/claims/", "/api/claims/{id}"},
	}

	for _, p := range prefixes {
		if len(path) <= len(p.prefix) || !strings.HasPrefix(path, p.prefix) {
			continue
		}
		suffix := ""
		if len(path) > len(p.prefix)+uuidLen {
			suffix = path[len(p.prefix)+uuidLen:]
		}
		switch suffix {
		case "/resubmit", "/change-request", "/receipt",
			"/approve", "/reject", "/recall",
			"/recall/cancel", "/recall/request-attachment":
			return p.result + suffix
		default:
			return p.result
		}
	}

	return path
}
