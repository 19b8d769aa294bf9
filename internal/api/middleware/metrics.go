// metrics.go — Prometheus HTTP метрики сервиса Visa Dossier.
// Регистрирует метрики: vd_http_requests_total, vd_http_request_duration_seconds.
// Бизнес-метрики (vd_blobs_total, vd_validation_checks_total и др.)
// экспортируются отсюда и обновляются из обработчиков.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_http_requests_total",
			Help: "Общее количество HTTP-запросов к сервису Visa Dossier",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к сервису Visa Dossier в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из обработчиков)
var (
	// BlobsTotal — текущее количество файлов в хранилище (gauge).
	BlobsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vd_blobs_total",
			Help: "Текущее количество загруженных файлов в хранилище",
		},
	)

	// ValidationChecksTotal — результаты проверок загруженных изображений.
	ValidationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_validation_checks_total",
			Help: "Результаты проверок соответствия загруженных изображений",
		},
		[]string{"check", "result"},
	)

	// PolicyUpdatesTotal — количество изменений политик по странам.
	PolicyUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_policy_updates_total",
			Help: "Количество изменений политик валидации",
		},
		[]string{"country"},
	)

	// DossierExportsTotal — количество экспортов досье.
	DossierExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_dossier_exports_total",
			Help: "Количество экспортов досье в ZIP",
		},
		[]string{"result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для предотвращения кардинальности)
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

// normalizePath заменяет переменные сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/files/a1b2c3d4-... → /api/v1/files/{id}
func normalizePath(path string) string {
	switch {
	case path == "/health/live":
		return "/health/live"
	case path == "/health/ready":
		return "/health/ready"
	case path == "/metrics":
		return "/metrics"
	case path == "/api/v1/upload":
		return "/api/v1/upload"
	case path == "/api/v1/files":
		return "/api/v1/files"
	case hasVarSegment(path, "/api/v1/files/", ""):
		return "/api/v1/files/{id}"
	case hasVarSegment(path, "/api/v1/countries/", "/policy"):
		return "/api/v1/countries/{id}/policy"
	case hasVarSegment(path, "/api/v1/countries/", "/rules"):
		return "/api/v1/countries/{id}/rules"
	case hasVarSegment(path, "/api/v1/countries/", "/rules/history"):
		return "/api/v1/countries/{id}/rules/history"
	case hasVarSegment(path, "/api/v1/users/", "/dossier"):
		return "/api/v1/users/{id}/dossier"
	case hasVarSegment(path, "/api/v1/dossier/", "/export"):
		return "/api/v1/dossier/{id}/export"
	}
	return path
}

// hasVarSegment проверяет, что path имеет вид prefix + <один сегмент> + suffix.
func hasVarSegment(path, prefix, suffix string) bool {
	if len(path) <= len(prefix)+len(suffix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	mid := path[len(prefix):]
	if suffix != "" {
		if mid[len(mid)-len(suffix):] != suffix {
			return false
		}
		mid = mid[:len(mid)-len(suffix)]
	}
	if mid == "" {
		return false
	}
	for _, c := range mid {
		if c == '/' {
			return false
		}
	}
	return true
}
