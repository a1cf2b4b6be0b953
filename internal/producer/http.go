// Package producer содержит источники метрик, встраиваемые в приложение:
// HTTP middleware с метриками запросов и хуки бизнес-событий.
package producer

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/levinOo/go-telemetry-pipeline/internal/logger"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// Emitter принимает точки от производителей. Реализуется pipeline.Pipeline.
type Emitter interface {
	Emit(points ...models.Point)
}

// EmitterFunc адаптирует функцию к Emitter.
type EmitterFunc func(points ...models.Point)

func (f EmitterFunc) Emit(points ...models.Point) { f(points...) }

var (
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	numericSegment = regexp.MustCompile(`/\d+`)
)

// NormalizePath заменяет UUID и числовые идентификаторы в пути на {id},
// чтобы метрики группировались по маршруту.
func NormalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}")
}

// RequestMetrics собирает метрики HTTP-запросов.
type RequestMetrics struct {
	prefix  string
	emitter Emitter
	skip    map[string]struct{}

	mu       sync.Mutex
	requests uint64
	errors   uint64
	duration time.Duration
}

// NewRequestMetrics создаёт middleware с префиксом имён service.
// Запросы к путям из skip не измеряются.
func NewRequestMetrics(service string, emitter Emitter, skip ...string) *RequestMetrics {
	m := &RequestMetrics{
		prefix:  service,
		emitter: emitter,
		skip:    make(map[string]struct{}, len(skip)),
	}
	for _, p := range skip {
		m.skip[p] = struct{}{}
	}
	return m
}

// Handler оборачивает h и после каждого запроса отправляет
// requests_total, request_duration_seconds и response_size_bytes.
func (m *RequestMetrics) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if _, ok := m.skip[r.URL.Path]; ok {
			h.ServeHTTP(rw, r)
			return
		}

		start := time.Now()
		lw := logger.NewLoggingRW(rw)
		h.ServeHTTP(lw, r)
		m.Observe(r.Method, r.URL.Path, lw.StatusCode(), lw.ResponseData.Size, time.Since(start))
	})
}

// Observe учитывает один завершённый запрос.
func (m *RequestMetrics) Observe(method, path string, status, size int, dur time.Duration) {
	m.mu.Lock()
	m.requests++
	if status >= http.StatusInternalServerError {
		m.errors++
	}
	m.duration += dur
	m.mu.Unlock()

	labels := models.L(
		"method", method,
		"endpoint", NormalizePath(path),
		"status_code", strconv.Itoa(status),
		"status_class", strconv.Itoa(status/100)+"xx",
	)
	m.emitter.Emit(
		models.NewCounter(m.prefix+".http.requests_total", 1, labels),
		models.NewGauge(m.prefix+".http.request_duration_seconds", dur.Seconds(), labels),
		models.NewGauge(m.prefix+".http.response_size_bytes", float64(size), labels),
	)
}

// Name реализует sampler.Source.
func (m *RequestMetrics) Name() string { return "http" }

// Sample реализует sampler.Source: сводка запросов с момента запуска.
func (m *RequestMetrics) Sample(_ context.Context) ([]models.Point, error) {
	m.mu.Lock()
	requests, errs, total := m.requests, m.errors, m.duration
	m.mu.Unlock()

	var avg, errorRate float64
	if requests > 0 {
		avg = total.Seconds() / float64(requests)
		errorRate = float64(errs) / float64(requests) * 100
	}

	technical := models.L("metric_type", "technical")
	return []models.Point{
		models.NewGauge(m.prefix+".http.requests_count", float64(requests), technical),
		models.NewGauge(m.prefix+".http.response_time_avg_seconds", avg, technical),
		models.NewGauge(m.prefix+".http.error_rate_percentage", errorRate, technical),
	}, nil
}
