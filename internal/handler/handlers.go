// Package handler предоставляет HTTP-интерфейс конвейера телеметрии:
// канал живой подписки, проверку состояния, экспозицию Prometheus и приём точек.
package handler

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/logger"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/pipeline"
	"github.com/levinOo/go-telemetry-pipeline/internal/registry"
	"github.com/levinOo/go-telemetry-pipeline/internal/ws"
)

const (
	// SubscriberHeader несёт идентификатор подписчика, проставленный шлюзом.
	SubscriberHeader = "X-Subscriber-ID"
	subscriberQuery  = "subscriber_id"

	maxIngestBody = 4 << 20
)

// Telemetry - операции конвейера, нужные HTTP-слою.
type Telemetry interface {
	State() pipeline.State
	Health() pipeline.Health
	Admit() (release func(), err error)
	Register(subscriberID string, conn registry.Conn) (registry.Handle, error)
	Unregister(h registry.Handle) bool
	Connections() int
	Emit(points ...models.Point)
}

// Config - настройки HTTP-слоя.
type Config struct {
	WS ws.Config
}

// NewRouter собирает маршруты. Middleware применяется ко всем маршрутам.
func NewRouter(p Telemetry, cfg Config, sugar *zap.SugaredLogger, middlewares ...func(http.Handler) http.Handler) (*chi.Mux, error) {
	metrics, err := MetricsHandler(p)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middlewares...)

	r.Get("/ws", LoggerFuncServer(WSHandler(p, cfg, sugar), sugar))
	r.Get("/health", LoggerFuncServer(HealthHandler(p), sugar))
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Post("/ingest", LoggerFuncServer(DecompressMiddleware(IngestHandler(p, sugar)), sugar))

	return r, nil
}

// LoggerFuncServer логирует каждый запрос: URI, метод, длительность, статус и размер ответа.
func LoggerFuncServer(h http.Handler, sugar *zap.SugaredLogger) http.HandlerFunc {
	logFn := func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lw := logger.NewLoggingRW(rw)
		h.ServeHTTP(lw, r)

		sugar.Infow("Request served",
			"uri", r.RequestURI,
			"method", r.Method,
			"duration", time.Since(start),
			"status", lw.StatusCode(),
			"size", lw.ResponseData.Size,
		)
	}
	return http.HandlerFunc(logFn)
}

// DecompressMiddleware распаковывает тело запроса с Content-Encoding: gzip.
func DecompressMiddleware(h http.Handler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(rw, "Failed to decompress gzip body", http.StatusBadRequest)
				return
			}
			defer gz.Close()

			body, err := io.ReadAll(io.LimitReader(gz, maxIngestBody+1))
			if err != nil {
				http.Error(rw, "Failed to read decompressed body", http.StatusBadRequest)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.Header.Del("Content-Encoding")
		}
		h.ServeHTTP(rw, r)
	}
}

// WSHandler открывает канал живой подписки.
// Без идентификатора подписчика отвечает 401, вне RUNNING или сверх лимита подключений - 503.
func WSHandler(p Telemetry, cfg Config, sugar *zap.SugaredLogger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		subscriberID := r.Header.Get(SubscriberHeader)
		if subscriberID == "" {
			subscriberID = r.URL.Query().Get(subscriberQuery)
		}
		if subscriberID == "" {
			http.Error(rw, "Subscriber identity is required", http.StatusUnauthorized)
			return
		}

		release, err := p.Admit()
		switch {
		case errors.Is(err, registry.ErrLimitReached):
			sugar.Warnw("Connection limit reached", "subscriber", subscriberID)
			http.Error(rw, "Too many connections", http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(rw, "Telemetry pipeline is not running", http.StatusServiceUnavailable)
			return
		}
		defer release()

		client, err := ws.Accept(rw, r, cfg.WS, sugar)
		if err != nil {
			sugar.Warnw("WebSocket handshake failed", "subscriber", subscriberID, "error", err)
			return
		}

		h, err := p.Register(subscriberID, client)
		if err != nil {
			sugar.Infow("Subscription rejected", "subscriber", subscriberID, "error", err)
			_ = client.Close("service unavailable")
			return
		}
		defer p.Unregister(h)

		sugar.Infow("Subscriber connected", "subscriber", subscriberID, "handle", h)
		if err := client.Run(r.Context()); err != nil {
			sugar.Debugw("Subscriber connection ended", "subscriber", subscriberID, "handle", h, "error", err)
		}
		sugar.Infow("Subscriber disconnected", "subscriber", subscriberID, "handle", h)
	}
}

// HealthHandler отдаёт снимок состояния конвейера: 200 в RUNNING, иначе 503.
func HealthHandler(p Telemetry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		h := p.Health()
		data, err := easyjson.Marshal(h)
		if err != nil {
			http.Error(rw, "Failed to encode health", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if !h.Running {
			status = http.StatusServiceUnavailable
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		_, _ = rw.Write(data)
	}
}

// IngestHandler принимает JSON-массив точек и передаёт их в конвейер.
func IngestHandler(p Telemetry, sugar *zap.SugaredLogger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if p.State() != pipeline.Running {
			http.Error(rw, "Telemetry pipeline is not running", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
		if err != nil {
			http.Error(rw, "Failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) > maxIngestBody {
			http.Error(rw, "Body too large", http.StatusRequestEntityTooLarge)
			return
		}

		points, err := models.DecodePoints(body)
		if err != nil {
			http.Error(rw, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		now := time.Now()
		for i, pt := range points {
			if err := pt.Validate(); err != nil {
				http.Error(rw, "Invalid metric: "+err.Error(), http.StatusBadRequest)
				return
			}
			if pt.Timestamp().IsZero() {
				points[i] = pt.WithTimestamp(now)
			}
		}

		p.Emit(points...)
		sugar.Debugw("Points ingested", "count", len(points))

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusAccepted)
		_, _ = rw.Write([]byte(`{"accepted":` + strconv.Itoa(len(points)) + `}`))
	}
}
