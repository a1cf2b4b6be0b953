// Package service собирает сервис телеметрии из конфигурации: хранилище экспорта,
// журнал потерь, источники сэмплера, конвейер и HTTP-сервер. Управляет жизненным
// циклом и корректным завершением работы по SIGINT/SIGTERM.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/levinOo/go-telemetry-pipeline/internal/audit"
	"github.com/levinOo/go-telemetry-pipeline/internal/config"
	"github.com/levinOo/go-telemetry-pipeline/internal/flusher"
	"github.com/levinOo/go-telemetry-pipeline/internal/handler"
	"github.com/levinOo/go-telemetry-pipeline/internal/logger"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/pipeline"
	"github.com/levinOo/go-telemetry-pipeline/internal/producer"
	"github.com/levinOo/go-telemetry-pipeline/internal/sampler"
	"github.com/levinOo/go-telemetry-pipeline/internal/sink"
	"github.com/levinOo/go-telemetry-pipeline/internal/ws"
)

// Service содержит все компоненты работающего сервиса телеметрии.
type Service struct {
	cfg      config.Config
	logger   *zap.SugaredLogger
	pipeline *pipeline.Pipeline
	server   *http.Server
	business *producer.Business
}

// Serve создаёт логгер и сервис по конфигурации и работает до SIGINT/SIGTERM.
func Serve(cfg config.Config) error {
	sugar, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = sugar.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := New(cfg, sugar)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

// New собирает сервис. Хранилище выбирается по конфигурации: HTTP при заданном
// SinkURL, PostgreSQL при заданном DatabaseDSN, оба сразу через sink.Multi,
// иначе пакеты пишутся в лог.
func New(cfg config.Config, sugar *zap.SugaredLogger) (*Service, error) {
	sugar.Infow("Starting telemetry service with config",
		"address", cfg.Addr,
		"sizeTrigger", cfg.SizeTrigger,
		"timeTrigger", cfg.TimeTrigger,
		"bufferCapacity", cfg.BufferCapacity,
		"batchSize", cfg.BatchSize,
		"maxRetries", cfg.MaxRetries,
		"samplePeriod", cfg.SamplePeriod,
		"sinkURL", cfg.SinkURL,
		"postgres", cfg.DatabaseDSN != "",
		"configFile", cfg.ConfigFilePath,
	)

	out, err := buildSink(cfg, sugar)
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, logger: sugar}

	var emitter producer.EmitterFunc = func(points ...models.Point) { svc.pipeline.Emit(points...) }
	svc.business = producer.NewBusiness(cfg.ServiceName, emitter)
	requests := producer.NewRequestMetrics(cfg.ServiceName, emitter, "/health", "/metrics", "/ws")

	opts := []pipeline.Option{
		pipeline.WithSources(
			sampler.NewProcessSource(cfg.ServiceName, cfg.HostMetrics),
			sampler.NewBusinessSource(cfg.ServiceName, svc.business),
			requests,
		),
		pipeline.WithOwnerSources(
			sampler.NewOwnerBusinessSource(cfg.ServiceName, svc.business),
		),
	}
	if journal := audit.FromConfig(cfg.DropAuditFile, cfg.DropAuditURL, sugar.Named("audit")); journal != nil {
		opts = append(opts, pipeline.WithDropRecorder(journal))
	}

	svc.pipeline = pipeline.New(pipelineConfig(cfg), out, sugar.Named("pipeline"), opts...)

	router, err := handler.NewRouter(svc.pipeline, handler.Config{
		WS: ws.Config{
			PingInterval: cfg.PingInterval,
			PingTimeout:  cfg.PingTimeout,
		},
	}, sugar.Named("http"), requests.Handler)
	if err != nil {
		return nil, err
	}

	svc.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc, nil
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		BufferCapacity: cfg.BufferCapacity,
		Flusher: flusher.Config{
			SizeTrigger:    cfg.SizeTrigger,
			TimeTrigger:    cfg.TimeTrigger,
			BatchSize:      cfg.BatchSize,
			CheckInterval:  cfg.FlushCheckInterval,
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
			ExportTimeout:  cfg.ExportTimeout,
		},
		Sampler: sampler.Config{
			Period:  cfg.SamplePeriod,
			Timeout: cfg.SampleTimeout,
		},
		BroadcastInterval: cfg.BroadcastInterval,
		BroadcastQueue:    cfg.BroadcastQueue,
		SendTimeout:       cfg.SendTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		MaxConnections:    cfg.MaxConnections,
	}
}

func buildSink(cfg config.Config, sugar *zap.SugaredLogger) (sink.Sink, error) {
	var sinks sink.Multi

	if cfg.SinkURL != "" {
		sinks = append(sinks, sink.NewHTTPSink(sink.HTTPConfig{
			URL:   cfg.SinkURL,
			Key:   cfg.Key,
			Token: cfg.SinkToken,
			BaseLabels: models.L(
				"service", cfg.ServiceName,
				"environment", cfg.Environment,
				"version", cfg.ServiceVersion,
			),
		}, sugar.Named("sink.http")))
	}

	if cfg.DatabaseDSN != "" {
		pg, err := sink.OpenPostgres(cfg.DatabaseDSN, sugar.Named("sink.postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres sink: %w", err)
		}
		sinks = append(sinks, pg)
	}

	switch len(sinks) {
	case 0:
		sugar.Infow("No export sink configured, batches go to the log")
		return sink.NewLogSink(sugar.Named("sink.log")), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Pipeline возвращает конвейер сервиса.
func (s *Service) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Business возвращает хуки бизнес-событий для встраивающего приложения.
func (s *Service) Business() *producer.Business { return s.business }

// Handler возвращает HTTP-обработчик сервиса.
func (s *Service) Handler() http.Handler { return s.server.Handler }

// Run запускает конвейер и HTTP-сервер и работает до отмены ctx или ошибки сервера,
// после чего выполняет корректное завершение.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.RunListener(ctx, ln)
}

// RunListener то же, что Run, но принимает соединения на ln.
func (s *Service) RunListener(ctx context.Context, ln net.Listener) error {
	if err := s.pipeline.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infow("HTTP server started", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Server error", "error", err)
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Infow("Shutting down telemetry service")
		return s.gracefulShutdown()
	})
	return g.Wait()
}

// gracefulShutdown сначала останавливает конвейер (финальный сброс, закрытие
// подписок), затем HTTP-сервер.
func (s *Service) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorw("Server shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Infow("Telemetry service stopped gracefully",
		"exported", s.pipeline.Health().Exported,
		"final_flushes", s.pipeline.FinalFlushes(),
	)
	return nil
}
