// Package flusher переносит точки из буфера во внешнее хранилище.
//
// Сброс выполняется по таймеру проверки, когда буфер сообщает о срабатывании
// порога по размеру или возрасту. В каждый момент выполняется не больше одного
// сброса, поэтому порядок точек сохраняется между пакетами.
package flusher

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/buffer"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/sink"
)

// Config задаёт пороги и политику повторов.
type Config struct {
	// SizeTrigger - число ожидающих точек, при котором начинается сброс.
	SizeTrigger int
	// TimeTrigger - возраст самой старой точки, при котором начинается сброс.
	TimeTrigger time.Duration
	// BatchSize ограничивает размер одного пакета. 0 - без ограничения.
	BatchSize int
	// CheckInterval - период проверки порогов.
	CheckInterval time.Duration
	// MaxRetries - общее число попыток доставки пакета, включая первую.
	MaxRetries int
	// RetryBaseDelay - пауза после первой неудачной попытки, дальше она удваивается.
	RetryBaseDelay time.Duration
	// RetryMaxDelay - предел паузы. 0 - без предела.
	RetryMaxDelay time.Duration
	// ExportTimeout ограничивает каждую попытку отдельно.
	ExportTimeout time.Duration
}

// DropRecorder получает пакеты, от которых пришлось отказаться.
type DropRecorder interface {
	RecordDrop(batch []models.Point, reason error)
}

// Option настраивает Flusher.
type Option func(*Flusher)

// WithDropRecorder подключает журнал потерянных пакетов.
func WithDropRecorder(r DropRecorder) Option {
	return func(f *Flusher) { f.drops = r }
}

var errInterrupted = errors.New("flush interrupted")

// Flusher - фоновый сброс буфера в хранилище.
type Flusher struct {
	cfg    Config
	buf    *buffer.Buffer
	sink   sink.Sink
	drops  DropRecorder
	logger *zap.SugaredLogger

	// mu сериализует циклы сброса и финальный сброс.
	mu sync.Mutex
	// carry - пакет, повтор которого прервало завершение работы.
	carry []models.Point

	exported      atomic.Uint64
	exportDropped atomic.Uint64
	batches       atomic.Uint64
	finalFlushes  atomic.Uint64
}

// New создаёт Flusher. Нулевые параметры Config заменяются значениями по умолчанию.
func New(cfg Config, buf *buffer.Buffer, s sink.Sink, logger *zap.SugaredLogger, opts ...Option) *Flusher {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 10 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = math.MaxInt64
	}

	f := &Flusher{
		cfg:    cfg,
		buf:    buf,
		sink:   s,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run проверяет пороги каждые CheckInterval до отмены ctx.
// Отмена не прерывает начатую попытку экспорта: она ограничена только ExportTimeout.
// Прерывается лишь ожидание перед повтором, тогда пакет переходит в финальный сброс.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Check(ctx)
		}
	}
}

// Check выполняет один цикл: пока сброс положен, забирает пакет и доставляет его.
func (f *Flusher) Check(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ctx.Err() == nil && f.buf.FlushDue(f.cfg.SizeTrigger, f.cfg.TimeTrigger) {
		batch := f.buf.Drain(f.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		if err := f.deliver(ctx, batch); errors.Is(err, errInterrupted) {
			f.carry = batch
			f.logger.Infow("Flush interrupted, batch kept for final flush", "points", len(batch))
			return
		}
	}
}

func (f *Flusher) deliver(ctx context.Context, batch []models.Point) error {
	f.batches.Add(1)

	delays := f.newBackOff()
	var err error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		err = f.export(ctx, batch)
		if err == nil {
			f.exported.Add(uint64(len(batch)))
			f.logger.Debugw("Batch exported", "points", len(batch), "attempt", attempt)
			return nil
		}

		f.logger.Warnw("Export attempt failed", "attempt", attempt, "max_retries", f.cfg.MaxRetries, "error", err)
		if attempt == f.cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return errInterrupted
		}

		timer := time.NewTimer(delays.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return errInterrupted
		case <-timer.C:
		}
	}

	f.drop(batch, err)
	return err
}

// export выполняет одну попытку. Отмена ctx её не прерывает.
func (f *Flusher) export(ctx context.Context, batch []models.Point) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.ExportTimeout)
	defer cancel()
	return f.sink.Export(ctx, batch)
}

// newBackOff возвращает паузы между попытками: base, 2*base, 4*base ... не больше max.
func (f *Flusher) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     f.cfg.RetryBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         f.cfg.RetryMaxDelay,
	}
	b.Reset()
	return b
}

func (f *Flusher) drop(batch []models.Point, reason error) {
	f.exportDropped.Add(uint64(len(batch)))
	f.logger.Errorw("Batch dropped", "points", len(batch), "error", reason)
	if f.drops != nil {
		f.drops.RecordDrop(batch, reason)
	}
}

// FinalFlush делает одну попытку отправить отложенный пакет и всё, что осталось в буфере,
// уложившись в timeout. При неудаче точки отбрасываются и учитываются как потерянные.
func (f *Flusher) FinalFlush(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finalFlushes.Add(1)

	batch := append(f.carry, f.buf.Drain(0)...)
	f.carry = nil
	if len(batch) == 0 {
		f.logger.Infow("Final flush: nothing to export")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	f.batches.Add(1)
	if err := f.sink.Export(ctx, batch); err != nil {
		f.drop(batch, err)
		return err
	}

	f.exported.Add(uint64(len(batch)))
	f.logger.Infow("Final flush completed", "points", len(batch))
	return nil
}

// Exported возвращает число точек, принятых хранилищем.
func (f *Flusher) Exported() uint64 { return f.exported.Load() }

// ExportDropped возвращает число точек, потерянных после исчерпания попыток.
func (f *Flusher) ExportDropped() uint64 { return f.exportDropped.Load() }

// Batches возвращает число пакетов, переданных в доставку.
func (f *Flusher) Batches() uint64 { return f.batches.Load() }

// FinalFlushes возвращает число выполненных финальных сбросов.
func (f *Flusher) FinalFlushes() uint64 { return f.finalFlushes.Load() }
