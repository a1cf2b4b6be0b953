// Package pipeline собирает буфер, сброс, реестр подключений, рассылку и сэмплер
// в один управляемый конвейер телеметрии.
//
// Жизненный цикл: STOPPED → STARTING → RUNNING → DRAINING → STOPPED. Ни одно
// состояние не пропускается: запрос остановки во время STARTING запоминается и
// выполняется после завершения инициализации.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/broadcast"
	"github.com/levinOo/go-telemetry-pipeline/internal/buffer"
	"github.com/levinOo/go-telemetry-pipeline/internal/flusher"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/registry"
	"github.com/levinOo/go-telemetry-pipeline/internal/sampler"
	"github.com/levinOo/go-telemetry-pipeline/internal/sink"
)

var (
	// ErrNotStopped возвращает Start, если конвейер уже запускается или работает.
	ErrNotStopped = errors.New("pipeline is not stopped")
	// ErrAlreadyStarted возвращает Start после завершённого цикла работы.
	ErrAlreadyStarted = errors.New("pipeline has already been started")
	// ErrNotRunning возвращается при регистрации подписчика вне состояния RUNNING.
	ErrNotRunning = errors.New("pipeline is not running")
)

// Config объединяет параметры компонентов.
type Config struct {
	BufferCapacity    int
	Flusher           flusher.Config
	Sampler           sampler.Config
	BroadcastInterval time.Duration
	BroadcastQueue    int
	SendTimeout       time.Duration
	ShutdownTimeout   time.Duration
	// MaxConnections ограничивает число мест, выдаваемых Admit. 0 снимает ограничение.
	MaxConnections int
}

// Option настраивает Pipeline.
type Option func(*options)

type options struct {
	clock       clock.Clock
	sources     []sampler.Source
	owners      []sampler.OwnerSource
	drops       flusher.DropRecorder
	observers   []func(from, to State)
	parallelism int
}

// WithClock подменяет часы буфера и рассылки.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithSources добавляет общие источники сэмплера.
func WithSources(sources ...sampler.Source) Option {
	return func(o *options) { o.sources = append(o.sources, sources...) }
}

// WithOwnerSources добавляет источники персональных снимков.
func WithOwnerSources(sources ...sampler.OwnerSource) Option {
	return func(o *options) { o.owners = append(o.owners, sources...) }
}

// WithDropRecorder подключает журнал потерянных пакетов экспорта.
func WithDropRecorder(r flusher.DropRecorder) Option {
	return func(o *options) { o.drops = r }
}

// WithBroadcastParallelism ограничивает число одновременных отправок при рассылке.
func WithBroadcastParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// OnTransition регистрирует наблюдателя смены состояний.
func OnTransition(fn func(from, to State)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// Pipeline - конвейер телеметрии.
type Pipeline struct {
	cfg       Config
	sink      sink.Sink
	observers []func(from, to State)
	logger    *zap.SugaredLogger

	buf *buffer.Buffer
	reg *registry.Registry
	fl  *flusher.Flusher
	bc  *broadcast.Broadcaster
	smp *sampler.Sampler

	mu                sync.Mutex
	state             State
	used              bool
	shutdownRequested bool
	starting          chan struct{}
	stopped           chan struct{}
	cancel            context.CancelFunc
	loops             sync.WaitGroup
	finalErr          error
}

// New собирает конвейер. Запуск фоновых циклов выполняет Start.
func New(cfg Config, s sink.Sink, logger *zap.SugaredLogger, opts ...Option) *Pipeline {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	p := &Pipeline{
		cfg:       cfg,
		sink:      s,
		observers: o.observers,
		logger:    logger,
		state:     Stopped,
	}

	p.buf = buffer.New(cfg.BufferCapacity, o.clock)
	p.reg = registry.New(logger.Named("registry"),
		registry.WithSendTimeout(cfg.SendTimeout),
		registry.WithParallelism(o.parallelism),
		registry.WithMaxConnections(cfg.MaxConnections),
	)

	var flOpts []flusher.Option
	if o.drops != nil {
		flOpts = append(flOpts, flusher.WithDropRecorder(o.drops))
	}
	p.fl = flusher.New(cfg.Flusher, p.buf, s, logger.Named("flusher"), flOpts...)

	p.bc = broadcast.New(p.reg, logger.Named("broadcast"),
		broadcast.WithInterval(cfg.BroadcastInterval),
		broadcast.WithQueueCapacity(cfg.BroadcastQueue),
		broadcast.WithClock(o.clock),
	)
	p.smp = sampler.New(cfg.Sampler, p.buf, p.bc, logger.Named("sampler"),
		sampler.WithSources(o.sources...),
		sampler.WithOwnerSources(o.owners...),
	)
	return p
}

// Start инициализирует хранилище и запускает сброс, сэмплер и рассылку.
// Ошибка инициализации проводит конвейер через DRAINING в STOPPED.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Stopped {
		p.mu.Unlock()
		return ErrNotStopped
	}
	if p.used {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.used = true
	p.starting = make(chan struct{})
	p.stopped = make(chan struct{})
	p.state = Starting
	p.mu.Unlock()
	p.notify(Stopped, Starting)

	if in, ok := p.sink.(sink.Initializer); ok {
		if err := in.Init(ctx); err != nil {
			p.logger.Errorw("Pipeline initialisation failed", "error", err)
			p.setState(Draining)
			p.release()
			p.finish(err)
			close(p.starting)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.loops.Add(3)
	go func() {
		defer p.loops.Done()
		p.fl.Run(runCtx)
	}()
	go func() {
		defer p.loops.Done()
		p.smp.Run(runCtx)
	}()
	go func() {
		defer p.loops.Done()
		p.bc.Run(runCtx)
	}()

	p.setState(Running)

	p.mu.Lock()
	pending := p.shutdownRequested
	p.mu.Unlock()
	if pending {
		p.logger.Infow("Initialisation complete, proceeding with requested shutdown")
	}
	close(p.starting)
	return nil
}

// Shutdown останавливает конвейер: прекращает приём подключений, дожидается
// текущей работы фоновых циклов, делает один финальный сброс, закрывает все
// подключения и хранилище. Возвращает ошибку финального сброса.
// Вызов во время STARTING ждёт окончания инициализации.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case Stopped:
		err := p.finalErr
		p.mu.Unlock()
		return err

	case Starting:
		p.shutdownRequested = true
		starting := p.starting
		p.mu.Unlock()
		p.logger.Infow("Shutdown requested during start, waiting for initialisation")
		select {
		case <-starting:
		case <-ctx.Done():
			return ctx.Err()
		}
		return p.Shutdown(ctx)

	case Draining:
		stopped := p.stopped
		p.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.finalErr
	}

	cancel := p.cancel
	p.state = Draining
	p.mu.Unlock()
	p.notify(Running, Draining)

	if cancel != nil {
		cancel()
	}
	waited := make(chan struct{})
	go func() {
		p.loops.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		p.logger.Warnw("Background loops still running, continuing shutdown", "error", ctx.Err())
	}

	err := p.release()
	p.finish(err)
	return err
}

// release закрывает буфер, делает финальный сброс, закрывает подключения и хранилище.
func (p *Pipeline) release() error {
	p.buf.Close()

	flushErr := p.fl.FinalFlush(p.cfg.ShutdownTimeout)
	if flushErr != nil {
		p.logger.Errorw("Final flush failed", "error", flushErr)
	}

	closed := p.reg.CloseAll("server shutting down")

	if err := p.sink.Close(); err != nil {
		p.logger.Errorw("Failed to close sink", "error", err)
	}

	p.logger.Infow("Pipeline drained",
		"connections_closed", closed,
		"exported", p.fl.Exported(),
		"export_dropped", p.fl.ExportDropped(),
		"dropped", p.buf.DroppedCount(),
	)
	return flushErr
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	p.finalErr = err
	stopped := p.stopped
	p.mu.Unlock()

	p.setState(Stopped)
	close(stopped)
}

func (p *Pipeline) setState(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()
	p.notify(from, to)
}

func (p *Pipeline) notify(from, to State) {
	p.logger.Infow("Pipeline state changed", "from", from.String(), "to", to.String())
	for _, fn := range p.observers {
		fn(from, to)
	}
}

// State возвращает текущее состояние.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Append ставит точку в буфер экспорта. Никогда не блокируется.
func (p *Pipeline) Append(pt models.Point) error {
	return p.buf.Append(pt)
}

// Push ставит точки в очередь живых обновлений.
func (p *Pipeline) Push(points ...models.Point) {
	p.bc.Push(points...)
}

// Emit отправляет точки по обоим независимым путям: в буфер экспорта и подписчикам.
func (p *Pipeline) Emit(points ...models.Point) {
	for _, pt := range points {
		if err := p.buf.Append(pt); err != nil {
			p.logger.Debugw("Point not buffered", "metric", pt.Name(), "error", err)
		}
	}
	p.bc.Push(points...)
}

// Admit занимает место для нового подключения подписчика. Вне RUNNING возвращает
// ErrNotRunning, при исчерпанном лимите - registry.ErrLimitReached. Место держится
// до вызова release.
func (p *Pipeline) Admit() (release func(), err error) {
	if p.State() != Running {
		return nil, ErrNotRunning
	}
	return p.reg.Reserve()
}

// Register добавляет подключение подписчика. Вне RUNNING возвращает ErrNotRunning.
func (p *Pipeline) Register(subscriberID string, conn registry.Conn) (registry.Handle, error) {
	if p.State() != Running {
		return "", ErrNotRunning
	}
	return p.reg.Register(subscriberID, conn), nil
}

// Unregister удаляет подключение подписчика.
func (p *Pipeline) Unregister(h registry.Handle) bool {
	return p.reg.Unregister(h)
}

// Connections возвращает число живых подключений.
func (p *Pipeline) Connections() int {
	return p.reg.Len()
}

// Broadcaster возвращает рассылку для адресных публикаций.
func (p *Pipeline) Broadcaster() *broadcast.Broadcaster {
	return p.bc
}

// Health возвращает снимок состояния конвейера.
func (p *Pipeline) Health() Health {
	state := p.State()
	return Health{
		State:            state.String(),
		Running:          state == Running,
		Pending:          p.buf.PendingCount(),
		Dropped:          p.buf.DroppedCount(),
		ExportDropped:    p.fl.ExportDropped(),
		Exported:         p.fl.Exported(),
		Connections:      p.reg.Len(),
		SamplerFailures:  p.smp.Failures(),
		BroadcastDropped: p.bc.Dropped(),
	}
}

// FinalFlushes возвращает число финальных сбросов.
func (p *Pipeline) FinalFlushes() uint64 {
	return p.fl.FinalFlushes()
}
