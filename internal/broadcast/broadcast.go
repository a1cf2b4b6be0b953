// Package broadcast рассылает метрики живым подписчикам.
//
// Снимки сэмплера уходят сразу (Publish, PublishTo) как сообщения "metrics".
// Точки от производителей копятся в ограниченной очереди (Push) и уходят пачкой
// "metrics_update" по таймеру или по Flush.
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/buffer"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// Fanout доставляет готовое сообщение подписчикам.
type Fanout interface {
	Broadcast(ctx context.Context, msg []byte) int
	SendTo(ctx context.Context, subscriberID string, msg []byte) int
}

const (
	defaultInterval      = time.Second
	defaultQueueCapacity = 1000
)

// Option настраивает Broadcaster.
type Option func(*Broadcaster)

// WithInterval задаёт период отправки накопленных обновлений.
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithQueueCapacity ограничивает очередь обновлений. Старые точки вытесняются.
func WithQueueCapacity(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithClock подменяет часы для меток времени сообщений и таймера рассылки.
func WithClock(clk clock.Clock) Option {
	return func(b *Broadcaster) {
		if clk != nil {
			b.clock = clk
		}
	}
}

// Broadcaster - рассылка метрик через реестр подключений.
type Broadcaster struct {
	fanout   Fanout
	interval time.Duration
	capacity int
	clock    clock.Clock
	queue    *buffer.Buffer
	logger   *zap.SugaredLogger

	messages       atomic.Uint64
	encodeFailures atomic.Uint64
}

// New создаёт Broadcaster поверх fanout.
func New(fanout Fanout, logger *zap.SugaredLogger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		fanout:   fanout,
		interval: defaultInterval,
		capacity: defaultQueueCapacity,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = buffer.New(b.capacity, b.clock)
	return b
}

// Push ставит точки в очередь обновлений. Никогда не блокируется.
func (b *Broadcaster) Push(points ...models.Point) {
	for _, p := range points {
		// ErrClosed возможен только после Close; такие точки не нужны
		_ = b.queue.Append(p)
	}
}

// Flush немедленно отправляет накопленные обновления всем подписчикам.
// Возвращает число доставок.
func (b *Broadcaster) Flush(ctx context.Context) int {
	points := b.queue.Drain(0)
	if len(points) == 0 {
		return 0
	}
	return b.send(ctx, models.Envelope{Type: models.MessageMetricsUpdate, Points: points}, "")
}

// Publish отправляет снимок всем подписчикам.
func (b *Broadcaster) Publish(ctx context.Context, points []models.Point) int {
	return b.send(ctx, models.Envelope{Type: models.MessageMetrics, Points: points}, "")
}

// PublishTo отправляет персональный снимок всем подключениям подписчика.
func (b *Broadcaster) PublishTo(ctx context.Context, subscriberID string, points []models.Point) int {
	env := models.Envelope{Type: models.MessageMetrics, Points: points, SubscriberID: subscriberID}
	return b.send(ctx, env, subscriberID)
}

func (b *Broadcaster) send(ctx context.Context, env models.Envelope, to string) int {
	env.Timestamp = b.clock.Now()
	msg, err := env.Encode()
	if err != nil {
		b.encodeFailures.Add(1)
		b.logger.Errorw("Failed to encode envelope", "type", env.Type, "error", err)
		return 0
	}

	b.messages.Add(1)
	if to != "" {
		return b.fanout.SendTo(ctx, to, msg)
	}
	return b.fanout.Broadcast(ctx, msg)
}

// Run отправляет накопленные обновления каждые interval до отмены ctx.
// Начатая рассылка доводится до конца, каждую отправку ограничивает срок реестра.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()

	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			b.queue.Close()
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				b.queue.Close()
				return
			}
			if n := b.Flush(sendCtx); n > 0 {
				b.logger.Debugw("Metrics update broadcast", "deliveries", n)
			}
		}
	}
}

// Pending возвращает число точек, ожидающих отправки.
func (b *Broadcaster) Pending() int { return b.queue.PendingCount() }

// Dropped возвращает число точек, вытесненных из переполненной очереди.
func (b *Broadcaster) Dropped() uint64 { return b.queue.DroppedCount() }

// Messages возвращает число отправленных сообщений.
func (b *Broadcaster) Messages() uint64 { return b.messages.Load() }
