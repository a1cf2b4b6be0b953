// Package buffer реализует ограниченный буфер точек, ожидающих экспорта.
//
// Буфер - кольцо фиксированной ёмкости. При переполнении вытесняется самая старая
// точка и увеличивается счётчик потерь: метрики доставляются по принципу best-effort,
// а память ограничена всегда.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// ErrClosed возвращается Append после закрытия буфера.
var ErrClosed = errors.New("buffer is closed")

type entry struct {
	point    models.Point
	enqueued time.Time
}

// Buffer - потокобезопасное кольцо точек с вытеснением самых старых.
type Buffer struct {
	mu       sync.Mutex
	ring     []entry
	head     int
	size     int
	closed   bool
	dropped  uint64
	appended uint64
	clock    clock.Clock
}

// New создаёт буфер ёмкостью capacity (не меньше 1). clk может быть nil.
func New(capacity int, clk clock.Clock) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Buffer{
		ring:  make([]entry, capacity),
		clock: clk,
	}
}

// Append добавляет точку. Никогда не блокируется; если буфер заполнен,
// самая старая точка вытесняется. Ошибка возвращается только после Close.
func (b *Buffer) Append(p models.Point) error {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.appended++
	if b.size == len(b.ring) {
		b.ring[b.head] = entry{}
		b.head = (b.head + 1) % len(b.ring)
		b.size--
		b.dropped++
	}

	tail := (b.head + b.size) % len(b.ring)
	b.ring[tail] = entry{point: p, enqueued: now}
	b.size++
	return nil
}

// Drain атомарно извлекает не более max самых старых точек в порядке добавления.
// max <= 0 означает "всё, что есть". Пустой буфер даёт пустой срез.
func (b *Buffer) Drain(max int) []models.Point {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if max > 0 && max < n {
		n = max
	}

	out := make([]models.Point, n)
	for i := 0; i < n; i++ {
		idx := (b.head + i) % len(b.ring)
		out[i] = b.ring[idx].point
		b.ring[idx] = entry{}
	}
	b.head = (b.head + n) % len(b.ring)
	b.size -= n
	return out
}

// PendingCount возвращает число ожидающих точек. Значение может устареть сразу после возврата.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// DroppedCount возвращает число точек, вытесненных при переполнении.
func (b *Buffer) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// AppendedCount возвращает число принятых точек за всё время.
func (b *Buffer) AppendedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended
}

// Capacity возвращает жёсткую ёмкость буфера.
func (b *Buffer) Capacity() int {
	return len(b.ring)
}

// OldestAge возвращает, сколько времени в буфере лежит самая старая точка.
func (b *Buffer) OldestAge() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldestAgeLocked()
}

func (b *Buffer) oldestAgeLocked() time.Duration {
	if b.size == 0 {
		return 0
	}
	return b.clock.Now().Sub(b.ring[b.head].enqueued)
}

// FlushDue сообщает, пора ли сбрасывать буфер: набралось sizeTrigger точек
// или самая старая ждёт дольше timeTrigger. Нулевые пороги не срабатывают.
func (b *Buffer) FlushDue(sizeTrigger int, timeTrigger time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return false
	}
	if sizeTrigger > 0 && b.size >= sizeTrigger {
		return true
	}
	return timeTrigger > 0 && b.oldestAgeLocked() >= timeTrigger
}

// Close запрещает дальнейшие Append. Drain продолжает работать,
// чтобы финальный сброс мог забрать остаток.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
