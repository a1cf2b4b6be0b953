// Package sink описывает внешнее хранилище, в которое экспортируются пакеты метрик,
// и его реализации: HTTP, PostgreSQL, журнал и память.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// Sink принимает упорядоченный пакет точек. Ошибка означает, что пакет не доставлен
// и его можно отправить повторно: точки несут ID для дедупликации на стороне хранилища.
type Sink interface {
	Export(ctx context.Context, batch []models.Point) error
	Close() error
}

// Initializer реализуют хранилища, которым нужна подготовка перед первым экспортом.
type Initializer interface {
	Init(ctx context.Context) error
}

// Func адаптирует функцию к интерфейсу Sink.
type Func func(ctx context.Context, batch []models.Point) error

func (f Func) Export(ctx context.Context, batch []models.Point) error { return f(ctx, batch) }
func (f Func) Close() error                                           { return nil }

// Multi отправляет пакет во все хранилища по очереди.
// Ошибка любого из них делает экспорт неуспешным, и весь пакет будет повторён.
type Multi []Sink

func (m Multi) Export(ctx context.Context, batch []models.Point) error {
	var errs []error
	for _, s := range m {
		if err := s.Export(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Init(ctx context.Context) error {
	for _, s := range m {
		if in, ok := s.(Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink хранит полученные пакеты в памяти.
type MemorySink struct {
	mu      sync.Mutex
	batches [][]models.Point
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Export(ctx context.Context, batch []models.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]models.Point, len(batch))
	copy(cp, batch)

	m.mu.Lock()
	m.batches = append(m.batches, cp)
	m.mu.Unlock()
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Batches возвращает копию списка полученных пакетов.
func (m *MemorySink) Batches() [][]models.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]models.Point, len(m.batches))
	copy(out, m.batches)
	return out
}

// Points возвращает все полученные точки в порядке получения.
func (m *MemorySink) Points() []models.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Point
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

// Closed сообщает, был ли вызван Close.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
