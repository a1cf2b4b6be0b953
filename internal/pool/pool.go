// Package pool предоставляет обобщённый пул объектов T, ограниченных Reset().
// Пример использования:
//
//	bufPool := pool.New[*payload](func() *payload { return &payload{} }, 8)
//	buf := bufPool.Get()
//	// использовать buf
//	bufPool.Put(buf)
package pool

import (
	"sync"
)

// Resettable ограничивает тип тем, у кого есть метод Reset()
type Resettable interface {
	Reset()
}

// Pool хранит не более maxIdle свободных объектов типа T.
// Лишние объекты при Put отбрасываются и достаются сборщику мусора.
type Pool[T Resettable] struct {
	mu      sync.Mutex
	items   []T
	maxIdle int
	factory func() T
}

// New создаёт новый Pool[T]. Фабрика должна возвращать новый экземпляр T.
// maxIdle <= 0 снимает ограничение.
func New[T Resettable](factory func() T, maxIdle int) *Pool[T] {
	return &Pool[T]{factory: factory, maxIdle: maxIdle}
}

// Get возвращает объект из пула. Если пул пуст, создаёт новый через фабрику.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.items); n > 0 {
		v := p.items[n-1]
		var zero T
		p.items[n-1] = zero
		p.items = p.items[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()

	if p.factory != nil {
		return p.factory()
	}
	var zero T
	return zero
}

// Put сбрасывает объект и возвращает его в пул.
func (p *Pool[T]) Put(v T) {
	v.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdle > 0 && len(p.items) >= p.maxIdle {
		return
	}
	p.items = append(p.items, v)
}

// Idle возвращает число свободных объектов.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
