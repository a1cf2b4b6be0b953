package pool

import (
	"testing"
)

type scratch struct {
	data  []byte
	reset int
}

func (s *scratch) Reset() {
	s.data = s.data[:0]
	s.reset++
}

// TestPoolGetPut проверяет базовую работу Get/Put
func TestPoolGetPut(t *testing.T) {
	p := New[*scratch](func() *scratch { return &scratch{} }, 4)

	s := p.Get()
	if s == nil {
		t.Fatal("expected non-nil object from pool")
	}
	s.data = append(s.data, "payload"...)

	p.Put(s)

	s2 := p.Get()
	if s2 != s {
		t.Fatal("expected pooled object to be reused")
	}
	if len(s2.data) != 0 {
		t.Errorf("expected data to be reset, got: %q", s2.data)
	}
	if s2.reset != 1 {
		t.Errorf("expected one Reset call, got: %d", s2.reset)
	}
}

// TestPoolMaxIdle проверяет, что пул не хранит больше maxIdle объектов
func TestPoolMaxIdle(t *testing.T) {
	p := New[*scratch](func() *scratch { return &scratch{} }, 2)

	a, b, c := p.Get(), p.Get(), p.Get()
	if a == b || b == c {
		t.Fatal("expected different objects from factory")
	}

	p.Put(a)
	p.Put(b)
	p.Put(c)

	if got := p.Idle(); got != 2 {
		t.Errorf("expected 2 idle objects, got: %d", got)
	}
}

// TestPoolNilFactory проверяет поведение без фабрики
func TestPoolNilFactory(t *testing.T) {
	p := New[*scratch](nil, 0)
	if v := p.Get(); v != nil {
		t.Errorf("expected zero value, got: %v", v)
	}
}
