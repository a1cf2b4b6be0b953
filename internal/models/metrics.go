// Package models содержит структуры данных, описывающие основные сущности телеметрии.
// Пакет не содержит бизнес-логику и используется для передачи данных между слоями приложения.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind определяет тип метрики.
type Kind string

// Константы типов метрик
const (
	// Counter представляет метрику-счётчик, значение которой только увеличивается.
	Counter Kind = "COUNTER"

	// Gauge представляет метрику-измеритель, значение которой может изменяться произвольно.
	Gauge Kind = "GAUGE"
)

// ParseKind разбирает строковое представление типа без учёта регистра.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Counter):
		return Counter, nil
	case string(Gauge):
		return Gauge, nil
	default:
		return "", fmt.Errorf("unknown metric kind %q", s)
	}
}

// Valid сообщает, является ли тип известным.
func (k Kind) Valid() bool {
	return k == Counter || k == Gauge
}

// Label - одна пара имя/значение измерения метрики.
type Label struct {
	Name  string
	Value string
}

// Labels - упорядоченный набор меток. Порядок задаётся производителем метрики
// и сохраняется при сериализации.
type Labels []Label

// L собирает Labels из чередующихся имён и значений: L("method", "GET", "status", "200").
// Непарный последний элемент игнорируется.
func L(kv ...string) Labels {
	out := make(Labels, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = out.With(kv[i], kv[i+1])
	}
	return out
}

// Get возвращает значение метки по имени.
func (l Labels) Get(name string) (string, bool) {
	for _, lb := range l {
		if lb.Name == name {
			return lb.Value, true
		}
	}
	return "", false
}

// With возвращает новый набор, в котором метка name имеет значение value.
// Существующая метка сохраняет свою позицию, новая добавляется в конец.
func (l Labels) With(name, value string) Labels {
	out := make(Labels, len(l), len(l)+1)
	copy(out, l)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Label{Name: name, Value: value})
}

// Merge возвращает base, дополненный метками l. При совпадении имён побеждает l.
func (l Labels) Merge(base Labels) Labels {
	out := make(Labels, len(base), len(base)+len(l))
	copy(out, base)
	for _, lb := range l {
		out = out.With(lb.Name, lb.Value)
	}
	return out
}

// Map возвращает метки в виде map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, lb := range l {
		m[lb.Name] = lb.Value
	}
	return m
}

func (l Labels) clone() Labels {
	if l == nil {
		return nil
	}
	out := make(Labels, len(l))
	copy(out, l)
	return out
}

// Point - неизменяемое наблюдение метрики: имя, значение, тип, метки и время.
// Создаётся производителем в момент наблюдения и далее не меняется.
//
// ID назначается при создании и служит ключом дедупликации во внешнем хранилище:
// доставка гарантируется по схеме at-least-once.
type Point struct {
	id        string
	name      string
	value     float64
	kind      Kind
	labels    Labels
	timestamp time.Time
}

// NewPoint создаёт точку со свежим идентификатором. Метки копируются.
func NewPoint(name string, kind Kind, value float64, labels Labels, ts time.Time) Point {
	return Point{
		id:        uuid.NewString(),
		name:      name,
		value:     value,
		kind:      kind,
		labels:    labels.clone(),
		timestamp: ts,
	}
}

// NewCounter создаёт точку-счётчик с текущим временем.
func NewCounter(name string, value float64, labels Labels) Point {
	return NewPoint(name, Counter, value, labels, time.Now())
}

// NewGauge создаёт точку-измеритель с текущим временем.
func NewGauge(name string, value float64, labels Labels) Point {
	return NewPoint(name, Gauge, value, labels, time.Now())
}

func (p Point) ID() string           { return p.id }
func (p Point) Name() string         { return p.name }
func (p Point) Value() float64       { return p.value }
func (p Point) Kind() Kind           { return p.kind }
func (p Point) Timestamp() time.Time { return p.timestamp }

// Labels возвращает копию меток точки.
func (p Point) Labels() Labels { return p.labels.clone() }

// WithTimestamp возвращает копию точки с другим временем наблюдения.
func (p Point) WithTimestamp(ts time.Time) Point {
	p.labels = p.labels.clone()
	p.timestamp = ts
	return p
}

// WithLabel возвращает копию точки с добавленной (или заменённой) меткой.
func (p Point) WithLabel(name, value string) Point {
	p.labels = p.labels.With(name, value)
	return p
}

// WithBaseLabels возвращает копию точки, дополненную метками base.
// Собственные метки точки имеют приоритет.
func (p Point) WithBaseLabels(base Labels) Point {
	p.labels = p.labels.Merge(base)
	return p
}

var (
	errEmptyName = errors.New("metric name is empty")
	errBadValue  = errors.New("metric value is not a finite number")
)

// Validate проверяет, что точка пригодна для экспорта.
func (p Point) Validate() error {
	if strings.TrimSpace(p.name) == "" {
		return errEmptyName
	}
	if !p.kind.Valid() {
		return fmt.Errorf("metric %s: unknown kind %q", p.name, p.kind)
	}
	if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
		return fmt.Errorf("metric %s: %w", p.name, errBadValue)
	}
	return nil
}
