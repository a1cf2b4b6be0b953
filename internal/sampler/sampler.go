// Package sampler периодически снимает метрики с источников и отдаёт их
// одновременно в буфер экспорта и живым подписчикам.
//
// Каждый цикл независим: все источники опрашиваются параллельно под общим сроком,
// источник, вернувший ошибку или не успевший к сроку, пропускается и учитывается
// как сбой. Следующий цикл выполняется как обычно.
package sampler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// OwnerLabel - метка владельца у точек персональных снимков.
const OwnerLabel = "owner_id"

// Source вычисляет общий снимок для всех подписчиков.
type Source interface {
	Name() string
	Sample(ctx context.Context) ([]models.Point, error)
}

// OwnerSource вычисляет персональные снимки, сгруппированные по владельцу.
type OwnerSource interface {
	Name() string
	SampleOwners(ctx context.Context) (map[string][]models.Point, error)
}

// Appender принимает точки для экспорта.
type Appender interface {
	Append(p models.Point) error
}

// Publisher рассылает снимки подписчикам.
type Publisher interface {
	Publish(ctx context.Context, points []models.Point) int
	PublishTo(ctx context.Context, subscriberID string, points []models.Point) int
}

// Config задаёт период и срок одного цикла.
type Config struct {
	Period time.Duration
	// Timeout ограничивает опрос источников в цикле. 0 - равен Period.
	Timeout time.Duration
}

// Option настраивает Sampler.
type Option func(*Sampler)

// WithSources добавляет общие источники.
func WithSources(sources ...Source) Option {
	return func(s *Sampler) { s.sources = append(s.sources, sources...) }
}

// WithOwnerSources добавляет источники персональных снимков.
func WithOwnerSources(sources ...OwnerSource) Option {
	return func(s *Sampler) { s.owners = append(s.owners, sources...) }
}

// Sampler - периодический опрос источников.
type Sampler struct {
	cfg     Config
	buf     Appender
	pub     Publisher
	sources []Source
	owners  []OwnerSource
	logger  *zap.SugaredLogger

	cycles   atomic.Uint64
	failures atomic.Uint64
}

// New создаёт Sampler.
func New(cfg Config, buf Appender, pub Publisher, logger *zap.SugaredLogger, opts ...Option) *Sampler {
	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Period
	}

	s := &Sampler{
		cfg:    cfg,
		buf:    buf,
		pub:    pub,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run выполняет цикл каждые Period до отмены ctx. Тики, пропущенные во время
// медленного цикла, не накапливаются. Начатый цикл доводится до конца.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.Cycle(ctx)
		}
	}
}

type result struct {
	index  int
	name   string
	points []models.Point
	owners map[string][]models.Point
	err    error
}

// Cycle опрашивает все источники один раз и раздаёт результаты.
// Отмена ctx не прерывает цикл: опрос ограничен Timeout, отправка - сроком реестра.
func (s *Sampler) Cycle(ctx context.Context) {
	total := len(s.sources) + len(s.owners)
	if total == 0 {
		return
	}
	s.cycles.Add(1)

	ctx = context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// буфер на все ответы, чтобы опоздавший источник не блокировался после выхода из цикла
	results := make(chan result, total)
	for i, src := range s.sources {
		go func() {
			points, err := src.Sample(cctx)
			results <- result{index: i, name: src.Name(), points: points, err: err}
		}()
	}
	for i, src := range s.owners {
		go func() {
			owners, err := src.SampleOwners(cctx)
			results <- result{index: len(s.sources) + i, name: src.Name(), owners: owners, err: err}
		}()
	}

	collected := make([]*result, total)
	responded := make([]bool, total)
	received := 0
wait:
	for received < total {
		select {
		case r := <-results:
			received++
			responded[r.index] = true
			if r.err != nil {
				s.fail(r.name, r.err)
				continue
			}
			collected[r.index] = &r
		case <-cctx.Done():
			break wait
		}
	}
	for i, ok := range responded {
		if !ok {
			s.fail(s.sourceName(i), fmt.Errorf("sample deadline exceeded: %w", cctx.Err()))
		}
	}

	s.dispatch(ctx, collected)
}

func (s *Sampler) sourceName(i int) string {
	if i < len(s.sources) {
		return s.sources[i].Name()
	}
	return s.owners[i-len(s.sources)].Name()
}

func (s *Sampler) fail(name string, err error) {
	s.failures.Add(1)
	s.logger.Warnw("Sampler source failed", "source", name, "error", err)
}

func (s *Sampler) dispatch(ctx context.Context, collected []*result) {
	var global []models.Point
	personal := make(map[string][]models.Point)
	var owners []string

	for _, r := range collected {
		if r == nil {
			continue
		}
		global = append(global, r.points...)
		for owner, points := range r.owners {
			if _, seen := personal[owner]; !seen {
				owners = append(owners, owner)
				personal[owner] = nil
			}
			for _, p := range points {
				personal[owner] = append(personal[owner], p.WithLabel(OwnerLabel, owner))
			}
		}
	}

	for _, p := range global {
		s.append(p)
	}
	if len(global) > 0 {
		s.pub.Publish(ctx, global)
	}

	for _, owner := range owners {
		points := personal[owner]
		if len(points) == 0 {
			continue
		}
		for _, p := range points {
			s.append(p)
		}
		s.pub.PublishTo(ctx, owner, points)
	}
}

func (s *Sampler) append(p models.Point) {
	if err := s.buf.Append(p); err != nil {
		s.logger.Debugw("Sample not buffered", "metric", p.Name(), "error", err)
	}
}

// Cycles возвращает число выполненных циклов.
func (s *Sampler) Cycles() uint64 { return s.cycles.Load() }

// Failures возвращает число сбоев источников.
func (s *Sampler) Failures() uint64 { return s.failures.Load() }
