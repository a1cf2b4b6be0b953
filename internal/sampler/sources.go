package sampler

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// Func превращает функцию в Source.
func Func(name string, fn func(ctx context.Context) ([]models.Point, error)) Source {
	return funcSource{name: name, fn: fn}
}

type funcSource struct {
	name string
	fn   func(ctx context.Context) ([]models.Point, error)
}

func (f funcSource) Name() string { return f.name }

func (f funcSource) Sample(ctx context.Context) ([]models.Point, error) { return f.fn(ctx) }

// OwnerFunc превращает функцию в OwnerSource.
func OwnerFunc(name string, fn func(ctx context.Context) (map[string][]models.Point, error)) OwnerSource {
	return ownerFuncSource{name: name, fn: fn}
}

type ownerFuncSource struct {
	name string
	fn   func(ctx context.Context) (map[string][]models.Point, error)
}

func (f ownerFuncSource) Name() string { return f.name }

func (f ownerFuncSource) SampleOwners(ctx context.Context) (map[string][]models.Point, error) {
	return f.fn(ctx)
}

// ProcessSource снимает метрики процесса (runtime.MemStats) и, при host = true,
// метрики хоста: память, загрузку CPU и load average.
type ProcessSource struct {
	prefix string
	host   bool
}

// NewProcessSource создаёт источник с префиксом имён service.
func NewProcessSource(service string, host bool) *ProcessSource {
	return &ProcessSource{prefix: service, host: host}
}

func (s *ProcessSource) Name() string { return "process" }

func (s *ProcessSource) Sample(ctx context.Context) ([]models.Point, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	labels := models.L("metric_type", "technical")
	gauge := func(name string, v float64) models.Point {
		return models.NewGauge(s.prefix+"."+name, v, labels)
	}

	points := []models.Point{
		gauge("process.heap_alloc_bytes", float64(stats.HeapAlloc)),
		gauge("process.heap_inuse_bytes", float64(stats.HeapInuse)),
		gauge("process.sys_bytes", float64(stats.Sys)),
		gauge("process.gc_pause_total_ns", float64(stats.PauseTotalNs)),
		gauge("process.gc_cpu_fraction", stats.GCCPUFraction),
		gauge("process.goroutines", float64(runtime.NumGoroutine())),
		models.NewCounter(s.prefix+".process.gc_total", float64(stats.NumGC), labels),
	}
	if !s.host {
		return points, nil
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect memory metrics: %w", err)
	}
	points = append(points,
		gauge("system.memory_total_bytes", float64(vm.Total)),
		gauge("system.memory_available_bytes", float64(vm.Available)),
		gauge("system.memory_used_percent", vm.UsedPercent),
		gauge("system.cpu_count", float64(runtime.NumCPU())),
	)

	// загрузка CPU и load average есть не на всех платформах
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		points = append(points, gauge("system.cpu_percent", pct[0]))
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		points = append(points, gauge("system.load1", avg.Load1))
	}
	return points, nil
}

// BusinessSnapshot - текущие бизнес-показатели.
type BusinessSnapshot struct {
	Properties     int
	Vacant         int
	MonthlyRevenue float64
}

// VacancyRate возвращает долю свободных объектов в процентах.
func (b BusinessSnapshot) VacancyRate() float64 {
	if b.Properties <= 0 {
		return 0
	}
	return float64(b.Vacant) / float64(b.Properties) * 100
}

// BusinessStats отдаёт бизнес-показатели для периодического снимка.
type BusinessStats interface {
	BusinessSnapshot(ctx context.Context) (BusinessSnapshot, error)
}

// BusinessSource превращает BusinessStats в точки.
type BusinessSource struct {
	prefix string
	stats  BusinessStats
}

// NewBusinessSource создаёт источник бизнес-метрик с префиксом имён service.
func NewBusinessSource(service string, stats BusinessStats) *BusinessSource {
	return &BusinessSource{prefix: service, stats: stats}
}

func (s *BusinessSource) Name() string { return "business" }

func (s *BusinessSource) Sample(ctx context.Context) ([]models.Point, error) {
	snap, err := s.stats.BusinessSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	business := models.L("metric_type", "business")
	return []models.Point{
		models.NewGauge(s.prefix+".properties.total", float64(snap.Properties), business),
		models.NewGauge(s.prefix+".vacancy.rate_percentage", snap.VacancyRate(), business),
		models.NewGauge(s.prefix+".revenue.monthly_rub", snap.MonthlyRevenue, business.With("currency", "RUB")),
	}, nil
}

// OwnerBusinessStats отдаёт бизнес-показатели каждого владельца объектов.
type OwnerBusinessStats interface {
	OwnerSnapshots(ctx context.Context) (map[string]BusinessSnapshot, error)
}

// OwnerBusinessSource строит персональные снимки владельцев: их объекты,
// свободные объекты и месячную выручку.
type OwnerBusinessSource struct {
	prefix string
	stats  OwnerBusinessStats
}

// NewOwnerBusinessSource создаёт источник персональных бизнес-метрик.
func NewOwnerBusinessSource(service string, stats OwnerBusinessStats) *OwnerBusinessSource {
	return &OwnerBusinessSource{prefix: service, stats: stats}
}

func (s *OwnerBusinessSource) Name() string { return "owner_business" }

func (s *OwnerBusinessSource) SampleOwners(ctx context.Context) (map[string][]models.Point, error) {
	snaps, err := s.stats.OwnerSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	business := models.L("metric_type", "business")
	out := make(map[string][]models.Point, len(snaps))
	for owner, snap := range snaps {
		out[owner] = []models.Point{
			models.NewGauge(s.prefix+".owner.properties.total_count", float64(snap.Properties), business),
			models.NewGauge(s.prefix+".owner.properties.vacant_count", float64(snap.Vacant), business),
			models.NewGauge(s.prefix+".owner.vacancy.rate_percentage", snap.VacancyRate(), business),
			models.NewGauge(s.prefix+".owner.revenue.monthly_rub", snap.MonthlyRevenue, business.With("currency", "RUB")),
		}
	}
	return out, nil
}
