package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telemetry"

// MetricsHandler экспонирует счётчики конвейера в формате Prometheus.
// Значения читаются из Health в момент сбора.
func MetricsHandler(p Telemetry) (http.Handler, error) {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
	}
	counter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
	}

	collectors := []prometheus.Collector{
		gauge("state", "Pipeline state: 0 stopped, 1 starting, 2 running, 3 draining.",
			func() float64 { return float64(p.State()) }),
		gauge("buffer_pending", "Points waiting in the export buffer.",
			func() float64 { return float64(p.Health().Pending) }),
		gauge("connections", "Live subscriber connections.",
			func() float64 { return float64(p.Connections()) }),
		counter("buffer_dropped_total", "Points evicted from a full export buffer.",
			func() float64 { return float64(p.Health().Dropped) }),
		counter("exported_total", "Points accepted by the sink.",
			func() float64 { return float64(p.Health().Exported) }),
		counter("export_dropped_total", "Points dropped after exhausted export retries.",
			func() float64 { return float64(p.Health().ExportDropped) }),
		counter("sampler_failures_total", "Sampler sources that failed or overran the cycle deadline.",
			func() float64 { return float64(p.Health().SamplerFailures) }),
		counter("broadcast_dropped_total", "Points evicted from the live update queue.",
			func() float64 { return float64(p.Health().BroadcastDropped) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
