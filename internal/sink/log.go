package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// LogSink пишет пакеты в журнал. Используется, когда внешнее хранилище не настроено.
type LogSink struct {
	logger *zap.SugaredLogger
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Export(_ context.Context, batch []models.Point) error {
	if len(batch) == 0 {
		return nil
	}
	s.logger.Infow("Exporting batch to log", "points", len(batch),
		"first", batch[0].Name(), "last", batch[len(batch)-1].Name())
	for _, p := range batch {
		s.logger.Debugw("Point", "id", p.ID(), "name", p.Name(), "kind", p.Kind(),
			"value", p.Value(), "labels", p.Labels().Map(), "timestamp", p.Timestamp())
	}
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
