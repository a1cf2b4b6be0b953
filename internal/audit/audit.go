// Package audit ведёт журнал пакетов экспорта, от которых конвейер отказался
// после исчерпания попыток. Использует паттерн Observer: событие потери
// рассылается всем зарегистрированным потребителям (файл, HTTP endpoint).
package audit

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mailru/easyjson"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

// maxNames ограничивает число имён метрик в одном событии.
const maxNames = 50

// Consumer обрабатывает событие потери пакета.
type Consumer interface {
	Update(ctx context.Context, ev DropEvent)
}

// Auditer рассылает события потери зарегистрированным потребителям.
// Реализует flusher.DropRecorder.
type Auditer struct {
	mu      sync.RWMutex
	clients []Consumer
	timeout time.Duration
}

// New создаёт журнал. timeout ограничивает обработку одного события.
func New(timeout time.Duration) *Auditer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Auditer{timeout: timeout}
}

// RegisterClient добавляет потребителя.
func (a *Auditer) RegisterClient(c Consumer) {
	a.mu.Lock()
	a.clients = append(a.clients, c)
	a.mu.Unlock()
}

// Len возвращает число потребителей.
func (a *Auditer) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// NotifyClient отправляет событие всем потребителям.
func (a *Auditer) NotifyClient(ev DropEvent) {
	a.mu.RLock()
	clients := a.clients
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for _, c := range clients {
		c.Update(ctx, ev)
	}
}

// RecordDrop формирует событие по потерянному пакету и рассылает его.
func (a *Auditer) RecordDrop(batch []models.Point, reason error) {
	if a.Len() == 0 {
		return
	}
	a.NotifyClient(NewDropEvent(batch, reason, time.Now()))
}

// NewDropEvent описывает потерянный пакет: размер, причину и уникальные имена метрик.
func NewDropEvent(batch []models.Point, reason error, at time.Time) DropEvent {
	ev := DropEvent{
		TS:     at.Unix(),
		Points: len(batch),
	}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	if len(batch) > 0 {
		ev.FirstID = batch[0].ID()
		ev.LastID = batch[len(batch)-1].ID()
	}

	seen := make(map[string]struct{})
	for _, p := range batch {
		if _, ok := seen[p.Name()]; ok {
			continue
		}
		seen[p.Name()] = struct{}{}
		if len(ev.MetricNames) == maxNames {
			break
		}
		ev.MetricNames = append(ev.MetricNames, p.Name())
	}
	return ev
}

// FileAuditer дописывает события в файл построчно (JSON Lines).
type FileAuditer struct {
	mu     sync.Mutex
	path   string
	logger *zap.SugaredLogger
}

// NewFileAuditer создаёт потребителя, пишущего в path.
func NewFileAuditer(path string, logger *zap.SugaredLogger) *FileAuditer {
	return &FileAuditer{path: path, logger: logger}
}

// Update добавляет событие в конец файла. Пустой путь отключает запись.
func (a *FileAuditer) Update(_ context.Context, ev DropEvent) {
	if a.path == "" {
		return
	}

	data, err := easyjson.Marshal(ev)
	if err != nil {
		a.logger.Errorw("Failed to encode drop event", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		a.logger.Errorw("Failed to open drop journal", "path", a.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		a.logger.Errorw("Failed to write drop journal", "path", a.path, "error", err)
	}
}

// URLAuditer отправляет события POST-запросом на HTTP endpoint.
type URLAuditer struct {
	url    string
	client *resty.Client
	logger *zap.SugaredLogger
}

// NewURLAuditer создаёт потребителя, отправляющего события на url.
func NewURLAuditer(url string, logger *zap.SugaredLogger) *URLAuditer {
	return &URLAuditer{
		url:    url,
		client: resty.New().SetHeader("Content-Type", "application/json"),
		logger: logger,
	}
}

// Update отправляет событие. Пустой URL отключает отправку.
func (a *URLAuditer) Update(ctx context.Context, ev DropEvent) {
	if a.url == "" {
		return
	}

	data, err := easyjson.Marshal(ev)
	if err != nil {
		a.logger.Errorw("Failed to encode drop event", "error", err)
		return
	}

	resp, err := a.client.R().SetContext(ctx).SetBody(data).Post(a.url)
	if err != nil {
		a.logger.Errorw("Failed to post drop event", "url", a.url, "error", err)
		return
	}
	if !resp.IsSuccess() {
		a.logger.Errorw("Drop event rejected", "url", a.url, "status", resp.StatusCode())
	}
}

// FromConfig собирает журнал из настроек. Если ни файл, ни URL не заданы, возвращает nil.
func FromConfig(path, url string, logger *zap.SugaredLogger) *Auditer {
	if path == "" && url == "" {
		return nil
	}
	a := New(0)
	if path != "" {
		a.RegisterClient(NewFileAuditer(path, logger))
	}
	if url != "" {
		a.RegisterClient(NewURLAuditer(url, logger))
	}
	logger.Infow("Drop journal enabled", "file", path, "url", url)
	return a
}
