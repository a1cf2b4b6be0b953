package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/mailru/easyjson/jwriter"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/pool"
)

// ErrStatus оборачивает ответы хранилища с кодом вне диапазона 2xx.
var ErrStatus = errors.New("unexpected response status")

// HashHeader - заголовок с HMAC-SHA256 подписью несжатого тела запроса.
const HashHeader = "HashSHA256"

// HTTPConfig описывает HTTP-хранилище метрик.
type HTTPConfig struct {
	// URL принимает POST с пакетом метрик.
	URL string

	// Key включает подпись тела запроса HMAC-SHA256. Пустой ключ отключает подпись.
	Key string

	// Token передаётся как Bearer-токен, если задан.
	Token string

	// BaseLabels добавляются к каждой точке (service, environment, version).
	BaseLabels models.Labels
}

// HTTPSink отправляет пакеты POST-запросом с телом в gzip:
//
//	{"metrics": [{"id": ..., "name": ..., "value": ..., "kind": ..., "labels": {...}, "timestamp": ...}]}
type HTTPSink struct {
	cfg      HTTPConfig
	client   *resty.Client
	payloads *pool.Pool[*payload]
	logger   *zap.SugaredLogger
}

// NewHTTPSink создаёт HTTP-хранилище. Таймаут каждого запроса задаётся контекстом Export.
func NewHTTPSink(cfg HTTPConfig, logger *zap.SugaredLogger) *HTTPSink {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Content-Encoding", "gzip")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &HTTPSink{
		cfg:      cfg,
		client:   client,
		payloads: pool.New[*payload](func() *payload { return &payload{} }, 4),
		logger:   logger,
	}
}

func (s *HTTPSink) Export(ctx context.Context, batch []models.Point) error {
	if len(batch) == 0 {
		return nil
	}

	buf := s.payloads.Get()
	defer s.payloads.Put(buf)

	raw, err := buf.encode(batch, s.cfg.BaseLabels)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req := s.client.R().
		SetContext(ctx).
		SetBody(buf.compressed.Bytes())
	if s.cfg.Key != "" {
		req.SetHeader(HashHeader, Sign(raw, s.cfg.Key))
	}

	resp, err := req.Post(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to send batch request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode(), resp.String())
	}

	s.logger.Debugw("Batch exported", "url", s.cfg.URL, "points", len(batch), "bytes", buf.compressed.Len())
	return nil
}

func (s *HTTPSink) Close() error {
	return nil
}

// Sign возвращает hex-кодированную подпись HMAC-SHA256 данных.
func Sign(data []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// payload - переиспользуемый буфер для сжатого тела запроса.
type payload struct {
	compressed bytes.Buffer
	zw         *gzip.Writer
}

func (p *payload) Reset() {
	p.compressed.Reset()
}

// encode сериализует пакет и сжимает его в p.compressed. Возвращает несжатый JSON.
func (p *payload) encode(batch []models.Point, base models.Labels) ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`{"metrics":[`)
	for i, pt := range batch {
		if i > 0 {
			w.RawByte(',')
		}
		pt.WithBaseLabels(base).MarshalEasyJSON(&w)
	}
	w.RawString(`]}`)
	if w.Error != nil {
		return nil, w.Error
	}
	raw := w.Buffer.BuildBytes()

	if p.zw == nil {
		p.zw = gzip.NewWriter(&p.compressed)
	} else {
		p.zw.Reset(&p.compressed)
	}
	if _, err := p.zw.Write(raw); err != nil {
		return nil, err
	}
	if err := p.zw.Close(); err != nil {
		return nil, err
	}
	return raw, nil
}
