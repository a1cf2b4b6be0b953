package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/levinOo/go-telemetry-pipeline/internal/flusher"
	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/pipeline"
	"github.com/levinOo/go-telemetry-pipeline/internal/registry"
	"github.com/levinOo/go-telemetry-pipeline/internal/sampler"
	"github.com/levinOo/go-telemetry-pipeline/internal/sink"
)

func newPipeline(t *testing.T, sugar *zap.SugaredLogger, maxConns int) *pipeline.Pipeline {
	t.Helper()
	cfg := pipeline.Config{
		BufferCapacity: 100,
		Flusher: flusher.Config{
			SizeTrigger:    1000,
			TimeTrigger:    time.Hour,
			BatchSize:      100,
			CheckInterval:  10 * time.Millisecond,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
			RetryMaxDelay:  time.Millisecond,
			ExportTimeout:  time.Second,
		},
		Sampler:           sampler.Config{Period: time.Hour},
		BroadcastInterval: time.Hour,
		SendTimeout:       time.Second,
		ShutdownTimeout:   time.Second,
		MaxConnections:    maxConns,
	}
	return pipeline.New(cfg, sink.NewMemorySink(), sugar)
}

func startServer(t *testing.T, maxConns int) (*pipeline.Pipeline, *httptest.Server) {
	t.Helper()
	// обработчики перехваченных соединений могут писать в лог после завершения теста
	sugar := zap.NewNop().Sugar()
	p := newPipeline(t, sugar, maxConns)
	require.NoError(t, p.Start(context.Background()))

	r, err := NewRouter(p, Config{}, sugar)
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
		srv.Close()
	})
	return p, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWSRequiresIdentity(t *testing.T) {
	_, srv := startServer(t, 0)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSRejectsWhenNotRunning(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()
	p := newPipeline(t, sugar, 0)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set(SubscriberHeader, "owner-1")
	rec := httptest.NewRecorder()
	WSHandler(p, Config{}, sugar).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWSSubscriptionReceivesBroadcast(t *testing.T) {
	p, srv := startServer(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		HTTPHeader: http.Header{SubscriberHeader: []string{"owner-1"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return p.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	// лимит в одно подключение исчерпан
	_, resp, err := websocket.Dial(ctx, wsURL(srv)+"?subscriber_id=owner-2", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	p.Broadcaster().PublishTo(ctx, "owner-1", []models.Point{models.NewGauge("svc.rent", 10, nil)})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env struct {
		Type string `json:"type"`
		Data struct {
			SubscriberID string            `json:"subscriber_id"`
			Points       []json.RawMessage `json:"points"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "metrics", env.Type)
	assert.Equal(t, "owner-1", env.Data.SubscriberID)
	assert.Len(t, env.Data.Points, 1)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return p.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSAdmissionIsAtomic(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()
	p := newPipeline(t, sugar, 3)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Shutdown(context.Background()) }()

	const attempts = 50
	var (
		mu       sync.Mutex
		admitted []func()
		rejected int
		wg       sync.WaitGroup
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Admit()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, registry.ErrLimitReached)
				rejected++
				return
			}
			admitted = append(admitted, release)
		}()
	}
	wg.Wait()

	assert.Len(t, admitted, 3)
	assert.Equal(t, attempts-3, rejected)

	// освобождённое место снова доступно
	admitted[0]()
	admitted[0]()
	release, err := p.Admit()
	require.NoError(t, err)
	release()
}

func TestHealthHandler(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()
	p := newPipeline(t, sugar, 0)

	rec := httptest.NewRecorder()
	HealthHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Shutdown(context.Background()) }()

	rec = httptest.NewRecorder()
	HealthHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RUNNING", body["state"])
	assert.Equal(t, true, body["running"])
}

func TestMetricsEndpoint(t *testing.T) {
	p, srv := startServer(t, 0)
	p.Emit(models.NewCounter("svc.requests", 1, nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "telemetry_buffer_pending 1")
	assert.Contains(t, string(body), "telemetry_state 2")
	assert.Contains(t, string(body), "telemetry_export_dropped_total 0")
}

func TestIngest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		gzip       bool
		wantStatus int
		wantQueued int
	}{
		{
			name:       "plain",
			body:       `[{"name":"svc.rent","value":1,"kind":"GAUGE"},{"name":"svc.hits","value":2,"kind":"COUNTER","labels":{"a":"b"}}]`,
			wantStatus: http.StatusAccepted,
			wantQueued: 2,
		},
		{
			name:       "gzip",
			body:       `[{"name":"svc.rent","value":1,"kind":"GAUGE"}]`,
			gzip:       true,
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		{
			name:       "not an array",
			body:       `{"name":"svc.rent"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown kind",
			body:       `[{"name":"svc.rent","value":1,"kind":"HISTOGRAM"}]`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty name",
			body:       `[{"name":"","value":1,"kind":"GAUGE"}]`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv := startServer(t, 0)

			var body io.Reader = strings.NewReader(tt.body)
			if tt.gzip {
				var buf bytes.Buffer
				gz := gzip.NewWriter(&buf)
				_, err := gz.Write([]byte(tt.body))
				require.NoError(t, err)
				require.NoError(t, gz.Close())
				body = &buf
			}

			req, err := http.NewRequest(http.MethodPost, srv.URL+"/ingest", body)
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			if tt.gzip {
				req.Header.Set("Content-Encoding", "gzip")
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantQueued, p.Health().Pending)
		})
	}
}

func TestIngestRejectsWhenNotRunning(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()
	p := newPipeline(t, sugar, 0)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`[]`))
	rec := httptest.NewRecorder()
	IngestHandler(p, sugar).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
