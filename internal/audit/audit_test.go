package audit

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
)

func batch() []models.Point {
	return []models.Point{
		models.NewCounter("svc.http.requests_total", 1, nil),
		models.NewCounter("svc.http.requests_total", 1, nil),
		models.NewGauge("svc.http.request_duration_seconds", 0.12, nil),
	}
}

func TestNewDropEvent(t *testing.T) {
	b := batch()
	at := time.Unix(1700000000, 0)

	ev := NewDropEvent(b, errors.New("backend unavailable"), at)

	assert.Equal(t, int64(1700000000), ev.TS)
	assert.Equal(t, 3, ev.Points)
	assert.Equal(t, "backend unavailable", ev.Reason)
	assert.Equal(t, b[0].ID(), ev.FirstID)
	assert.Equal(t, b[2].ID(), ev.LastID)
	assert.Equal(t, []string{"svc.http.requests_total", "svc.http.request_duration_seconds"}, ev.MetricNames)
}

func TestFileAuditerAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drops.jsonl")
	a := New(time.Second)
	a.RegisterClient(NewFileAuditer(path, zaptest.NewLogger(t).Sugar()))

	a.RecordDrop(batch(), errors.New("first"))
	a.RecordDrop(batch()[:1], errors.New("second"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []DropEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev DropEvent
		require.NoError(t, easyjson.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Reason)
	assert.Equal(t, 3, events[0].Points)
	assert.Equal(t, "second", events[1].Reason)
	assert.Equal(t, 1, events[1].Points)
}

func TestURLAuditerPosts(t *testing.T) {
	received := make(chan DropEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var ev DropEvent
		require.NoError(t, easyjson.Unmarshal(body, &ev))
		received <- ev
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := FromConfig("", srv.URL, zaptest.NewLogger(t).Sugar())
	require.NotNil(t, a)
	a.RecordDrop(batch(), errors.New("timeout"))

	select {
	case ev := <-received:
		assert.Equal(t, "timeout", ev.Reason)
		assert.Equal(t, 3, ev.Points)
	case <-time.After(time.Second):
		t.Fatal("drop event was not posted")
	}
}

func TestFromConfigDisabled(t *testing.T) {
	assert.Nil(t, FromConfig("", "", zaptest.NewLogger(t).Sugar()))
}
