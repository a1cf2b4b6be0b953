package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// serve поднимает сервер, который передаёт каждого принятого клиента в канал.
func serve(t *testing.T, cfg Config) (*httptest.Server, <-chan *Client, <-chan error) {
	t.Helper()
	clients := make(chan *Client, 1)
	results := make(chan error, 1)
	logger := zaptest.NewLogger(t).Sugar()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, cfg, logger)
		if err != nil {
			results <- err
			return
		}
		clients <- c
		results <- c.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, clients, results
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestSendDeliversMessage(t *testing.T) {
	srv, clients, _ := serve(t, Config{})
	peer := dial(t, srv)
	defer peer.CloseNow()

	c := <-clients

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Send(ctx, []byte(`{"type":"metrics"}`)))

	typ, data, err := peer.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, `{"type":"metrics"}`, string(data))
}

func TestSendAfterCloseFails(t *testing.T) {
	srv, clients, results := serve(t, Config{})
	peer := dial(t, srv)
	defer peer.CloseNow()

	c := <-clients
	go func() {
		// читаем, чтобы рукопожатие закрытия завершилось
		_, _, _ = peer.Read(context.Background())
	}()

	_ = c.Close("server shutting down")
	assert.NoError(t, c.Close("again"), "repeated Close is a no-op")

	err := c.Send(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestPeerDisconnectEndsRun(t *testing.T) {
	srv, clients, results := serve(t, Config{})
	peer := dial(t, srv)

	c := <-clients
	require.NoError(t, peer.Close(websocket.StatusNormalClosure, "leaving"))

	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer disconnect")
	}

	assert.ErrorIs(t, c.Send(context.Background(), []byte("late")), ErrClosed)
}

func TestInboundPayloadIgnored(t *testing.T) {
	srv, clients, _ := serve(t, Config{})
	peer := dial(t, srv)
	defer peer.CloseNow()

	c := <-clients

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, peer.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe"}`)))
	require.NoError(t, c.Send(ctx, []byte("still alive")))

	_, data, err := peer.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still alive", string(data))
}
