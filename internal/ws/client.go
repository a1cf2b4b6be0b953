// Package ws реализует подключение подписчика поверх WebSocket.
//
// Каждое подключение обслуживают три горутины: readPump читает и отбрасывает входящие
// кадры и замечает разрыв, writePump единолично пишет в сокет, pingLoop проверяет,
// что клиент жив. Send передаёт сообщение в writePump через канал и ждёт результата.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrClosed возвращается Send после закрытия подключения.
var ErrClosed = errors.New("websocket connection closed")

const defaultReadLimit = 4096

// Config задаёт параметры keepalive.
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// ReadLimit ограничивает размер входящего кадра.
	ReadLimit int64
}

type request struct {
	ctx    context.Context
	msg    []byte
	result chan error
}

// Client - одно WebSocket-подключение подписчика.
type Client struct {
	conn   *websocket.Conn
	cfg    Config
	send   chan request
	done   chan struct{}
	logger *zap.SugaredLogger

	closeOnce sync.Once
}

// Accept выполняет рукопожатие и возвращает готовый к Run клиент.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// подписчик уже аутентифицирован шлюзом
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, err
	}
	return NewClient(conn, cfg, logger), nil
}

// NewClient оборачивает установленное соединение.
func NewClient(conn *websocket.Conn, cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	conn.SetReadLimit(cfg.ReadLimit)

	return &Client{
		conn:   conn,
		cfg:    cfg,
		send:   make(chan request),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run обслуживает подключение до разрыва, закрытия или отмены ctx.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	go c.pingLoop(ctx)

	err := c.readPump(ctx)
	c.Close("bye")
	return err
}

// Send ставит сообщение в очередь writePump и ждёт, пока оно будет записано.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	req := request{ctx: ctx, msg: msg, result: make(chan error, 1)}

	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- req:
	}

	select {
	case err := <-req.result:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Close закрывает подключение. Повторные вызовы ничего не делают.
func (c *Client) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close(websocket.StatusNormalClosure, reason)
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// Done закрывается вместе с подключением.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump(ctx context.Context) error {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case req := <-c.send:
			err := c.conn.Write(req.ctx, websocket.MessageText, req.msg)
			req.result <- err
			if err != nil {
				c.logger.Debugw("WebSocket write failed", "error", err)
				c.Close("write failed")
				return
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debugw("WebSocket ping failed", "error", err)
				c.Close("ping timeout")
				return
			}
		}
	}
}
