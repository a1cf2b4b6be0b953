// Package registry хранит живые подключения подписчиков.
//
// Реестр держит два представления одного множества подключений: все подключения
// (для рассылки всем) и подключения по идентичности подписчика (для адресной доставки).
// Оба представления меняются под одной блокировкой. Отправка в подключение идёт под
// его собственной блокировкой чтения, а удаление берёт её на запись, поэтому
// закрываемое подключение никогда не получает сообщений.
package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Conn - одно живое подключение подписчика.
type Conn interface {
	// Send доставляет сообщение или возвращает ошибку не позже отмены ctx.
	Send(ctx context.Context, msg []byte) error
	// Close закрывает подключение с указанной причиной.
	Close(reason string) error
}

// Handle идентифицирует одно подключение в реестре.
type Handle string

// Subscriber описывает зарегистрированное подключение.
type Subscriber struct {
	Handle       Handle
	SubscriberID string
	JoinedAt     time.Time
}

const (
	defaultSendTimeout = 5 * time.Second
	defaultParallelism = 32

	reasonUnregistered = "unregistered"
	reasonSendFailed   = "send failed"
	reasonShutdown     = "server shutting down"
)

var errEntryClosed = errors.New("connection is closed")

// ErrLimitReached возвращает Reserve, когда все места для подключений заняты.
var ErrLimitReached = errors.New("connection limit reached")

type entry struct {
	Subscriber
	conn Conn

	mu     sync.RWMutex
	closed bool
}

// Option настраивает Registry.
type Option func(*Registry)

// WithSendTimeout ограничивает отправку в одно подключение.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithParallelism ограничивает число одновременных отправок при рассылке.
func WithParallelism(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithMaxConnections ограничивает число мест, выдаваемых Reserve. 0 снимает ограничение.
func WithMaxConnections(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxConns = n
		}
	}
}

// Registry - потокобезопасный реестр подключений.
type Registry struct {
	mu           sync.RWMutex
	all          map[Handle]*entry
	bySubscriber map[string]map[Handle]*entry
	closed       bool
	maxConns     int
	reserved     int

	sendTimeout time.Duration
	parallelism int
	failures    atomic.Uint64
	logger      *zap.SugaredLogger
}

// New создаёт пустой реестр.
func New(logger *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		all:          make(map[Handle]*entry),
		bySubscriber: make(map[string]map[Handle]*entry),
		sendTimeout:  defaultSendTimeout,
		parallelism:  defaultParallelism,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reserve занимает место для будущего подключения. Проверка лимита и захват места
// выполняются под одной блокировкой, поэтому одновременные рукопожатия не могут
// превысить лимит. Место освобождается вызовом release; повторный вызов ничего не делает.
func (r *Registry) Reserve() (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && r.reserved >= r.maxConns {
		return nil, ErrLimitReached
	}
	r.reserved++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.reserved--
			r.mu.Unlock()
		})
	}, nil
}

// Reserved возвращает число занятых мест.
func (r *Registry) Reserved() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reserved
}

// Register добавляет подключение и возвращает новый дескриптор.
// После CloseAll подключение сразу закрывается и в реестр не попадает.
func (r *Registry) Register(subscriberID string, conn Conn) Handle {
	e := &entry{
		Subscriber: Subscriber{
			Handle:       Handle(uuid.NewString()),
			SubscriberID: subscriberID,
			JoinedAt:     time.Now(),
		},
		conn: conn,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.closeEntry(e, reasonShutdown)
		return e.Handle
	}
	r.all[e.Handle] = e
	bucket, ok := r.bySubscriber[subscriberID]
	if !ok {
		bucket = make(map[Handle]*entry)
		r.bySubscriber[subscriberID] = bucket
	}
	bucket[e.Handle] = e
	r.mu.Unlock()

	r.logger.Infow("Subscriber connected", "subscriber_id", subscriberID, "handle", e.Handle)
	return e.Handle
}

// Unregister удаляет подключение и закрывает его. Повторный вызов ничего не делает
// и возвращает false.
func (r *Registry) Unregister(h Handle) bool {
	return r.remove(h, reasonUnregistered)
}

func (r *Registry) remove(h Handle, reason string) bool {
	r.mu.Lock()
	e, ok := r.all[h]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.all, h)
	if bucket := r.bySubscriber[e.SubscriberID]; bucket != nil {
		delete(bucket, h)
		if len(bucket) == 0 {
			delete(r.bySubscriber, e.SubscriberID)
		}
	}
	r.mu.Unlock()

	r.closeEntry(e, reason)
	r.logger.Infow("Subscriber disconnected", "subscriber_id", e.SubscriberID, "handle", h, "reason", reason)
	return true
}

// closeEntry ждёт окончания текущей отправки в подключение и закрывает его.
func (r *Registry) closeEntry(e *entry, reason string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.conn.Close(reason); err != nil {
		r.logger.Debugw("Connection close error", "handle", e.Handle, "error", err)
	}
}

// SendTo доставляет сообщение во все подключения подписчика и возвращает
// число успешных доставок.
func (r *Registry) SendTo(ctx context.Context, subscriberID string, msg []byte) int {
	r.mu.RLock()
	bucket := r.bySubscriber[subscriberID]
	targets := make([]*entry, 0, len(bucket))
	for _, e := range bucket {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	return r.fanOut(ctx, targets, msg)
}

// Broadcast доставляет сообщение во все подключения и возвращает число успешных доставок.
func (r *Registry) Broadcast(ctx context.Context, msg []byte) int {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.all))
	for _, e := range r.all {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	return r.fanOut(ctx, targets, msg)
}

// fanOut отправляет сообщение параллельно. Подключение, отправка в которое не удалась,
// удаляется из реестра; остальные продолжают получать сообщение.
func (r *Registry) fanOut(ctx context.Context, targets []*entry, msg []byte) int {
	if len(targets) == 0 {
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for _, e := range targets {
		g.Go(func() error {
			err := r.deliver(ctx, e, msg)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, errEntryClosed):
			case ctx.Err() != nil:
				// рассылку отменили целиком, подключение тут ни при чём
			default:
				r.failures.Add(1)
				r.logger.Warnw("Send to subscriber failed", "subscriber_id", e.SubscriberID, "handle", e.Handle, "error", err)
				r.remove(e.Handle, reasonSendFailed)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

func (r *Registry) deliver(ctx context.Context, e *entry, msg []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return errEntryClosed
	}

	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return e.conn.Send(ctx, msg)
}

// Len возвращает число живых подключений.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// LenFor возвращает число живых подключений подписчика.
func (r *Registry) LenFor(subscriberID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySubscriber[subscriberID])
}

// Subscribers возвращает снимок зарегистрированных подключений.
func (r *Registry) Subscribers() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.all))
	for _, e := range r.all {
		out = append(out, e.Subscriber)
	}
	return out
}

// SendFailures возвращает число подключений, удалённых из-за ошибки отправки.
func (r *Registry) SendFailures() uint64 {
	return r.failures.Load()
}

// CloseAll закрывает все подключения и запрещает новые регистрации.
// Возвращает число закрытых подключений.
func (r *Registry) CloseAll(reason string) int {
	if reason == "" {
		reason = reasonShutdown
	}

	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.all))
	for _, e := range r.all {
		entries = append(entries, e)
	}
	r.all = make(map[Handle]*entry)
	r.bySubscriber = make(map[string]map[Handle]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		r.closeEntry(e, reason)
	}
	r.logger.Infow("All subscribers disconnected", "count", len(entries), "reason", reason)
	return len(entries)
}
