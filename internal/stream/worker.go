package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Yasser1AITLAZIZ/trading-bot/internal/infra"
)

// ErrMaxRetriesExceeded is the terminal error reported when the worker has
// exhausted its reconnect budget. It is the only stream failure that
// requires operator/orchestrator intervention.
var ErrMaxRetriesExceeded = errors.New("stream: max reconnect attempts exceeded")

// Handler defines feed-specific logic for the Worker.
type Handler interface {
	URL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// Worker manages the lifecycle of a WebSocket connection.
// It handles reconnection with bounded exponential backoff, read timeouts
// as the liveness check, and thread-safe writes. The retry counter resets
// only after a reconnect that delivered at least one message; after
// MaxRetries consecutive failed attempts the worker reports
// ErrMaxRetriesExceeded via onError and stops.
type Worker struct {
	handler Handler
	onError func(error)
	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	connected atomic.Bool

	ReadTimeout  time.Duration
	PingInterval time.Duration
	Backoff      infra.BackoffPolicy
	MaxRetries   int
}

// NewWorker creates a new generic WebSocket worker.
// onError receives only terminal failures; transient errors are retried.
func NewWorker(handler Handler, onError func(error)) *Worker {
	return &Worker{
		handler:      handler,
		onError:      onError,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		MaxRetries:   10,
	}
}

// Start initiates the connection loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker. Idempotent.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Connected reports whether a live connection is currently established.
func (w *Worker) Connected() bool {
	return w.connected.Load()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if retry > 0 && retry >= w.MaxRetries {
			slog.Error("WS giving up after max retries",
				slog.String("id", w.handler.ID()),
				slog.Int("retries", retry))
			if w.onError != nil {
				w.onError(fmt.Errorf("%w: %s after %d attempts", ErrMaxRetriesExceeded, w.handler.ID(), retry))
			}
			return
		}

		if err := w.connect(ctx); err != nil {
			retry++
			delay := w.Backoff.Delay(retry - 1)
			slog.Warn("WS Connection failed",
				slog.String("id", w.handler.ID()),
				slog.Any("err", err),
				slog.Int("retry", retry),
				slog.Duration("backoff", delay))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		received := w.process(ctx)
		if received {
			// A reconnect only counts as recovery once traffic flowed.
			retry = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}

		// A session that died before delivering anything is a failed
		// attempt and backs off like a failed dial.
		retry++
		delay := w.Backoff.Delay(retry - 1)
		slog.Warn("WS Connection dropped before any traffic",
			slog.String("id", w.handler.ID()),
			slog.Int("retry", retry),
			slog.Duration("backoff", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	w.connected.Store(true)

	if w.PingInterval > 0 {
		go w.pingLoop(ctx)
	}

	slog.Info("WS Connected", slog.String("id", w.handler.ID()))
	return nil
}

// process reads until the connection drops or the context is cancelled.
// It returns true if at least one message was delivered on this connection.
func (w *Worker) process(ctx context.Context) bool {
	received := false
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return received
		}

		// The read deadline doubles as the liveness timeout: total silence
		// (including pongs) is treated as a lost connection.
		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS Read error", slog.String("id", w.handler.ID()), slog.Any("err", err))
			}
			w.close()
			return received
		}

		received = true
		w.handler.OnMessage(ctx, msg)
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			w.mu.RUnlock()
			if c == nil {
				return
			}
			if err := w.handler.OnPing(ctx, c); err != nil {
				slog.Warn("WS Ping error", slog.String("id", w.handler.ID()), slog.Any("err", err))
				w.close()
				return
			}
		}
	}
}

// Write sends a message on the current connection. Writes are serialized.
func (w *Worker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	return c.WriteMessage(msgType, data)
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected.Store(false)
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
