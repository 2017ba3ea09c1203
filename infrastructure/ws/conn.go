// Package ws adapts gorilla websocket connections to event sinks.
// Each connection runs one read pump and one write pump; outbound frames go
// through a bounded buffer, and a connection that lets it fill up is dropped.
package ws

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

var (
	ErrConnectionClosed = stderrors.New("connection closed")
	ErrSlowConsumer     = stderrors.New("outbound buffer full")
)

// Config holds the per-connection limits.
type Config struct {
	BufferSize     int
	MaxMessageSize int64
	RateBurst      int
	RateRefill     time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Handler processes one inbound text frame. A returned error is reported to
// this connection only, as an error frame.
type Handler func(ctx context.Context, frame []byte) error

// Conn is one websocket client. It implements contract.EventSink.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rateLimiter
	cfg     Config
	log     *slog.Logger
}

func NewConn(ws *websocket.Conn, cfg Config, log *slog.Logger) *Conn {
	cfg = cfg.withDefaults()
	id := ksuid.New().String()
	ws.SetReadLimit(cfg.MaxMessageSize)
	var limiter *rateLimiter
	if cfg.RateBurst > 0 {
		limiter = newRateLimiter(cfg.RateBurst, cfg.RateRefill)
	}
	return &Conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, cfg.BufferSize),
		done:    make(chan struct{}),
		limiter: limiter,
		cfg:     cfg,
		log:     log.With("conn", id, "remote", ws.RemoteAddr().String()),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Consume queues e for the write pump without blocking.
// When the buffer is full the connection is closed.
func (c *Conn) Consume(_ context.Context, e event.DomainEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn("Outbound buffer full, dropping connection", "buffer", cap(c.send))
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops both pumps. It is safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		// Unblocks a read pump waiting on the network.
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

// Reject closes a connection whose pumps were never started, with err as the close reason.
func (c *Conn) Reject(err error) {
	c.Close()
	reason := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errors.PublicMessage(err))
	_ = c.ws.WriteControl(websocket.CloseMessage, reason, time.Now().Add(c.cfg.WriteWait))
	_ = c.ws.Close()
}

// Run pumps the connection until the client leaves, ctx is cancelled or Close is called.
// The write pump is started here; the read pump runs on the caller's goroutine.
// Run returns once both pumps have stopped.
func (c *Conn) Run(ctx context.Context, handle Handler) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	c.readPump(ctx, handle)
	c.Close()
	wg.Wait()
}

func (c *Conn) readPump(ctx context.Context, handle Handler) {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if c.limiter != nil && !c.limiter.allow() {
			c.log.Warn("Rate limit exceeded, frame discarded", "burst", c.cfg.RateBurst)
			c.reportError(ctx, errors.ErrRateLimited)
			continue
		}
		if err := handle(ctx, frame); err != nil {
			c.reportError(ctx, err)
		}
	}
}

func (c *Conn) reportError(ctx context.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= 500 {
		c.log.Error("Frame failed", "error", err)
	} else {
		c.log.Debug("Frame rejected", "error", err)
	}
	_ = c.Consume(ctx, event.NewError(status, errors.PublicMessage(err)))
}

func (c *Conn) logReadError(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	switch {
	case stderrors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded maximum size", "max", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		stderrors.Is(err, io.EOF), stderrors.Is(err, net.ErrClosed):
		c.log.Debug("Client disconnected", "reason", err)
	default:
		c.log.Info("Connection read ended", "error", err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				c.Close()
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes what is still queued, best effort, then says goodbye.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

func (c *Conn) write(kind int, data []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return false
	}
	if err := c.ws.WriteMessage(kind, data); err != nil {
		c.log.Debug("Write failed", "error", err)
		return false
	}
	return true
}
