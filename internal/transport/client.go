// File: internal/transport/client.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IdentityHeader carries the agent's routing identity on the websocket handshake.
const IdentityHeader = "X-Agent-Identity"

// ErrClosed is returned by Recv and Send once the client has been closed.
var ErrClosed = errors.New("transport closed")

// Config tunes the connection.
type Config struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// ReconnectMinInterval is the minimum spacing between dial attempts.
	ReconnectMinInterval time.Duration
	// OutboundQueue is the capacity of the queue drained by the writer.
	OutboundQueue int
	// PongWait is how long a silent connection is kept before it is considered dead.
	PongWait time.Duration
	// MaxMessageSize limits inbound frames.
	MaxMessageSize int64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:         10 * time.Second,
		ReconnectMinInterval: time.Second,
		OutboundQueue:        64,
		PongWait:             60 * time.Second,
		MaxMessageSize:       4 << 20,
	}
}

// Observer is told about connection attempts and frames.
type Observer interface {
	ObserveDial(err error)
	ObserveFrame(direction string)
}

// Option customises a Client.
type Option func(*Client)

// WithObserver reports transport activity to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

type outgoing struct {
	ctx    context.Context
	frame  []byte
	result chan error
}

// Client is a persistent, self-reconnecting websocket connection to the controller.
// Frames written by any goroutine go through one writer, so replies and heartbeats
// never interleave on the wire.
type Client struct {
	logger   *zap.Logger
	identity string
	url      *url.URL
	cfg      Config
	dialer   *websocket.Dialer
	limiter  *rate.Limiter
	observer Observer

	inbound  chan []byte
	outbound chan outgoing

	closing   chan struct{}
	closeOnce sync.Once
	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// Connect validates address and prepares a client bound to identity. Nothing
// is dialed until Run; only a malformed address is an error here.
func Connect(identity, address string, logger *zap.Logger, cfg Config, opts ...Option) (*Client, error) {
	u, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, &ConnectError{Address: address, Err: errors.New("empty identity")}
	}
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReconnectMinInterval <= 0 {
		cfg.ReconnectMinInterval = defaults.ReconnectMinInterval
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaults.OutboundQueue
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	c := &Client{
		logger:   logger.Named("transport").With(zap.String("identity", identity)),
		identity: identity,
		url:      u,
		cfg:      cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.WriteTimeout,
		},
		limiter:  rate.NewLimiter(rate.Every(cfg.ReconnectMinInterval), 1),
		inbound:  make(chan []byte),
		outbound: make(chan outgoing, cfg.OutboundQueue),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the normalised controller address.
func (c *Client) URL() string { return c.url.String() }

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run dials the controller and keeps the connection alive until ctx is done
// or Close is called. Dial attempts are spaced by the reconnect interval.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if c.isClosing() {
			return nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, err := c.dial(ctx)
		if c.observer != nil {
			c.observer.ObserveDial(err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to reach controller, will retry.", zap.String("url", c.url.String()), zap.Error(err))
			continue
		}

		c.logger.Info("Connected to controller.", zap.String("url", c.url.String()))
		c.serve(ctx, conn)
		if ctx.Err() != nil || c.isClosing() {
			return nil
		}
		c.logger.Warn("Connection to controller lost, reconnecting.")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(IdentityHeader, c.identity)
	conn, resp, err := c.dialer.DialContext(ctx, c.url.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one connection. The calling goroutine is the only writer; a
// second goroutine reads frames into the inbound channel.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.setConn(conn)
	defer c.setConn(nil)

	stop := make(chan struct{})
	readDone := make(chan error, 1)
	go func() { readDone <- c.readPump(conn, stop) }()

	shutdown := func(readerExited bool) {
		close(stop)
		conn.Close()
		if !readerExited {
			<-readDone
		}
	}

	pingPeriod := (c.cfg.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
			shutdown(false)
			return
		case err := <-readDone:
			if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Websocket read error.", zap.Error(err))
			}
			shutdown(true)
			return
		case out := <-c.outbound:
			if out.ctx.Err() != nil {
				// The sender gave up while the frame was queued.
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.TextMessage, out.frame)
			out.result <- err
			if err != nil {
				c.logger.Warn("Websocket write failed.", zap.Error(err))
				shutdown(false)
				return
			}
			if c.observer != nil {
				c.observer.ObserveFrame("out")
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warn("Websocket ping failed.", zap.Error(err))
				shutdown(false)
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, stop <-chan struct{}) error {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		select {
		case c.inbound <- frame:
			if c.observer != nil {
				c.observer.ObserveFrame("in")
			}
		case <-stop:
			return nil
		}
	}
}

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected.Store(conn != nil)
}

// Recv blocks until a frame arrives, the client is closed, or ctx is done.
func (c *Client) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closing:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues frame for the writer and waits until it has been written.
// While disconnected the frame waits in the queue until ctx expires.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	out := outgoing{ctx: ctx, frame: frame, result: make(chan error, 1)}
	select {
	case c.outbound <- out:
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("outbound queue full: %w", ctx.Err())
	}

	select {
	case err := <-out.result:
		if err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		return nil
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops Run and interrupts any read in progress. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			// Unblocks the reader; serve notices the closed context and finishes.
			c.conn.Close()
		}
	})
	return nil
}
