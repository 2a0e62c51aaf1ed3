package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FailureKind classifies why a WsClient connection attempt or live
// connection failed, per spec.md §4.4.
type FailureKind string

const (
	FailureHandshake FailureKind = "HandshakeFailed"
	FailureProtocol  FailureKind = "ProtocolError"
	FailureRemoteClose FailureKind = "RemoteClose"
	FailureReadTimeout FailureKind = "ReadTimeout"
)

// WsError carries a FailureKind plus the underlying error.
type WsError struct {
	Kind FailureKind
	Err  error
	Code int
	Reason string
}

func (e *WsError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}
func (e *WsError) Unwrap() error { return e.Err }

// EventHandler receives parsed market events off the wire.
type EventHandler func(MarketEvent)

// Decoder turns raw venue bytes into a MarketEvent. Supplied by the
// venue-specific adapter; WsClient itself is venue-agnostic framing +
// reconnect plumbing.
type Decoder func(venue Venue, raw []byte, recvNs int64) (MarketEvent, error)

// WsClientConfig configures reconnect/backoff/keepalive behavior.
type WsClientConfig struct {
	URL             string
	Venue           Venue
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	HandshakeTimeout time.Duration
}

func (c WsClientConfig) withDefaults() WsClientConfig {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 45 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// WsClient is a per-venue WebSocket connection with RFC 6455 framing
// (delegated to gorilla/websocket, which computes and validates the
// Sec-WebSocket-Accept handshake and reassembles fragmented messages),
// ping/pong keepalive, and exponential-backoff-with-jitter reconnect
// that resubscribes every prior subscription on reconnect.
//
// Exactly one goroutine owns the connection's read loop (spec.md §5: "a
// single owner thread per WsClient"); Subscribe/Unsubscribe are safe to
// call from other goroutines and are replayed via resubscribeAll.
type WsClient struct {
	cfg     WsClientConfig
	decode  Decoder
	onEvent EventHandler
	metrics *MarketMetrics
	log     *zap.SugaredLogger

	mu            sync.Mutex
	subscriptions [][]byte // raw subscribe frames, replayed verbatim on reconnect
	conn          *websocket.Conn
	stopped       bool

	reconnectCount int64 // atomic

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWsClient constructs a client. onEvent is invoked on the client's own
// read-loop goroutine; it must not block.
func NewWsClient(cfg WsClientConfig, decode Decoder, onEvent EventHandler, metrics *MarketMetrics, log *zap.SugaredLogger) *WsClient {
	return &WsClient{
		cfg:     cfg.withDefaults(),
		decode:  decode,
		onEvent: onEvent,
		metrics: metrics,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// AddSubscription records a raw subscribe frame to be sent on connect
// and replayed on every reconnect (resubscribe_all, spec.md §4.4).
func (c *WsClient) AddSubscription(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions = append(c.subscriptions, frame)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	c.mu.Lock()
}

// ReconnectCount returns the number of reconnects performed so far,
// safe for concurrent readers (spec.md §4.4).
func (c *WsClient) ReconnectCount() int64 { return atomic.LoadInt64(&c.reconnectCount) }

// Run drives connect/read/reconnect until ctx is canceled or Stop is
// called. An unrecoverable handshake error (bad host, TLS failure that
// will not change on retry) is returned to the caller instead of
// retrying forever.
func (c *WsClient) Run(ctx context.Context) error {
	defer close(c.doneCh)
	backoff := c.cfg.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		err := c.connectAndServe(ctx)
		if err == nil {
			return nil
		}

		var wsErr *WsError
		if errors.As(err, &wsErr) && wsErr.Kind == FailureHandshake && isUnrecoverable(wsErr.Err) {
			return err
		}

		if c.metrics != nil {
			c.metrics.IncReconnect()
		}
		atomic.AddInt64(&c.reconnectCount, 1)
		if c.log != nil {
			c.log.Warnw("ws reconnecting", "venue", c.cfg.Venue, "err", err, "backoff", backoff)
		}

		jittered := jitter(backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// isUnrecoverable reports whether retrying the same dial is pointless.
// Real DNS/TLS configuration errors fall here; anything else is treated
// as transient.
func isUnrecoverable(err error) bool {
	var dnsErr interface{ Temporary() bool }
	if errors.As(err, &dnsErr) {
		return !dnsErr.Temporary()
	}
	return false
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := time.Duration(rand.Int63n(int64(base) + 1))
	return base/2 + delta/2
}

func (c *WsClient) connectAndServe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return &WsError{Kind: FailureHandshake, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	frames := append([][]byte(nil), c.subscriptions...)
	c.mu.Unlock()

	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			conn.Close()
			return &WsError{Kind: FailureProtocol, Err: err}
		}
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

	pingStop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		close(pingStop)
		wg.Wait()
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr, _ := err.(*websocket.CloseError)
				code, reason := 0, ""
				if closeErr != nil {
					code, reason = closeErr.Code, closeErr.Text
				}
				return &WsError{Kind: FailureRemoteClose, Err: err, Code: code, Reason: reason}
			}
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return &WsError{Kind: FailureReadTimeout, Err: err}
			}
			return &WsError{Kind: FailureProtocol, Err: err}
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		recvNs := NowNs()
		if c.metrics != nil {
			c.metrics.RecordMessage(time.Now())
		}
		if c.decode == nil {
			continue
		}
		evt, err := c.decode(c.cfg.Venue, data, recvNs)
		if err != nil {
			if c.metrics != nil {
				c.metrics.IncDrop()
			}
			if c.log != nil {
				c.log.Debugw("decode failed", "venue", c.cfg.Venue, "err", err)
			}
			continue
		}
		evt.TsPubNs = NowNs()
		if c.onEvent != nil {
			c.onEvent(evt)
		}
		if c.metrics != nil {
			c.metrics.ObserveLatency(time.Duration(evt.RecvToPubNs()))
		}
	}
}

// Stop halts the client's run loop at its next suspension point and
// waits for it to exit.
func (c *WsClient) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stopCh)
	<-c.doneCh
}
