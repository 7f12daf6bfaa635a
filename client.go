package stomp

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MessageHandler processes one inbound MESSAGE frame delivered to a
// subscription. A non-nil error is treated as a handler failure and routed
// through the subscription's onMessageFailed hook.
type MessageHandler func(client *Client, message *Frame) error

// FailureHook runs when a MessageHandler returns an error. The default
// hook (installed when a subscription is created with no override) copies
// the failed frame to errorDestination with a message-failed header, then
// acks the original.
type FailureHook func(client *Client, message *Frame, cause error) error

// clientSubscription pairs the wire-level Session.Subscription with the
// client-only behavior attached at Subscribe time.
type clientSubscription struct {
	autoAck          bool
	handler          MessageHandler
	errorDestination string
	onFailed         FailureHook
}

// waiter is a one-shot completion handle: exactly one of (frame, err) is
// ever delivered, exactly once.
type waiter chan waiterResult

type waiterResult struct {
	frame *Frame
	err   error
}

func newWaiter() waiter { return make(waiter, 1) }

func (w waiter) complete(frame *Frame, err error) {
	select {
	case w <- waiterResult{frame, err}:
	default:
	}
}

// Client is the asynchronous STOMP client runtime: it owns a Transport, a
// Parser, and a Session, and drives them from a single event-loop
// goroutine so that — per the single-threaded cooperative model — no
// mutual exclusion is needed between operations issued from that loop.
// Public methods may be called from any goroutine; they hand work to the
// loop via channels and block on a waiter for the result, mirroring the
// common handler/connection split (one type owns the wire,
// the other exposes blocking-looking calls backed by channel handoffs).
type Client struct {
	config    *Config
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics

	session *Session
	parser  *Parser
	pool    *handlerPool

	mu            sync.Mutex
	connecting    bool
	disconnecting bool
	closeOnce     sync.Once

	inbox   chan []byte   // raw bytes read off the transport
	readErr chan error    // transport read loop terminal error
	ops     chan func()   // work items run on the event loop
	done    chan struct{} // closed once the event loop has exited

	negotiation waiter
	receipts    map[string]waiter
	inFlight    map[string]chan struct{} // message-id -> closed on handler completion

	subscriptions map[string]*clientSubscription

	disconnected      chan struct{}
	disconnectedErr   error
	disconnectFailure error

	heartbeats *heartbeatTimers
}

// NewClient builds a Client. transport may be nil when config.URI names a
// "tcp://" or "failover:(...)" address the client should dial itself;
// pass a non-nil transport (e.g. a fake, in tests) to bypass dialing
// entirely. Nothing is opened until Connect is called.
func NewClient(config *Config, transport Transport, logger *slog.Logger, registerer prometheus.Registerer) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	versions := config.Versions
	if len(versions) == 0 {
		versions = []Version{DefaultVersion}
	}
	return &Client{
		config:        config,
		transport:     transport,
		logger:        logger,
		metrics:       NewMetrics(registerer),
		session:       NewSession(versions),
		parser:        NewParser(versions[0]),
		pool:          newHandlerPool(config.MinHandlers, config.MaxHandlers),
		inbox:         make(chan []byte, 64),
		readErr:       make(chan error, 1),
		ops:           make(chan func()),
		done:          make(chan struct{}),
		receipts:      make(map[string]waiter),
		inFlight:      make(map[string]chan struct{}),
		subscriptions: make(map[string]*clientSubscription),
		disconnected:  make(chan struct{}),
	}
}

// run is the event-loop goroutine: it serialises every state transition of
// the session and client, per spec's single-threaded cooperative model.
func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case data := <-c.inbox:
			c.onData(data)
		case err := <-c.readErr:
			c.onConnectionLoss(err)
			return
		case <-c.disconnected:
			return
		}
	}
}

// call runs fn on the event loop and blocks until it returns, reporting
// whether fn actually ran. It reports false without running fn once the
// event loop has exited (e.g. after disconnect) — callers that need the
// loop to still be alive must treat a false return as "not connected"
// rather than silently succeeding. Safe to call from any goroutine except
// the event loop itself.
func (c *Client) call(fn func()) bool {
	done := make(chan struct{})
	select {
	case c.ops <- func() {
		fn()
		close(done)
	}:
	case <-c.done:
		return false
	}
	<-done
	return true
}

// Connect opens the transport, negotiates CONNECT/CONNECTED, starts
// heart-beats, and replays any subscriptions the session already holds
// (set up by a prior Connect on the same Client, for a reconnect).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return newAlreadyRunning("connect")
	}
	c.connecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	overallDeadline := time.Now().Add(c.config.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(overallDeadline) {
		overallDeadline = d
	}
	if err := c.openTransport(overallDeadline); err != nil {
		return err
	}

	go c.readLoop()
	go c.run()

	frame, err := c.session.Connect(ConnectOptions{
		Login:    c.config.Login,
		Passcode: c.config.Passcode,
		Host:     c.config.Host,
		Versions: c.config.Versions,
		HeartBeats: &HeartBeats{
			X: c.config.HeartBeat.X,
			Y: c.config.HeartBeat.Y,
		},
	})
	if err != nil {
		c.transport.Close()
		return err
	}

	w := newWaiter()
	c.call(func() { c.negotiation = w })

	if err := c.writeFrame(frame); err != nil {
		c.transport.Close()
		return err
	}

	select {
	case res := <-w:
		if res.err != nil {
			c.initiateDisconnect(newCancelled("CONNECT negotiation failed: %v", res.err))
			return res.err
		}
	case <-ctx.Done():
		c.initiateDisconnect(newCancelled("CONNECT timed out"))
		return newCancelled("CONNECT timed out waiting for CONNECTED")
	case <-time.After(c.config.ConnectTimeout):
		c.initiateDisconnect(newCancelled("CONNECT timed out"))
		return newCancelled("CONNECT timed out waiting for CONNECTED")
	}

	c.call(func() { c.parser = NewParser(c.session.Version()) })
	c.startHeartBeats()

	c.call(func() {
		for _, sub := range c.session.Replay() {
			if err := c.resubscribe(sub); err != nil {
				c.logger.Warn("failed to replay subscription", "destination", sub.Destination, "error", err)
			}
		}
	})
	return nil
}

// openTransport establishes the connection, retrying across a failover
// URI's endpoints (with its back-off policy) until deadline expires. If
// the Client was built with an explicit Transport (e.g. a fake in tests),
// that transport is opened directly and failover does not apply.
func (c *Client) openTransport(deadline time.Time) error {
	if c.config.URI == "" || c.transport != nil {
		if c.transport == nil {
			return newConnectionError("no transport configured and no URI set", nil)
		}
		return c.transport.Open(deadline)
	}

	failover, err := ParseFailoverURI(c.config.URI)
	if err != nil {
		// Not a failover URI: a single tcp://host:port endpoint, one
		// attempt, no back-off.
		c.transport = NewTCPTransport(strings.TrimPrefix(c.config.URI, "tcp://"), nil)
		return c.transport.Open(deadline)
	}

	attempts := NewAttempts(failover)
	var lastErr error
	for {
		attempt, ok := attempts.Next()
		if !ok {
			if lastErr != nil {
				return lastErr
			}
			return newConnectionError("failover URI exhausted with no endpoints", nil)
		}
		if attempt.Delay > 0 {
			if time.Now().Add(attempt.Delay).After(deadline) {
				return newCancelled("connect timed out before next failover attempt")
			}
			time.Sleep(attempt.Delay)
		}
		if time.Now().After(deadline) {
			return newCancelled("connect timed out across failover attempts")
		}
		c.metrics.reconnectAttempted()

		addr := attempt.Endpoint.Host + ":" + strconv.Itoa(attempt.Endpoint.Port)
		transport := NewTCPTransport(addr, nil)
		if err := transport.Open(deadline); err != nil {
			lastErr = err
			continue
		}
		c.transport = transport
		return nil
	}
}

// resubscribe re-emits SUBSCRIBE for a subscription recorded before a
// disconnect. Must run on the event loop. Uses Session.Resubscribe rather
// than Session.Subscribe: the subscription already owns sub.Token from
// before the disconnect, so re-running Subscribe's new-token allocation
// and already-in-use check against it would always collide.
func (c *Client) resubscribe(sub *Subscription) error {
	cs, ok := c.subscriptions[sub.Token]
	if !ok {
		return nil
	}
	frame, err := c.session.Resubscribe(sub)
	if err != nil {
		return err
	}
	c.subscriptions[sub.Token] = cs
	return c.writeFrame(frame)
}

// writeFrame serialises frame onto the transport and records the send for
// heart-beat accounting. All outbound frames funnel through here; the
// bare heart-beat byte is written directly by onClientHeartBeatTick.
func (c *Client) writeFrame(frame *Frame) error {
	if _, err := frame.WriteTo(transportWriter{c.transport}); err != nil {
		return newConnectionError("failed to write "+frame.Command+" frame", err)
	}
	c.session.Sent()
	c.metrics.frameSent(frame.Command)
	return nil
}

// transportWriter adapts a Transport to io.Writer for Frame.WriteTo.
type transportWriter struct{ t Transport }

func (w transportWriter) Write(p []byte) (int, error) { return w.t.Write(p) }

// isDisconnecting reports whether a disconnect has already started.
// c.disconnecting is written under c.mu from arbitrary caller goroutines
// (Disconnect, initiateDisconnect); the event loop must take the same lock
// to read it rather than touching the field directly.
func (c *Client) isDisconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnecting
}

// readLoop is the only goroutine that calls Transport.Read. It feeds raw
// bytes to the event loop via c.inbox and reports a terminal error via
// c.readErr — a dedicated read-then-dispatch loop, kept separate from
// the event loop so a slow Read never blocks queued operations.
func (c *Client) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case c.inbox <- data:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.readErr <- err:
			case <-c.done:
			}
			return
		}
	}
}

func (c *Client) onData(data []byte) {
	if err := c.parser.Add(data); err != nil {
		c.initiateDisconnect(err)
		return
	}
	for c.parser.CanRead() {
		switch v := c.parser.Get().(type) {
		case *Frame:
			c.session.Received()
			c.metrics.frameReceived(v.Command)
			c.dispatch(v)
		case HeartBeat:
			c.session.Received()
		}
	}
}
