package stomp

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Transport is the external collaborator a Client drives: an ordered
// byte-stream connection that surfaces connection loss. The wire-frame
// parser and session state machine only ever see bytes through this
// interface, so tests can substitute an in-memory implementation.
type Transport interface {
	// Open establishes the underlying connection within deadline.
	Open(deadline time.Time) error
	// Read and Write move STOMP wire bytes. Write must not be called
	// concurrently with itself; the client serialises writes.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Close tears down the connection. Safe to call more than once.
	Close() error
	// RemoteAddr identifies the peer, for logging.
	RemoteAddr() string
}

// TransportConfig configures the default TCP transport, grounded on
// djoyahoy-stomp's Transport/Config split (crypto/tls.Client over a raw
// net.Conn, with an optional handshake timeout).
type TransportConfig struct {
	// Dial opens the raw connection. Defaults to net.Dial("tcp", addr).
	Dial func(network, addr string) (net.Conn, error)
	// TLSConfig, if non-nil, wraps the dialed connection in a TLS client
	// handshake.
	TLSConfig *tls.Config
	// TLSHandshakeTimeout bounds the handshake; zero means no timeout.
	TLSHandshakeTimeout time.Duration
}

// DefaultTransportConfig dials plain TCP with no TLS.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{Dial: net.Dial}
}

// tcpTransport is the default Transport: one net.Conn, optionally
// TLS-wrapped.
type tcpTransport struct {
	addr   string
	config *TransportConfig
	conn   net.Conn
}

// NewTCPTransport returns a Transport that dials addr ("host:port") when
// Open is called.
func NewTCPTransport(addr string, config *TransportConfig) Transport {
	if config == nil {
		config = DefaultTransportConfig()
	}
	if config.Dial == nil {
		config.Dial = net.Dial
	}
	return &tcpTransport{addr: addr, config: config}
}

func (t *tcpTransport) Open(deadline time.Time) error {
	dialTimeout := time.Until(deadline)
	var conn net.Conn
	var err error
	if dialTimeout > 0 {
		conn, err = dialWithTimeout(t.config.Dial, t.addr, dialTimeout)
	} else {
		conn, err = t.config.Dial("tcp", t.addr)
	}
	if err != nil {
		return newConnectionError("failed to dial "+t.addr, err)
	}

	if t.config.TLSConfig != nil {
		tlsConn := tls.Client(conn, t.config.TLSConfig)
		if err := tlsHandshake(tlsConn, t.config.TLSHandshakeTimeout); err != nil {
			conn.Close()
			return newConnectionError("TLS handshake failed", err)
		}
		conn = tlsConn
	}

	t.conn = conn
	return nil
}

// dialWithTimeout runs the configured Dial func on a goroutine and races
// it against timeout, so a custom Dial (e.g. one substituted in tests)
// still honours connectTimeout.
func dialWithTimeout(dial func(network, addr string) (net.Conn, error), addr string, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dial("tcp", addr)
		done <- result{conn, err}
	}()
	select {
	case r := <-done:
		return r.conn, r.err
	case <-time.After(timeout):
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("stomp: dial %s timed out after %s", addr, timeout)
	}
}

func tlsHandshake(conn *tls.Conn, timeout time.Duration) error {
	errc := make(chan error, 1)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			errc <- fmt.Errorf("stomp: TLS handshake timed out")
		})
	}
	go func() {
		err := conn.Handshake()
		if timer != nil {
			timer.Stop()
		}
		errc <- err
	}()
	return <-errc
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *tcpTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	if t.conn == nil {
		return t.addr
	}
	return t.conn.RemoteAddr().String()
}
