package stomp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeTransport adapts a net.Conn (one end of a net.Pipe) to Transport. Open
// is a no-op since the pipe is already connected; tests dial nothing.
type pipeTransport struct {
	conn net.Conn
}

func (t *pipeTransport) Open(deadline time.Time) error           { return nil }
func (t *pipeTransport) Read(p []byte) (int, error)               { return t.conn.Read(p) }
func (t *pipeTransport) Write(p []byte) (int, error)              { return t.conn.Write(p) }
func (t *pipeTransport) Close() error                             { return t.conn.Close() }
func (t *pipeTransport) RemoteAddr() string                       { return "pipe" }

// fakeBroker is a minimal in-process STOMP broker used to drive Client
// end-to-end over a net.Pipe, without any real network I/O.
type fakeBroker struct {
	conn   net.Conn
	parser *Parser

	mu       sync.Mutex
	received []*Frame
}

func newFakeBroker(conn net.Conn) *fakeBroker {
	return &fakeBroker{conn: conn, parser: NewParser(Version11)}
}

func (b *fakeBroker) run(t *testing.T, handle func(b *fakeBroker, frame *Frame)) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := b.conn.Read(buf)
			if n > 0 {
				if perr := b.parser.Add(buf[:n]); perr != nil {
					return
				}
				for b.parser.CanRead() {
					v := b.parser.Get()
					frame, ok := v.(*Frame)
					if !ok {
						continue
					}
					b.mu.Lock()
					b.received = append(b.received, frame)
					b.mu.Unlock()
					handle(b, frame)
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func (b *fakeBroker) send(frame *Frame) error {
	_, err := frame.WriteTo(b.conn)
	return err
}

func (b *fakeBroker) lastReceived() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.received) == 0 {
		return nil
	}
	return b.received[len(b.received)-1]
}

// defaultHandler answers CONNECT with CONNECTED, SEND/SUBSCRIBE/UNSUBSCRIBE
// with a RECEIPT when one was requested, and DISCONNECT with a RECEIPT
// followed by closing the connection.
func defaultHandler(b *fakeBroker, frame *Frame) {
	switch frame.Command {
	case CmdConnect, CmdStomp:
		connected := NewFrame(CmdConnected)
		connected.Headers.Set(HeaderVersion, "1.1")
		connected.Headers.Set(HeaderSession, "sess-1")
		b.send(connected)
	case CmdDisconnect:
		if receipt, ok := frame.Headers.Get(HeaderReceipt); ok {
			r := NewFrame(CmdReceipt)
			r.Headers.Set(HeaderReceiptID, receipt)
			b.send(r)
		}
		b.conn.Close()
	default:
		if receipt, ok := frame.Headers.Get(HeaderReceipt); ok {
			r := NewFrame(CmdReceipt)
			r.Headers.Set(HeaderReceiptID, receipt)
			b.send(r)
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeBroker) {
	t.Helper()
	clientConn, brokerConn := net.Pipe()
	broker := newFakeBroker(brokerConn)
	broker.run(t, defaultHandler)

	cfg := DefaultConfig()
	cfg.Versions = []Version{Version11}
	cfg.Host = "vhost"
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReceiptTimeout = 2 * time.Second

	client := NewClient(cfg, &pipeTransport{conn: clientConn}, nil, nil)
	t.Cleanup(func() { clientConn.Close(); brokerConn.Close() })
	return client, broker
}

func TestClientConnectNegotiatesVersion(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
}

func TestClientSendAwaitsReceipt(t *testing.T) {
	client, broker := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	require.NoError(t, client.Send(SendOptions{
		Destination: "/queue/a",
		Body:        []byte("payload"),
		Receipt:     "r-1",
	}))

	last := broker.lastReceived()
	require.NotNil(t, last)
	require.Equal(t, CmdSend, last.Command)
	require.Equal(t, "payload", string(last.Body))
}

func TestClientSubscribeDeliversMessageToHandler(t *testing.T) {
	clientConn, brokerConn := net.Pipe()
	broker := newFakeBroker(brokerConn)

	delivered := make(chan string, 1)
	var subToken string
	var mu sync.Mutex

	broker.run(t, func(b *fakeBroker, frame *Frame) {
		defaultHandler(b, frame)
		if frame.Command == CmdSubscribe {
			mu.Lock()
			subToken, _ = frame.Headers.Get(HeaderID)
			mu.Unlock()
			msg := NewFrame(CmdMessage)
			msg.Headers.Set(HeaderDestination, "/queue/a")
			msg.Headers.Set(HeaderMessageID, "m-1")
			mu.Lock()
			msg.Headers.Set(HeaderSubscription, subToken)
			mu.Unlock()
			msg.SetBody([]byte("hi"))
			b.send(msg)
		}
	})

	cfg := DefaultConfig()
	cfg.Versions = []Version{Version11}
	cfg.Host = "vhost"
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReceiptTimeout = 2 * time.Second
	client := NewClient(cfg, &pipeTransport{conn: clientConn}, nil, nil)
	t.Cleanup(func() { clientConn.Close(); brokerConn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	_, err := client.Subscribe(SubscribeOpts{
		SubscribeOptions: SubscribeOptions{Destination: "/queue/a"},
		AutoAck:          true,
		Handler: func(c *Client, message *Frame) error {
			delivered <- string(message.Body)
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case body := <-delivered:
		require.Equal(t, "hi", body)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestClientDisconnectAwaitsReceiptAndClosesCleanly(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	err := client.Disconnect(2*time.Second, "bye")
	require.NoError(t, err)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client never reached Done() after Disconnect")
	}
	require.NoError(t, client.Err(), "an explicit Disconnect must resolve cleanly")
}

// blockingOpenTransport never returns from Open until release is closed, so
// a test can guarantee a first Connect call is still in flight.
type blockingOpenTransport struct {
	pipeTransport
	release chan struct{}
}

func (t *blockingOpenTransport) Open(deadline time.Time) error {
	<-t.release
	return t.pipeTransport.Open(deadline)
}

func TestClientSecondConnectWhileConnectingIsRejected(t *testing.T) {
	clientConn, brokerConn := net.Pipe()
	broker := newFakeBroker(brokerConn)
	broker.run(t, defaultHandler)
	t.Cleanup(func() { clientConn.Close(); brokerConn.Close() })

	transport := &blockingOpenTransport{pipeTransport: pipeTransport{conn: clientConn}, release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Versions = []Version{Version11}
	cfg.Host = "vhost"
	cfg.ConnectTimeout = 2 * time.Second
	client := NewClient(cfg, transport, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	firstDone := make(chan error, 1)
	go func() { firstDone <- client.Connect(ctx) }()

	// Give the first call a chance to set c.connecting before the second
	// call races it; Open is still blocked on transport.release.
	time.Sleep(20 * time.Millisecond)

	err := client.Connect(ctx)
	var already *AlreadyRunning
	require.ErrorAs(t, err, &already)

	close(transport.release)
	require.NoError(t, <-firstDone)
}

// TestClientResubscribeV10DerivesCleanID guards against replaying the
// Session's internal 1.0 composite token ("destination\x00id" or bare
// destination) as the outgoing SUBSCRIBE id header: it must come back apart
// into a clean id (or none at all) rather than leaking a literal NUL byte
// or a spurious id-equals-destination header onto the wire.
func TestClientResubscribeV10DerivesCleanID(t *testing.T) {
	clientConn, brokerConn := net.Pipe()
	broker := newFakeBroker(brokerConn)
	broker.run(t, defaultHandler)
	t.Cleanup(func() { clientConn.Close(); brokerConn.Close() })

	cfg := DefaultConfig()
	cfg.Versions = []Version{Version10}
	cfg.Host = "vhost"
	client := NewClient(cfg, &pipeTransport{conn: clientConn}, nil, nil)
	client.session = connectedSession(t, Version10)

	_, anonToken, err := client.session.Subscribe(SubscribeOptions{Destination: "/queue/anon"})
	require.NoError(t, err)
	_, idToken, err := client.session.Subscribe(SubscribeOptions{Destination: "/queue/named", ID: "sub-1"})
	require.NoError(t, err)

	client.subscriptions[anonToken] = &clientSubscription{autoAck: true}
	client.subscriptions[idToken] = &clientSubscription{autoAck: true}

	require.NoError(t, client.resubscribe(&Subscription{Token: anonToken, Destination: "/queue/anon"}))
	require.NoError(t, client.resubscribe(&Subscription{Token: idToken, Destination: "/queue/named"}))

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.received) == 2
	}, time.Second, 10*time.Millisecond)

	broker.mu.Lock()
	sent := append([]*Frame(nil), broker.received...)
	broker.mu.Unlock()

	anonSent := sent[0]
	assert.Equal(t, "", anonSent.Headers.GetDefault(HeaderID, ""))
	assert.NotContains(t, anonSent.Headers.GetDefault(HeaderID, ""), "\x00")

	idSent := sent[1]
	assert.Equal(t, "sub-1", idSent.Headers.GetDefault(HeaderID, ""))
	assert.NotContains(t, idSent.Headers.GetDefault(HeaderID, ""), "\x00")
}
