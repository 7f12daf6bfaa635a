package stomp

import (
	"strconv"
	"sync"
	"time"
)

// State is a Session's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Subscription is what the Session remembers about a live subscription so
// that Replay can reconstruct it after a reconnect.
type Subscription struct {
	Token       string
	Destination string
	Ack         AckMode
	Headers     Headers
	Receipt     string
	Context     any // opaque application value; Subscribe never sets it
}

// Session is the per-connection STOMP state machine: it enforces legal
// command sequencing, builds outbound frames via the command
// constructors, and tracks subscriptions, transactions, receipts and
// heart-beat timestamps. Session is private to one Client; the client
// serialises all access on its own event loop, so the mutex here guards
// against the rare direct call from outside that loop rather than
// concurrent access from it.
type Session struct {
	mu sync.Mutex

	version Version
	accept  []Version
	state   State

	sessionID string
	server    string

	clientHeartBeat int // ms, how often the broker wants us to send
	serverHeartBeat int // ms, what the broker promises to send
	lastSent        time.Time
	lastReceived    time.Time

	subscriptions   map[string]*Subscription
	subOrder        []string // insertion order, for deterministic Replay
	nextSubID       int
	pendingReceipts map[string]struct{}
	activeTx        map[string]struct{}
}

// NewSession creates a session that will offer accept as its list of
// acceptable versions on CONNECT.
func NewSession(accept []Version) *Session {
	return &Session{
		accept:          accept,
		state:           StateDisconnected,
		subscriptions:   make(map[string]*Subscription),
		pendingReceipts: make(map[string]struct{}),
		activeTx:        make(map[string]struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the negotiated protocol version. Only meaningful once
// Connected has run.
func (s *Session) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) requireState(want State) error {
	if s.state != want {
		return newProtocolError("operation requires state %s, session is %s", want, s.state)
	}
	return nil
}

func (s *Session) requireConnected() error {
	if s.state != StateConnected {
		return newProtocolError("operation requires an active connection, session is %s", s.state)
	}
	return nil
}

// Connect builds a CONNECT (or STOMP) frame and transitions
// DISCONNECTED -> CONNECTING.
func (s *Session) Connect(opts ConnectOptions) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateDisconnected); err != nil {
		return nil, err
	}
	if len(opts.Versions) == 0 {
		opts.Versions = s.accept
	}
	frame, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	s.state = StateConnecting
	return frame, nil
}

// Connected validates an inbound CONNECTED frame, records the negotiated
// version/session/server/heart-beats, and transitions
// CONNECTING -> CONNECTED.
func (s *Session) Connected(frame *Frame) (ConnectedInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateConnecting); err != nil {
		return ConnectedInfo{}, err
	}
	info, err := Connected(frame, s.accept)
	if err != nil {
		return ConnectedInfo{}, err
	}
	s.version = info.Version
	s.sessionID = info.Session
	s.server = info.Server
	// The broker's (x, y) is (what it sends, what it wants to receive).
	s.clientHeartBeat = info.HeartBeats.Y
	s.serverHeartBeat = info.HeartBeats.X
	now := time.Now()
	s.lastSent = now
	s.lastReceived = now
	s.state = StateConnected
	return info, nil
}

// HeartBeatPeriods returns the (client-send, server-send) heart-beat
// periods in milliseconds, as taken from the broker's CONNECTED heart-beat
// header. The client's own CONNECT heart-beat values are not combined
// with them.
func (s *Session) HeartBeatPeriods() (clientMS, serverMS int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientHeartBeat, s.serverHeartBeat
}

// SessionID returns the session id the broker assigned on CONNECTED.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) markReceipt(frame *Frame) {
	if receipt, ok := frame.Headers.Get(HeaderReceipt); ok {
		s.pendingReceipts[receipt] = struct{}{}
	}
}

// Send builds a SEND frame, requiring an active connection.
func (s *Session) Send(opts SendOptions) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	frame, err := Send(opts)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	return frame, nil
}

// Subscribe allocates a subscription token (the caller-supplied id for
// 1.1, or an auto-generated one if absent; the (destination, id) pair for
// 1.0), records the subscription for replay, and builds the SUBSCRIBE
// frame.
func (s *Session) Subscribe(opts SubscribeOptions) (*Frame, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, "", err
	}

	if s.version != Version10 && opts.ID == "" {
		s.nextSubID++
		opts.ID = "sub-" + strconv.Itoa(s.nextSubID)
	}

	token := opts.ID
	if s.version == Version10 {
		token = subscriptionToken10(opts.Destination, opts.ID)
	}
	if _, exists := s.subscriptions[token]; exists {
		return nil, "", newProtocolError("subscription token %q is already in use", token)
	}

	frame, err := Subscribe(s.version, opts)
	if err != nil {
		return nil, "", err
	}
	s.markReceipt(frame)

	s.subscriptions[token] = &Subscription{
		Token:       token,
		Destination: opts.Destination,
		Ack:         opts.Ack,
		Headers:     opts.Headers.Clone(),
		Receipt:     opts.Receipt,
	}
	s.subOrder = append(s.subOrder, token)

	return frame, token, nil
}

// Resubscribe re-emits the SUBSCRIBE frame for a subscription already
// registered under sub.Token — the post-reconnect replay path. Unlike
// Subscribe, it does not allocate a new token or apply the
// already-in-use check: the token is already owned by sub from before the
// disconnect. For Version10 the wire id is recovered from the token the
// same way Unsubscribe does, so a replayed anonymous subscription doesn't
// grow a spurious id header and a replayed id-bearing one doesn't leak the
// token's embedded NUL delimiter onto the wire.
func (s *Session) Resubscribe(sub *Subscription) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}

	id := sub.Token
	if s.version == Version10 {
		id = subID10(sub.Token)
	}
	frame, err := Subscribe(s.version, SubscribeOptions{
		Destination: sub.Destination,
		ID:          id,
		Ack:         sub.Ack,
		Headers:     sub.Headers,
		Receipt:     sub.Receipt,
	})
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	return frame, nil
}

func subscriptionToken10(destination, id string) string {
	if id != "" {
		return destination + "\x00" + id
	}
	return destination
}

// Unsubscribe removes token from the registry and builds the UNSUBSCRIBE
// frame. It fails if token is unknown.
func (s *Session) Unsubscribe(token string, receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	sub, ok := s.subscriptions[token]
	if !ok {
		return nil, newProtocolError("unknown subscription token %q", token)
	}

	id := sub.Token
	if s.version == Version10 {
		// The 1.0 token may be "destination\x00id" or bare destination;
		// only the id half (if any) goes on the wire. A bare destination
		// (anonymous subscription, no id header) falls back to
		// destination on UNSUBSCRIBE since there's no id to send.
		id = subID10(token)
	}
	frame, err := Unsubscribe(s.version, id, sub.Destination, receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)

	delete(s.subscriptions, token)
	for i, t := range s.subOrder {
		if t == token {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
	return frame, nil
}

func subID10(token string) string {
	for i := 0; i < len(token); i++ {
		if token[i] == '\x00' {
			return token[i+1:]
		}
	}
	return ""
}

// Lookup returns the subscription registered under token.
func (s *Session) Lookup(token string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[token]
	return sub, ok
}

// MessageToken returns the subscription token an inbound MESSAGE belongs
// to.
func (s *Session) MessageToken(frame *Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, err := MessageSubscriptionToken(s.version, frame)
	if err != nil || s.version != Version10 {
		return token, err
	}
	// A 1.0 subscription created with an id is registered under the
	// (destination, id) token; match it by the MESSAGE's subscription header.
	if id, ok := frame.Headers.Get(HeaderSubscription); ok && id != "" {
		if _, known := s.subscriptions[subscriptionToken10(token, id)]; known {
			return subscriptionToken10(token, id), nil
		}
	}
	return token, nil
}

// Ack builds an ACK frame for an inbound MESSAGE.
func (s *Session) Ack(message *Frame, receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	frame, err := Ack(s.version, message, s.activeTx, receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	return frame, nil
}

// Nack builds a NACK frame for an inbound MESSAGE.
func (s *Session) Nack(message *Frame, receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	frame, err := Nack(s.version, message, s.activeTx, receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	return frame, nil
}

// Begin starts a new transaction.
func (s *Session) Begin(tx string, receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if _, active := s.activeTx[tx]; active {
		return nil, newProtocolError("transaction %q is already active", tx)
	}
	frame, err := Begin(tx, receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	s.activeTx[tx] = struct{}{}
	return frame, nil
}

// Commit ends an active transaction successfully.
func (s *Session) Commit(tx string, receipt string) (*Frame, error) {
	return s.endTx(Commit, tx, receipt)
}

// Abort ends an active transaction by rolling it back.
func (s *Session) Abort(tx string, receipt string) (*Frame, error) {
	return s.endTx(Abort, tx, receipt)
}

func (s *Session) endTx(build func(string, string) (*Frame, error), tx, receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if _, active := s.activeTx[tx]; !active {
		return nil, newProtocolError("transaction %q is not active", tx)
	}
	frame, err := build(tx, receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	delete(s.activeTx, tx)
	return frame, nil
}

// Disconnect builds a DISCONNECT frame. It is legal from CONNECTED (moving
// to DISCONNECTING) and is idempotent if already DISCONNECTING.
func (s *Session) Disconnect(receipt string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected && s.state != StateDisconnecting {
		return nil, newProtocolError("DISCONNECT requires an active connection, session is %s", s.state)
	}
	frame, err := Disconnect(receipt)
	if err != nil {
		return nil, err
	}
	s.markReceipt(frame)
	s.state = StateDisconnecting
	return frame, nil
}

// Receipt matches an inbound RECEIPT frame against the pending set. An
// unknown receipt id is a protocol error.
func (s *Session) Receipt(frame *Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := frame.Headers.Get(HeaderReceiptID)
	if !ok {
		return "", newProtocolError("RECEIPT frame is missing receipt-id")
	}
	if _, pending := s.pendingReceipts[id]; !pending {
		return "", newProtocolError("RECEIPT for unknown id %q", id)
	}
	delete(s.pendingReceipts, id)
	return id, nil
}

// Sent records that a byte (or frame) was just written to the transport,
// advancing the client heart-beat clock.
func (s *Session) Sent() {
	s.mu.Lock()
	s.lastSent = time.Now()
	s.mu.Unlock()
}

// Received records that a byte was just read from the transport, advancing
// the server heart-beat clock.
func (s *Session) Received() {
	s.mu.Lock()
	s.lastReceived = time.Now()
	s.mu.Unlock()
}

// LastSent returns the last time Sent was called.
func (s *Session) LastSent() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// LastReceived returns the last time Received was called.
func (s *Session) LastReceived() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceived
}

// Beat builds the single-byte outbound heart-beat frame.
func (s *Session) Beat() []byte {
	return []byte{LineDelimiter}
}

// Close resets the session to DISCONNECTED. Pending receipts and active
// transactions are always cleared. If flush is true, subscriptions are
// cleared too (a clean disconnect); otherwise they are preserved so Replay
// can restore them after a reconnect (a failure-driven disconnect).
func (s *Session) Close(flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	s.pendingReceipts = make(map[string]struct{})
	s.activeTx = make(map[string]struct{})
	if flush {
		s.subscriptions = make(map[string]*Subscription)
		s.subOrder = nil
		s.nextSubID = 0
	}
}

// Replay returns the subscriptions recorded at the time of the last
// successful Subscribe call, in deterministic insertion order, so the
// client can re-SUBSCRIBE them after a reconnect.
func (s *Session) Replay() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.subOrder))
	for _, token := range s.subOrder {
		if sub, ok := s.subscriptions[token]; ok {
			out = append(out, sub)
		}
	}
	return out
}
