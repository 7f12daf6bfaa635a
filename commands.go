// Package stomp implements a client-side STOMP 1.0/1.1 protocol stack:
// wire-frame parsing, command construction/validation, session state
// tracking, and an asynchronous client runtime built on top of them.
package stomp

import (
	"strconv"
	"strings"
)

// HeartBeats is a negotiated or requested (send, receive) heart-beat pair,
// in milliseconds, per STOMP 1.1's "heart-beat" header.
type HeartBeats struct {
	X int // guaranteed minimum period at which the header's sender can send
	Y int // desired period at which the header's sender wants to receive
}

func (h HeartBeats) String() string {
	return strconv.Itoa(h.X) + "," + strconv.Itoa(h.Y)
}

func parseHeartBeats(value string) (HeartBeats, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return HeartBeats{}, newProtocolError("malformed heart-beat header %q", value)
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return HeartBeats{}, newProtocolError("malformed heart-beat header %q", value)
	}
	return HeartBeats{X: x, Y: y}, nil
}

// ConnectOptions configures an outbound CONNECT (or STOMP) frame.
type ConnectOptions struct {
	Login      string
	Passcode   string
	Host       string
	Versions   []Version // accepted versions, highest first by caller's preference
	HeartBeats *HeartBeats
	Headers    Headers // extra pass-through headers; host/heart-beat/login/passcode here are overridden by the typed fields above
	UseStomp   bool    // emit STOMP instead of CONNECT; requires 1.1 to be in Versions
}

// Connect builds a CONNECT frame (or a STOMP frame, if opts.UseStomp and
// 1.1 is accepted). Any version 1.1 or later in opts.Versions requires a
// non-empty Host and adds the accept-version header.
func Connect(opts ConnectOptions) (*Frame, error) {
	command := CmdConnect
	if opts.UseStomp {
		if !containsVersion(opts.Versions, Version11) {
			return nil, newProtocolError("STOMP frame requires version 1.1 to be accepted")
		}
		command = CmdStomp
	}

	frame := NewFrame(command)
	for _, h := range opts.Headers.Pairs() {
		frame.Headers.Set(h.Name, h.Value)
	}

	needsNegotiation := false
	for _, v := range opts.Versions {
		if v != Version10 {
			needsNegotiation = true
		}
	}
	if needsNegotiation {
		if opts.Host == "" {
			return nil, newProtocolError("host is required when negotiating version >= 1.1")
		}
		frame.Headers.Set(HeaderAcceptVersion, joinVersions(opts.Versions))
		frame.Headers.Set(HeaderHost, opts.Host)
	} else if opts.Host != "" {
		frame.Headers.Set(HeaderHost, opts.Host)
	}

	if opts.Login != "" {
		frame.Headers.Set(HeaderLogin, opts.Login)
	}
	if opts.Passcode != "" {
		frame.Headers.Set(HeaderPasscode, opts.Passcode)
	}
	if opts.HeartBeats != nil {
		if opts.HeartBeats.X < 0 || opts.HeartBeats.Y < 0 {
			return nil, newProtocolError("heart-beat values must be non-negative, got %+v", *opts.HeartBeats)
		}
		frame.Headers.Set(HeaderHeartBeat, opts.HeartBeats.String())
	}

	return frame, nil
}

func containsVersion(versions []Version, v Version) bool {
	for _, x := range versions {
		if x == v {
			return true
		}
	}
	return false
}

func joinVersions(versions []Version) string {
	strs := make([]string, len(versions))
	for i, v := range versions {
		strs[i] = string(v)
	}
	return strings.Join(strs, ",")
}

// ConnectedInfo is everything Connected extracts from a CONNECTED frame.
type ConnectedInfo struct {
	Version    Version
	Server     string
	Session    string
	HeartBeats HeartBeats
}

// Connected validates an inbound CONNECTED frame and extracts the
// negotiated version, server identity, session id, and heart-beat pair.
// If accepted is non-empty, the negotiated version must belong to it.
func Connected(frame *Frame, accepted []Version) (ConnectedInfo, error) {
	if frame.Command != CmdConnected {
		return ConnectedInfo{}, newProtocolError("expected CONNECTED, got %s", frame.Command)
	}

	version := DefaultVersion
	if v, ok := frame.Headers.Get(HeaderVersion); ok {
		version = Version(v)
	}
	if len(accepted) > 0 && !containsVersion(accepted, version) {
		return ConnectedInfo{}, newProtocolError("broker negotiated unsupported version %s", version)
	}

	info := ConnectedInfo{Version: version}
	info.Server, _ = frame.Headers.Get(HeaderServer)
	if session, ok := frame.Headers.Get(HeaderSession); ok {
		info.Session = session
	}

	if version == Version10 {
		info.HeartBeats = HeartBeats{0, 0}
		return info, nil
	}

	hb, ok := frame.Headers.Get(HeaderHeartBeat)
	if !ok {
		info.HeartBeats = HeartBeats{0, 0}
		return info, nil
	}
	parsed, err := parseHeartBeats(hb)
	if err != nil {
		return ConnectedInfo{}, err
	}
	info.HeartBeats = parsed
	return info, nil
}

// SendOptions configures an outbound SEND frame.
type SendOptions struct {
	Destination string
	ContentType string
	Body        []byte
	Headers     Headers
	Receipt     string
	Transaction string
}

// Send builds a SEND frame. Destination is required.
func Send(opts SendOptions) (*Frame, error) {
	if opts.Destination == "" {
		return nil, newProtocolError("SEND requires a destination")
	}
	frame := NewFrame(CmdSend)
	for _, h := range opts.Headers.Pairs() {
		frame.Headers.Set(h.Name, h.Value)
	}
	frame.Headers.Set(HeaderDestination, opts.Destination)
	if opts.ContentType != "" {
		frame.Headers.Set(HeaderContentType, opts.ContentType)
	}
	if opts.Transaction != "" {
		frame.Headers.Set(HeaderTransaction, opts.Transaction)
	}
	if opts.Receipt != "" {
		frame.Headers.Set(HeaderReceipt, opts.Receipt)
	}
	frame.SetBody(opts.Body)
	return frame, nil
}

// SubscribeOptions configures an outbound SUBSCRIBE frame.
type SubscribeOptions struct {
	Destination string
	ID          string // required for 1.1; auto-generated by Session if empty
	Ack         AckMode
	Headers     Headers
	Receipt     string
}

// Subscribe builds a SUBSCRIBE frame. For version 1.1, id must already be
// set by the caller (the Session allocates one before calling this).
func Subscribe(version Version, opts SubscribeOptions) (*Frame, error) {
	if opts.Destination == "" {
		return nil, newProtocolError("SUBSCRIBE requires a destination")
	}
	if version != Version10 && opts.ID == "" {
		return nil, newProtocolError("SUBSCRIBE requires an id header for version %s", version)
	}
	frame := NewFrame(CmdSubscribe)
	for _, h := range opts.Headers.Pairs() {
		frame.Headers.Set(h.Name, h.Value)
	}
	frame.Headers.Set(HeaderDestination, opts.Destination)
	if opts.ID != "" {
		frame.Headers.Set(HeaderID, opts.ID)
	}
	if opts.Ack != "" {
		frame.Headers.Set(HeaderAck, string(opts.Ack))
	}
	if opts.Receipt != "" {
		frame.Headers.Set(HeaderReceipt, opts.Receipt)
	}
	return frame, nil
}

// Unsubscribe builds an UNSUBSCRIBE frame for the given subscription id, or,
// when id is empty, for destination instead — the STOMP 1.0 case of a
// subscription created with no id header, which the broker can only
// identify by destination.
func Unsubscribe(version Version, id string, destination string, receipt string) (*Frame, error) {
	if id == "" && destination == "" {
		return nil, newProtocolError("UNSUBSCRIBE requires an id or a destination")
	}
	frame := NewFrame(CmdUnsubscribe)
	if id != "" {
		frame.Headers.Set(HeaderID, id)
	} else {
		frame.Headers.Set(HeaderDestination, destination)
	}
	if receipt != "" {
		frame.Headers.Set(HeaderReceipt, receipt)
	}
	return frame, nil
}

// ackLike builds ACK or NACK, stripping the transaction header unless it
// names an active transaction. NACK is 1.1-only.
func ackLike(command string, version Version, message *Frame, activeTransactions map[string]struct{}, receipt string) (*Frame, error) {
	if command == CmdNack && version == Version10 {
		return nil, newProtocolError("NACK is not available in STOMP 1.0")
	}
	if message.Command != CmdMessage {
		return nil, newProtocolError("%s requires a MESSAGE frame, got %s", command, message.Command)
	}

	frame := NewFrame(command)

	messageID, ok := message.Headers.Get(HeaderMessageID)
	if !ok {
		return nil, newProtocolError("%s: MESSAGE frame is missing message-id", command)
	}

	subscription, hasSub := message.Headers.Get(HeaderSubscription)
	if version != Version10 {
		if !hasSub {
			return nil, newProtocolError("%s requires a subscription header for version %s", command, version)
		}
	}

	if version == Version10 {
		frame.Headers.Set(HeaderMessageID, messageID)
		if hasSub {
			frame.Headers.Set(HeaderSubscription, subscription)
		}
	} else {
		frame.Headers.Set(HeaderMessageID, messageID)
		frame.Headers.Set(HeaderSubscription, subscription)
	}

	if tx, ok := message.Headers.Get(HeaderTransaction); ok {
		if _, active := activeTransactions[tx]; active {
			frame.Headers.Set(HeaderTransaction, tx)
		}
	}
	if receipt != "" {
		frame.Headers.Set(HeaderReceipt, receipt)
	}
	return frame, nil
}

// Ack builds an ACK frame from an inbound MESSAGE. The transaction header
// is carried over only if it names a transaction present in
// activeTransactions.
func Ack(version Version, message *Frame, activeTransactions map[string]struct{}, receipt string) (*Frame, error) {
	return ackLike(CmdAck, version, message, activeTransactions, receipt)
}

// Nack builds a NACK frame from an inbound MESSAGE. NACK does not exist in
// STOMP 1.0.
func Nack(version Version, message *Frame, activeTransactions map[string]struct{}, receipt string) (*Frame, error) {
	return ackLike(CmdNack, version, message, activeTransactions, receipt)
}

// Begin builds a BEGIN frame for a new transaction id.
func Begin(tx string, receipt string) (*Frame, error) {
	return txFrame(CmdBegin, tx, receipt)
}

// Commit builds a COMMIT frame for an active transaction id.
func Commit(tx string, receipt string) (*Frame, error) {
	return txFrame(CmdCommit, tx, receipt)
}

// Abort builds an ABORT frame for an active transaction id.
func Abort(tx string, receipt string) (*Frame, error) {
	return txFrame(CmdAbort, tx, receipt)
}

func txFrame(command, tx, receipt string) (*Frame, error) {
	if tx == "" {
		return nil, newProtocolError("%s requires a transaction id", command)
	}
	frame := NewFrame(command)
	frame.Headers.Set(HeaderTransaction, tx)
	if receipt != "" {
		frame.Headers.Set(HeaderReceipt, receipt)
	}
	return frame, nil
}

// Disconnect builds a DISCONNECT frame, optionally requesting a receipt.
func Disconnect(receipt string) (*Frame, error) {
	frame := NewFrame(CmdDisconnect)
	if receipt != "" {
		frame.Headers.Set(HeaderReceipt, receipt)
	}
	return frame, nil
}

// MessageSubscriptionToken derives the subscription token an inbound
// MESSAGE frame belongs to: the explicit subscription header for 1.1, or
// the destination for 1.0 (where no subscription header is guaranteed).
func MessageSubscriptionToken(version Version, frame *Frame) (string, error) {
	if frame.Command != CmdMessage {
		return "", newProtocolError("expected MESSAGE, got %s", frame.Command)
	}
	if version != Version10 {
		if sub, ok := frame.Headers.Get(HeaderSubscription); ok {
			return sub, nil
		}
		return "", newProtocolError("MESSAGE is missing subscription header for version %s", version)
	}
	dest, ok := frame.Headers.Get(HeaderDestination)
	if !ok {
		return "", newProtocolError("MESSAGE is missing destination header")
	}
	return dest, nil
}
