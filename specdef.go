package stomp

// Version identifies a supported STOMP protocol version.
type Version string

// Supported protocol versions. STOMP 1.2 is out of scope (see spec
// Non-goals); the client speaks 1.0 and 1.1 only.
const (
	Version10 Version = "1.0"
	Version11 Version = "1.1"

	// DefaultVersion matches the wire-level default STOMP itself assumes
	// when a CONNECT carries no accept-version header. Call sites are
	// still expected to set Config.Versions explicitly.
	DefaultVersion = Version10
)

// Versions lists every version this client understands, in ascending order.
var Versions = []Version{Version10, Version11}

// Client-originated commands, by version.
const (
	CmdAbort       = "ABORT"
	CmdAck         = "ACK"
	CmdBegin       = "BEGIN"
	CmdCommit      = "COMMIT"
	CmdConnect     = "CONNECT"
	CmdDisconnect  = "DISCONNECT"
	CmdNack        = "NACK"
	CmdSend        = "SEND"
	CmdStomp       = "STOMP"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
)

// Server-originated commands.
const (
	CmdConnected = "CONNECTED"
	CmdError     = "ERROR"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
)

// clientCommands is the per-version set of commands a client may send.
var clientCommands = map[Version]map[string]struct{}{
	Version10: setOf(CmdAbort, CmdAck, CmdBegin, CmdCommit, CmdConnect, CmdDisconnect, CmdSend, CmdSubscribe, CmdUnsubscribe),
	Version11: setOf(CmdAbort, CmdAck, CmdBegin, CmdCommit, CmdConnect, CmdDisconnect, CmdNack, CmdSend, CmdStomp, CmdSubscribe, CmdUnsubscribe),
}

// serverCommands is the per-version set of commands a broker may send.
var serverCommands = map[Version]map[string]struct{}{
	Version10: setOf(CmdConnected, CmdError, CmdMessage, CmdReceipt),
	Version11: setOf(CmdConnected, CmdError, CmdMessage, CmdReceipt),
}

// knownCommands is the union client ∪ server, per version: the set the
// parser validates an inbound or outbound command name against.
var knownCommands = unionCommands(clientCommands, serverCommands)

func setOf(items ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func unionCommands(maps ...map[Version]map[string]struct{}) map[Version]map[string]struct{} {
	out := make(map[Version]map[string]struct{})
	for _, m := range maps {
		for version, cmds := range m {
			dst, ok := out[version]
			if !ok {
				dst = make(map[string]struct{}, len(cmds))
				out[version] = dst
			}
			for cmd := range cmds {
				dst[cmd] = struct{}{}
			}
		}
	}
	return out
}

// IsKnownCommand reports whether cmd belongs to version's command set
// (client commands union server commands).
func IsKnownCommand(version Version, cmd string) bool {
	cmds, ok := knownCommands[version]
	if !ok {
		return false
	}
	_, known := cmds[cmd]
	return known
}

// Wire delimiters, per the STOMP frame grammar (spec §6).
const (
	LineDelimiter    = '\n'
	FrameDelimiter   = 0x00
	HeaderSeparator  = ':'
	HeartBeatSepChar = ','
)

// Header names used by this client and the commands that build/interpret
// them.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderAck           = "ack"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderDestination   = "destination"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderLogin         = "login"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderPasscode      = "passcode"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderSession       = "session"
	HeaderServer        = "server"
	HeaderSubscription  = "subscription"
	HeaderTransaction   = "transaction"
	HeaderVersion       = "version"
)

// AckMode is the value of a SUBSCRIBE frame's "ack" header.
type AckMode string

const (
	AckAuto             AckMode = "auto"
	AckClient           AckMode = "client"
	AckClientIndividual AckMode = "client-individual"
)

// ClientAckModes are the modes that require an explicit ACK/NACK from the
// application — "auto" is handled by the client runtime itself.
var ClientAckModes = map[AckMode]struct{}{
	AckClient:           {},
	AckClientIndividual: {},
}
