package stomp

import (
	"os"
	"strconv"
	"time"
)

// HeartBeatThresholds scales the negotiated heart-beat periods into the
// tolerances the client actually enforces: client-side beats are sent
// somewhat faster than promised (Client factor < 1), and the server is
// given somewhat more slack than promised before being declared missing
// (Server factor > 1).
type HeartBeatThresholds struct {
	Client float64
	Server float64
}

// Config holds the settings a Client is constructed with.
type Config struct {
	// URI is a "tcp://host:port" or "failover:(...)" address.
	URI string

	Login    string
	Passcode string

	// Host is the virtual host named in CONNECT's host header. Required
	// when Versions negotiates anything beyond bare 1.0.
	Host string

	// Versions offered in the CONNECT frame's accept-version header.
	// Empty means DefaultVersion only; spec.md leaves the default
	// version ambiguous, so callers needing 1.1 must say so explicitly.
	Versions []Version

	// HeartBeat is the client's proposed (x, y) heart-beat periods in
	// milliseconds. Zero values mean "none requested" for that
	// direction, per spec.md's CONNECT semantics.
	HeartBeat HeartBeats

	HeartBeatThresholds HeartBeatThresholds

	// ReceiptTimeout bounds how long SendFrame waits for a matching
	// RECEIPT before treating the request as cancelled.
	ReceiptTimeout time.Duration

	// ConnectTimeout bounds Transport.Open.
	ConnectTimeout time.Duration

	// MinHandlers/MaxHandlers size the MESSAGE dispatch pool. Zero
	// means runtime.NumCPU()-based defaults (see newHandlerPool).
	MinHandlers int
	MaxHandlers int
}

// DefaultConfig returns a Config with zero-friendly defaults; callers
// still need to set at least URI before connecting.
func DefaultConfig() *Config {
	return &Config{
		Versions: []Version{DefaultVersion},
		HeartBeatThresholds: HeartBeatThresholds{
			Client: 0.8,
			Server: 2.0,
		},
		ReceiptTimeout: 10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// LoadConfigFromEnv overlays environment variables onto cfg, mirroring
// a LoadConfigFromEnv(cfg) overlay pattern: only variables
// that are actually set override the existing value.
func LoadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("STOMP_URI"); v != "" {
		cfg.URI = v
	}
	if v := os.Getenv("STOMP_LOGIN"); v != "" {
		cfg.Login = v
	}
	if v := os.Getenv("STOMP_PASSCODE"); v != "" {
		cfg.Passcode = v
	}
	if v := os.Getenv("STOMP_HEARTBEAT_CLIENT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HeartBeat.X = ms
		}
	}
	if v := os.Getenv("STOMP_HEARTBEAT_SERVER_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HeartBeat.Y = ms
		}
	}
}
