package stomp

import (
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Endpoint is one (host, port) pair offered by a failover URI.
type Endpoint struct {
	Host string
	Port int
}

// FailoverOptions controls the reconnect policy parsed out of a failover
// URI's query string.
type FailoverOptions struct {
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	UseExponentialBackOff bool
	BackOffMultiplier     float64
	MaxReconnectAttempts  int // -1 means unlimited
	Randomize             bool
}

// DefaultFailoverOptions mirrors the conventional ActiveMQ-style defaults.
func DefaultFailoverOptions() FailoverOptions {
	return FailoverOptions{
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		UseExponentialBackOff: true,
		BackOffMultiplier:     2.0,
		MaxReconnectAttempts:  -1,
		Randomize:             false,
	}
}

// Failover parses a URI of the form
// "failover:(tcp://h1:p1,tcp://h2:p2,...)?opt=val&..." into its endpoint
// list and reconnect policy.
type Failover struct {
	Endpoints []Endpoint
	Options   FailoverOptions
}

// ParseFailoverURI parses uri, which must begin with "failover:".
func ParseFailoverURI(uri string) (*Failover, error) {
	const prefix = "failover:"
	if !strings.HasPrefix(uri, prefix) {
		return nil, newProtocolError("not a failover URI: %q", uri)
	}
	rest := uri[len(prefix):]

	open := strings.IndexByte(rest, '(')
	closeParen := strings.IndexByte(rest, ')')
	if open != 0 || closeParen < open {
		return nil, newProtocolError("malformed failover URI: %q", uri)
	}
	endpointList := rest[open+1 : closeParen]
	tail := rest[closeParen+1:]

	endpoints, err := parseEndpoints(endpointList)
	if err != nil {
		return nil, err
	}

	opts := DefaultFailoverOptions()
	if strings.HasPrefix(tail, "?") {
		values, err := url.ParseQuery(tail[1:])
		if err != nil {
			return nil, newProtocolError("malformed failover options: %v", err)
		}
		if err := applyFailoverOptions(&opts, values); err != nil {
			return nil, err
		}
	}

	return &Failover{Endpoints: endpoints, Options: opts}, nil
}

func parseEndpoints(list string) ([]Endpoint, error) {
	parts := strings.Split(list, ",")
	endpoints := make([]Endpoint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil {
			return nil, newProtocolError("malformed endpoint %q: %v", part, err)
		}
		host := u.Hostname()
		if host == "" {
			return nil, newProtocolError("endpoint %q is missing a host", part)
		}
		port := 61613
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, newProtocolError("endpoint %q has a malformed port: %v", part, err)
			}
			port = n
		}
		endpoints = append(endpoints, Endpoint{Host: host, Port: port})
	}
	if len(endpoints) == 0 {
		return nil, newProtocolError("failover URI names no endpoints")
	}
	return endpoints, nil
}

func applyFailoverOptions(opts *FailoverOptions, values url.Values) error {
	if v := values.Get("initialReconnectDelay"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return newProtocolError("malformed initialReconnectDelay: %v", err)
		}
		opts.InitialReconnectDelay = time.Duration(ms) * time.Millisecond
	}
	if v := values.Get("maxReconnectDelay"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return newProtocolError("malformed maxReconnectDelay: %v", err)
		}
		opts.MaxReconnectDelay = time.Duration(ms) * time.Millisecond
	}
	if v := values.Get("useExponentialBackOff"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return newProtocolError("malformed useExponentialBackOff: %v", err)
		}
		opts.UseExponentialBackOff = b
	}
	if v := values.Get("backOffMultiplier"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return newProtocolError("malformed backOffMultiplier: %v", err)
		}
		opts.BackOffMultiplier = f
	}
	if v := values.Get("maxReconnectAttempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return newProtocolError("malformed maxReconnectAttempts: %v", err)
		}
		opts.MaxReconnectAttempts = n
	}
	if v := values.Get("randomize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return newProtocolError("malformed randomize: %v", err)
		}
		opts.Randomize = b
	}
	return nil
}

// Attempt is one entry an Attempts iterator yields: the endpoint to try
// next, and how long to wait before trying it.
type Attempt struct {
	Endpoint Endpoint
	Delay    time.Duration
}

// Attempts is a stateful round-robin iterator over a Failover's endpoints,
// applying its back-off policy between full cycles. It is not safe for
// concurrent use.
type Attempts struct {
	f          *Failover
	order      []int
	idx        int
	cycle      int
	delay      time.Duration
	attempts   int
	exhausted  bool
	rand       *rand.Rand
}

// NewAttempts starts a fresh attempt sequence over f.
func NewAttempts(f *Failover) *Attempts {
	a := &Attempts{
		f:     f,
		order: identityOrder(len(f.Endpoints)),
		delay: f.Options.InitialReconnectDelay,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if f.Options.Randomize {
		a.shuffle()
	}
	return a
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func (a *Attempts) shuffle() {
	a.rand.Shuffle(len(a.order), func(i, j int) {
		a.order[i], a.order[j] = a.order[j], a.order[i]
	})
}

// Next returns the next (endpoint, delay) pair, or ok=false once
// MaxReconnectAttempts has been exhausted.
func (a *Attempts) Next() (Attempt, bool) {
	if a.exhausted {
		return Attempt{}, false
	}
	max := a.f.Options.MaxReconnectAttempts
	if max >= 0 && a.attempts >= max {
		a.exhausted = true
		return Attempt{}, false
	}

	endpoint := a.f.Endpoints[a.order[a.idx]]
	delay := time.Duration(0)
	if a.cycle > 0 && a.idx == 0 {
		delay = a.delay
		if a.f.Options.UseExponentialBackOff {
			next := time.Duration(float64(a.delay) * a.f.Options.BackOffMultiplier)
			if next > a.f.Options.MaxReconnectDelay {
				next = a.f.Options.MaxReconnectDelay
			}
			a.delay = next
		}
	}

	a.attempts++
	a.idx++
	if a.idx >= len(a.order) {
		a.idx = 0
		a.cycle++
		if a.f.Options.Randomize {
			a.shuffle()
		}
	}

	return Attempt{Endpoint: endpoint, Delay: delay}, true
}

// Reset starts the sequence over from the beginning, as if NewAttempts had
// just been called, so the next failure starts back at the initial delay.
// Client.Connect builds a fresh Attempts per call and does not call Reset.
func (a *Attempts) Reset() {
	a.idx = 0
	a.cycle = 0
	a.attempts = 0
	a.exhausted = false
	a.delay = a.f.Options.InitialReconnectDelay
	a.order = identityOrder(len(a.f.Endpoints))
	if a.f.Options.Randomize {
		a.shuffle()
	}
}
