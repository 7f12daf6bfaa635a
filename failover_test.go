package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailoverURIRejectsNonFailoverScheme(t *testing.T) {
	_, err := ParseFailoverURI("tcp://localhost:61613")
	require.Error(t, err)
}

func TestParseFailoverURIParsesEndpointsAndOptions(t *testing.T) {
	f, err := ParseFailoverURI("failover:(tcp://a:61613,tcp://b:61614)?initialReconnectDelay=50&maxReconnectAttempts=3&randomize=false")
	require.NoError(t, err)
	require.Len(t, f.Endpoints, 2)
	assert.Equal(t, Endpoint{Host: "a", Port: 61613}, f.Endpoints[0])
	assert.Equal(t, Endpoint{Host: "b", Port: 61614}, f.Endpoints[1])
	assert.Equal(t, 50*time.Millisecond, f.Options.InitialReconnectDelay)
	assert.Equal(t, 3, f.Options.MaxReconnectAttempts)
	assert.False(t, f.Options.Randomize)
}

func TestParseFailoverURIDefaultsPort(t *testing.T) {
	f, err := ParseFailoverURI("failover:(tcp://a)")
	require.NoError(t, err)
	assert.Equal(t, 61613, f.Endpoints[0].Port)
}

func TestAttemptsRoundRobinsWithNoDelayOnFirstPass(t *testing.T) {
	f := &Failover{
		Endpoints: []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 2}},
		Options:   DefaultFailoverOptions(),
	}
	a := NewAttempts(f)

	first, ok := a.Next()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), first.Delay)

	second, ok := a.Next()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), second.Delay)
	assert.NotEqual(t, first.Endpoint, second.Endpoint)
}

func TestAttemptsAppliesBackOffAcrossCycles(t *testing.T) {
	f := &Failover{
		Endpoints: []Endpoint{{Host: "a", Port: 1}},
		Options: FailoverOptions{
			InitialReconnectDelay: 10 * time.Millisecond,
			MaxReconnectDelay:     1 * time.Second,
			UseExponentialBackOff: true,
			BackOffMultiplier:     2.0,
			MaxReconnectAttempts:  -1,
		},
	}
	a := NewAttempts(f)

	first, _ := a.Next()
	assert.Equal(t, time.Duration(0), first.Delay)

	second, _ := a.Next()
	assert.Equal(t, 10*time.Millisecond, second.Delay)

	third, _ := a.Next()
	assert.Equal(t, 20*time.Millisecond, third.Delay)
}

func TestAttemptsExhaustsAtMaxReconnectAttempts(t *testing.T) {
	f := &Failover{
		Endpoints: []Endpoint{{Host: "a", Port: 1}},
		Options: FailoverOptions{
			InitialReconnectDelay: time.Millisecond,
			MaxReconnectDelay:     time.Second,
			MaxReconnectAttempts:  2,
		},
	}
	a := NewAttempts(f)
	_, ok := a.Next()
	require.True(t, ok)
	_, ok = a.Next()
	require.True(t, ok)
	_, ok = a.Next()
	assert.False(t, ok)
}

func TestAttemptsResetRestartsDelayFromInitial(t *testing.T) {
	f := &Failover{
		Endpoints: []Endpoint{{Host: "a", Port: 1}},
		Options: FailoverOptions{
			InitialReconnectDelay: 5 * time.Millisecond,
			MaxReconnectDelay:     time.Second,
			UseExponentialBackOff: true,
			BackOffMultiplier:     2.0,
			MaxReconnectAttempts:  -1,
		},
	}
	a := NewAttempts(f)
	a.Next()
	a.Next()
	a.Reset()
	first, _ := a.Next()
	assert.Equal(t, time.Duration(0), first.Delay)
}
