package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequiresHostForVersion11(t *testing.T) {
	_, err := Connect(ConnectOptions{Versions: []Version{Version11}})
	require.Error(t, err)
}

func TestConnectEmitsAcceptVersionOnlyWhenNegotiating(t *testing.T) {
	frame, err := Connect(ConnectOptions{Versions: []Version{Version10}})
	require.NoError(t, err)
	_, ok := frame.Headers.Get(HeaderAcceptVersion)
	assert.False(t, ok)

	frame, err = Connect(ConnectOptions{Versions: []Version{Version10, Version11}, Host: "vhost"})
	require.NoError(t, err)
	v, ok := frame.Headers.Get(HeaderAcceptVersion)
	require.True(t, ok)
	assert.Equal(t, "1.0,1.1", v)
}

func TestConnectUseStompRequiresVersion11(t *testing.T) {
	_, err := Connect(ConnectOptions{Versions: []Version{Version10}, UseStomp: true})
	require.Error(t, err)

	frame, err := Connect(ConnectOptions{Versions: []Version{Version11}, Host: "vhost", UseStomp: true})
	require.NoError(t, err)
	assert.Equal(t, CmdStomp, frame.Command)
}

func TestConnectedRejectsUnacceptedVersion(t *testing.T) {
	frame := NewFrame(CmdConnected)
	frame.Headers.Set(HeaderVersion, "1.1")
	_, err := Connected(frame, []Version{Version10})
	require.Error(t, err)
}

func TestConnectedDefaultsHeartBeatsForV10(t *testing.T) {
	frame := NewFrame(CmdConnected)
	frame.Headers.Set(HeaderVersion, "1.0")
	info, err := Connected(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, HeartBeats{0, 0}, info.HeartBeats)
}

func TestSendRequiresDestination(t *testing.T) {
	_, err := Send(SendOptions{})
	require.Error(t, err)
}

func TestSubscribeRequiresIDForVersion11(t *testing.T) {
	_, err := Subscribe(Version11, SubscribeOptions{Destination: "/q"})
	require.Error(t, err)

	frame, err := Subscribe(Version11, SubscribeOptions{Destination: "/q", ID: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", frame.Headers.GetDefault(HeaderID, ""))
}

func TestNackRejectedForVersion10(t *testing.T) {
	message := NewFrame(CmdMessage)
	message.Headers.Set(HeaderMessageID, "1")
	_, err := Nack(Version10, message, nil, "")
	require.Error(t, err)
}

func TestAckCarriesActiveTransactionOnly(t *testing.T) {
	message := NewFrame(CmdMessage)
	message.Headers.Set(HeaderMessageID, "1")
	message.Headers.Set(HeaderSubscription, "0")
	message.Headers.Set(HeaderTransaction, "tx-1")

	frame, err := Ack(Version11, message, map[string]struct{}{"tx-1": {}}, "")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", frame.Headers.GetDefault(HeaderTransaction, ""))

	frame, err = Ack(Version11, message, nil, "")
	require.NoError(t, err)
	_, ok := frame.Headers.Get(HeaderTransaction)
	assert.False(t, ok)
}

func TestAckRequiresSubscriptionForVersion11(t *testing.T) {
	message := NewFrame(CmdMessage)
	message.Headers.Set(HeaderMessageID, "1")
	_, err := Ack(Version11, message, nil, "")
	require.Error(t, err)
}

func TestMessageSubscriptionTokenFallsBackToDestinationForV10(t *testing.T) {
	message := NewFrame(CmdMessage)
	message.Headers.Set(HeaderDestination, "/queue/a")
	token, err := MessageSubscriptionToken(Version10, message)
	require.NoError(t, err)
	assert.Equal(t, "/queue/a", token)
}

func TestTxFrameRequiresID(t *testing.T) {
	_, err := Begin("", "")
	require.Error(t, err)
	_, err = Commit("", "")
	require.Error(t, err)
	_, err = Abort("", "")
	require.Error(t, err)
}
