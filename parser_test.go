package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserDecodesSimpleFrame(t *testing.T) {
	p := NewParser(Version11)
	raw := "MESSAGE\ndestination:/queue/a\nmessage-id:1\nsubscription:0\n\nbody\x00"
	require.NoError(t, p.Add([]byte(raw)))
	require.True(t, p.CanRead())

	frame, ok := p.Get().(*Frame)
	require.True(t, ok)
	assert.Equal(t, CmdMessage, frame.Command)
	assert.Equal(t, "/queue/a", frame.Headers.GetDefault(HeaderDestination, ""))
	assert.Equal(t, "body", string(frame.Body))
	assert.False(t, p.CanRead())
}

// A frame delivered split across many small Add calls must parse
// identically to one delivered whole.
func TestParserHandlesSplitChunks(t *testing.T) {
	p := NewParser(Version11)
	raw := []byte("SEND\ndestination:/queue/a\ncontent-length:5\n\nhello\x00")
	for _, b := range raw {
		require.NoError(t, p.Add([]byte{b}))
	}
	require.True(t, p.CanRead())
	frame := p.Get().(*Frame)
	assert.Equal(t, "hello", string(frame.Body))
}

func TestParserHonorsContentLengthWithEmbeddedNUL(t *testing.T) {
	p := NewParser(Version11)
	body := []byte("a\x00b")
	raw := append([]byte("SEND\ndestination:/q\ncontent-length:3\n\n"), body...)
	raw = append(raw, FrameDelimiter)
	require.NoError(t, p.Add(raw))
	frame := p.Get().(*Frame)
	assert.Equal(t, body, frame.Body)
}

func TestParserRejectsUnknownCommand(t *testing.T) {
	p := NewParser(Version11)
	err := p.Add([]byte("BOGUS\n\n\x00"))
	var invalid *InvalidFrame
	require.ErrorAs(t, err, &invalid)
}

func TestParserRejectsHeaderWithoutSeparator(t *testing.T) {
	p := NewParser(Version11)
	err := p.Add([]byte("SEND\nbroken-header\n\n\x00"))
	var invalid *InvalidFrame
	require.ErrorAs(t, err, &invalid)
}

func TestParserEmitsHeartBeatForNonV10(t *testing.T) {
	p := NewParser(Version11)
	require.NoError(t, p.Add([]byte{LineDelimiter}))
	require.True(t, p.CanRead())
	_, ok := p.Get().(HeartBeat)
	assert.True(t, ok)
}

func TestParserV10SwallowsHeartBeat(t *testing.T) {
	p := NewParser(Version10)
	require.NoError(t, p.Add([]byte{LineDelimiter}))
	assert.False(t, p.CanRead())
}

func TestParserResetClearsPartialFrame(t *testing.T) {
	p := NewParser(Version11)
	require.NoError(t, p.Add([]byte("SEND\ndestination:/q")))
	p.Reset()
	require.NoError(t, p.Add([]byte("CONNECTED\n\n\x00")))
	frame := p.Get().(*Frame)
	assert.Equal(t, CmdConnected, frame.Command)
}

func TestParserFirstOccurrenceWinsOnDuplicateHeader(t *testing.T) {
	p := NewParser(Version11)
	raw := "MESSAGE\ndestination:/a\ndestination:/b\nmessage-id:1\nsubscription:0\n\n\x00"
	require.NoError(t, p.Add([]byte(raw)))
	frame := p.Get().(*Frame)
	assert.Equal(t, "/a", frame.Headers.GetDefault(HeaderDestination, ""))
}
