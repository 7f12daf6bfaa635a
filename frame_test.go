package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameWriteToRoundTrip(t *testing.T) {
	frame := NewFrame(CmdSend)
	frame.Headers.Set(HeaderDestination, "/queue/a")
	frame.Headers.Set(HeaderContentType, "text/plain")
	frame.SetBody([]byte("hello"))

	data := frame.Bytes()

	p := NewParser(Version11)
	require.NoError(t, p.Add(data))
	require.True(t, p.CanRead())

	got, ok := p.Get().(*Frame)
	require.True(t, ok)
	assert.Equal(t, CmdSend, got.Command)
	assert.Equal(t, "/queue/a", got.Headers.GetDefault(HeaderDestination, ""))
	assert.Equal(t, "hello", string(got.Body))
}

func TestFrameBytesEndsWithFrameDelimiter(t *testing.T) {
	frame := NewFrame(CmdDisconnect)
	data := frame.Bytes()
	require.NotEmpty(t, data)
	assert.Equal(t, byte(FrameDelimiter), data[len(data)-1])
}
