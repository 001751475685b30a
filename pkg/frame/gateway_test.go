package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	for size := 0; size <= MaxGatewayPayload; size += 37 {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		buf, err := BuildGateway(1, 5, 9, 0x02, 42, FlagAckRequired, payload)
		require.NoError(t, err)

		res, err := ParseGateway(buf)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, len(buf), res.Consumed)
		assert.Equal(t, payload, res.Frame.Payload)
		assert.Equal(t, byte(5), res.Frame.Src)
		assert.Equal(t, byte(9), res.Frame.Dst)
		assert.Equal(t, byte(42), res.Frame.Seq)
	}
}

func TestBuildGatewayPayloadTooLarge(t *testing.T) {
	_, err := BuildGateway(1, 1, 2, 0, 0, FlagNone, make([]byte, MaxGatewayPayload+1))
	require.Error(t, err)
}

func TestParseGatewayNeedMoreData(t *testing.T) {
	buf, err := BuildGateway(1, 1, 2, 0, 0, FlagNone, []byte{1, 2, 3})
	require.NoError(t, err)

	res, err := ParseGateway(buf[:len(buf)-1])
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestParseGatewayCrcMismatchDoesNotConsumeBeyondFrame(t *testing.T) {
	buf, err := BuildGateway(1, 1, 2, 0, 0, FlagNone, []byte{1, 2, 3})
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF // corrupt CRC

	trailing := []byte{0x11, 0x22}
	stream := append(buf, trailing...)

	var s GatewayStream
	s.Feed(stream)
	_, progressed, err := s.Next()
	require.Error(t, err)
	assert.True(t, progressed)
	assert.Equal(t, len(trailing), s.Len())
}

// A valid frame, N arbitrary bytes, and a second valid frame must be
// returned in order.
func TestGatewayStreamResync(t *testing.T) {
	f1, _ := BuildGateway(1, 1, 2, 0, 10, FlagNone, []byte("first"))
	f2, _ := BuildGateway(1, 1, 2, 0, 11, FlagNone, []byte("second"))
	noise := []byte{0xFF, 0x00, 0x12, 0x34, 0x56}

	var s GatewayStream
	s.Feed(f1)
	s.Feed(noise)
	s.Feed(f2)

	var got []*GatewayFrame
	for len(got) < 2 {
		fr, progressed, err := s.Next()
		if fr != nil {
			got = append(got, fr)
			continue
		}
		if !progressed && err == nil {
			t.Fatalf("stream stalled before yielding both frames")
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, []byte("first"), got[0].Payload)
	assert.Equal(t, []byte("second"), got[1].Payload)
}

func TestGatewayStreamDropsSentinelFreeNoise(t *testing.T) {
	var s GatewayStream
	s.Feed([]byte{0x01, 0x02, 0x03, 0xFF})
	fr, progressed, err := s.Next()
	assert.Nil(t, fr)
	assert.False(t, progressed)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Len(), "noise with no sentinel must not accumulate")
}

func TestGatewayStreamNeedsMoreBeforeNoise(t *testing.T) {
	var s GatewayStream
	s.Feed([]byte{StartByte, 1, 2})
	fr, progressed, err := s.Next()
	assert.Nil(t, fr)
	assert.False(t, progressed)
	assert.NoError(t, err)
}
