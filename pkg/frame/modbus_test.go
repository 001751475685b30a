package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModbusBuildParseRoundTrip(t *testing.T) {
	adu, err := BuildModbus(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)

	parsed, err := ParseModbus(adu)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), parsed.Address)
	assert.Equal(t, byte(0x03), parsed.Function)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02}, parsed.Data)
	assert.False(t, parsed.IsException())
}

// Read-holding-registers wire exchange: the request reads two
// registers, the response carries byte count 4 and values 10, 20.
func TestModbusReadHoldingRegistersWire(t *testing.T) {
	req, err := BuildModbus(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}, req[:6])

	resp, err := BuildModbus(0x01, 0x03, []byte{0x04, 0x00, 0x0A, 0x00, 0x14})
	require.NoError(t, err)

	parsed, err := ParseModbus(resp)
	require.NoError(t, err)
	assert.Equal(t, byte(0x04), parsed.Data[0])
	reg0 := uint16(parsed.Data[1])<<8 | uint16(parsed.Data[2])
	reg1 := uint16(parsed.Data[3])<<8 | uint16(parsed.Data[4])
	assert.Equal(t, uint16(10), reg0)
	assert.Equal(t, uint16(20), reg1)
}

func TestModbusExceptionFormat(t *testing.T) {
	resp, err := BuildModbusException(0x11, 0x06, 0x02)
	require.NoError(t, err)

	parsed, err := ParseModbus(resp)
	require.NoError(t, err)
	assert.True(t, parsed.IsException())
	assert.Equal(t, byte(0x06|ExceptionBit), parsed.Function)
	assert.Equal(t, []byte{0x02}, parsed.Data)
}

func TestModbusCrcMismatch(t *testing.T) {
	adu, err := BuildModbus(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	adu[len(adu)-1] ^= 0xFF

	_, err = ParseModbus(adu)
	require.Error(t, err)
}

func TestModbusTooLarge(t *testing.T) {
	_, err := BuildModbus(0x01, 0x10, make([]byte, MaxModbusADU))
	require.Error(t, err)
}
