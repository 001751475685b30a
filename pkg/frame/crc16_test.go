package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16MatchesBitwiseReference(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
		{0xAA, 0x01, 0x02, 0x03, 0x04, 0x05},
		make([]byte, 300),
	}
	for _, in := range inputs {
		assert.Equal(t, crc16Reference(in), CRC16(in))
	}
}

// Known-answer vector for the Modbus polynomial.
func TestCRC16KnownVector(t *testing.T) {
	got := CRC16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	assert.Equal(t, uint16(0xCDC5), got)
}
