package frame

import (
	"encoding/binary"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

const (
	// MaxModbusADU is the Modbus RTU frame size ceiling. Kept separate
	// from MaxGatewayPayload even though both happen to equal 256: the
	// limits come from two unrelated protocols and drift independently.
	MaxModbusADU = 256
	// modbusMinADU is address(1) + function(1) + crc(2).
	modbusMinADU = 4
	// BroadcastAddress is the reserved Modbus broadcast slave address.
	BroadcastAddress = 0
	// ExceptionBit is OR-ed into the function code of an exception
	// response.
	ExceptionBit = 0x80
)

// ModbusADU is a parsed Modbus RTU application data unit.
type ModbusADU struct {
	Address  byte
	Function byte
	Data     []byte
}

// IsException reports whether Function carries the exception high bit.
func (a *ModbusADU) IsException() bool { return a.Function&ExceptionBit != 0 }

// BuildModbus assembles slaveAddress|function|data|crc16(le). Returns
// PayloadTooLarge if the total ADU would exceed MaxModbusADU.
func BuildModbus(address, function byte, data []byte) ([]byte, error) {
	total := modbusMinADU + len(data)
	if total > MaxModbusADU {
		return nil, gwerr.New(gwerr.PayloadTooLarge, "modbus ADU exceeds 256-byte cap")
	}
	adu := make([]byte, 0, total)
	adu = append(adu, address, function)
	adu = append(adu, data...)
	crc := CRC16(adu)
	crcBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBuf, crc)
	adu = append(adu, crcBuf...)
	return adu, nil
}

// BuildModbusException assembles the standard exception response: the
// request function code OR-ed with 0x80, and a single exception-code
// byte.
func BuildModbusException(address, function byte, exceptionCode byte) ([]byte, error) {
	return BuildModbus(address, function|ExceptionBit, []byte{exceptionCode})
}

// ParseModbus parses a complete ADU already delimited by RTU inter-frame
// silence (the RTU wire format has no length prefix or sentinel; frame
// boundaries come from transport-level timing, see pkg/transport). adu
// must be the exact bytes observed between two silence gaps.
func ParseModbus(adu []byte) (*ModbusADU, error) {
	if len(adu) < modbusMinADU {
		return nil, gwerr.New(gwerr.Framing, "modbus ADU shorter than minimum size")
	}
	if len(adu) > MaxModbusADU {
		return nil, gwerr.New(gwerr.Framing, "modbus ADU exceeds 256-byte cap")
	}

	body := adu[:len(adu)-2]
	computed := CRC16(body)
	received := binary.LittleEndian.Uint16(adu[len(adu)-2:])
	if computed != received {
		return nil, gwerr.New(gwerr.CrcMismatch, "modbus ADU CRC mismatch")
	}

	data := make([]byte, len(body)-2)
	copy(data, body[2:])
	return &ModbusADU{Address: adu[0], Function: adu[1], Data: data}, nil
}
