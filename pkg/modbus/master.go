package modbus

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// Master issues Modbus RTU requests over a shared bus arbiter.
type Master struct {
	bus             *transport.BusArbiter
	clock           transport.Clock
	baud            int
	responseTimeout time.Duration
}

// NewMaster constructs a Modbus RTU master.
func NewMaster(bus *transport.BusArbiter, clock transport.Clock, baud int, responseTimeout time.Duration) *Master {
	return &Master{bus: bus, clock: clock, baud: baud, responseTimeout: responseTimeout}
}

func be16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }

// readRequest sends function with address/quantity data and returns the
// validated response ADU.
func (m *Master) readRequest(ctx context.Context, slave byte, function byte, address, quantity uint16) (*frame.ModbusADU, error) {
	data := append(be16(address), be16(quantity)...)
	return m.roundTrip(ctx, slave, function, data)
}

// ReadCoils reads quantity coils starting at address (1-2000).
func (m *Master) ReadCoils(ctx context.Context, slave byte, address, quantity uint16) ([]bool, error) {
	if quantity < 1 || quantity > MaxCoilReadQuantity {
		return nil, gwerr.New(gwerr.IllegalDataValue, "coil read quantity out of range")
	}
	resp, err := m.readRequest(ctx, slave, FuncReadCoils, address, quantity)
	if err != nil {
		return nil, err
	}
	return unpackBits(resp.Data, int(quantity)), nil
}

// ReadDiscreteInputs reads quantity discrete inputs (1-2000).
func (m *Master) ReadDiscreteInputs(ctx context.Context, slave byte, address, quantity uint16) ([]bool, error) {
	if quantity < 1 || quantity > MaxCoilReadQuantity {
		return nil, gwerr.New(gwerr.IllegalDataValue, "discrete input read quantity out of range")
	}
	resp, err := m.readRequest(ctx, slave, FuncReadDiscreteInputs, address, quantity)
	if err != nil {
		return nil, err
	}
	return unpackBits(resp.Data, int(quantity)), nil
}

// ReadHoldingRegisters reads quantity registers (1-125).
func (m *Master) ReadHoldingRegisters(ctx context.Context, slave byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > MaxRegisterReadQuantity {
		return nil, gwerr.New(gwerr.IllegalDataValue, "register read quantity out of range")
	}
	resp, err := m.readRequest(ctx, slave, FuncReadHoldingRegisters, address, quantity)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(resp.Data), nil
}

// ReadInputRegisters reads quantity input registers (1-125).
func (m *Master) ReadInputRegisters(ctx context.Context, slave byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > MaxRegisterReadQuantity {
		return nil, gwerr.New(gwerr.IllegalDataValue, "register read quantity out of range")
	}
	resp, err := m.readRequest(ctx, slave, FuncReadInputRegisters, address, quantity)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(resp.Data), nil
}

// WriteSingleCoil writes a single coil and validates the echo.
// A slave address of BroadcastAddress elicits no response.
func (m *Master) WriteSingleCoil(ctx context.Context, slave byte, address uint16, value bool) error {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	data := append(be16(address), be16(v)...)
	if slave == frame.BroadcastAddress {
		return m.sendNoResponse(ctx, slave, FuncWriteSingleCoil, data)
	}
	resp, err := m.roundTrip(ctx, slave, FuncWriteSingleCoil, data)
	if err != nil {
		return err
	}
	return validateEcho(data, resp.Data)
}

// WriteSingleRegister writes a single register and validates the echo.
func (m *Master) WriteSingleRegister(ctx context.Context, slave byte, address, value uint16) error {
	data := append(be16(address), be16(value)...)
	if slave == frame.BroadcastAddress {
		return m.sendNoResponse(ctx, slave, FuncWriteSingleRegister, data)
	}
	resp, err := m.roundTrip(ctx, slave, FuncWriteSingleRegister, data)
	if err != nil {
		return err
	}
	return validateEcho(data, resp.Data)
}

// WriteMultipleCoils writes values starting at address (1-1968).
func (m *Master) WriteMultipleCoils(ctx context.Context, slave byte, address uint16, values []bool) error {
	if len(values) < 1 || len(values) > MaxCoilWriteQuantity {
		return gwerr.New(gwerr.IllegalDataValue, "coil write quantity out of range")
	}
	packed := packBits(values)
	data := append(be16(address), be16(uint16(len(values)))...)
	data = append(data, byte(len(packed)))
	data = append(data, packed...)

	if slave == frame.BroadcastAddress {
		return m.sendNoResponse(ctx, slave, FuncWriteMultipleCoils, data)
	}
	resp, err := m.roundTrip(ctx, slave, FuncWriteMultipleCoils, data)
	if err != nil {
		return err
	}
	if len(resp.Data) < 4 {
		return gwerr.New(gwerr.IllegalDataValue, "write multiple coils response too short")
	}
	return validateEcho(data[:4], resp.Data[:4])
}

// WriteMultipleRegisters writes values starting at address (1-123).
func (m *Master) WriteMultipleRegisters(ctx context.Context, slave byte, address uint16, values []uint16) error {
	if len(values) < 1 || len(values) > MaxRegisterWriteQuantity {
		return gwerr.New(gwerr.IllegalDataValue, "register write quantity out of range")
	}
	data := append(be16(address), be16(uint16(len(values)))...)
	data = append(data, byte(len(values)*2))
	for _, v := range values {
		data = append(data, be16(v)...)
	}

	if slave == frame.BroadcastAddress {
		return m.sendNoResponse(ctx, slave, FuncWriteMultipleRegisters, data)
	}
	resp, err := m.roundTrip(ctx, slave, FuncWriteMultipleRegisters, data)
	if err != nil {
		return err
	}
	if len(resp.Data) < 4 {
		return gwerr.New(gwerr.IllegalDataValue, "write multiple registers response too short")
	}
	return validateEcho(data[:4], resp.Data[:4])
}

func validateEcho(sent, got []byte) error {
	if len(sent) != len(got) {
		return gwerr.New(gwerr.IllegalDataValue, "response echo length mismatch")
	}
	for i := range sent {
		if sent[i] != got[i] {
			return gwerr.New(gwerr.IllegalDataValue, "response echo mismatch")
		}
	}
	return nil
}

func (m *Master) sendNoResponse(ctx context.Context, slave, function byte, data []byte) error {
	adu, err := frame.BuildModbus(slave, function, data)
	if err != nil {
		return err
	}
	deadline := m.clock.Now().Add(m.responseTimeout)
	if err := m.bus.Send(ctx, adu, deadline); err != nil {
		return gwerr.Wrap(gwerr.TransportRetryable, "broadcast send failed", err)
	}
	m.clock.Sleep(transport.InterFrameSilence(m.baud))
	return nil
}

// roundTrip sends one request and reads one ADU back, delimited by the
// RTU inter-character silence, then validates it.
func (m *Master) roundTrip(ctx context.Context, slave, function byte, data []byte) (*frame.ModbusADU, error) {
	adu, err := frame.BuildModbus(slave, function, data)
	if err != nil {
		return nil, err
	}
	deadline := m.clock.Now().Add(m.responseTimeout)
	if err := m.bus.Send(ctx, adu, deadline); err != nil {
		return nil, gwerr.Wrap(gwerr.TransportRetryable, "modbus send failed", err)
	}

	raw, err := readUntilSilence(ctx, m.bus, m.clock, m.baud, deadline)
	if err != nil {
		return nil, err
	}
	resp, err := frame.ParseModbus(raw)
	if err != nil {
		return nil, err
	}
	if resp.Address != slave {
		return nil, gwerr.New(gwerr.Framing, "modbus response from unexpected slave address")
	}
	if resp.IsException() {
		code := byte(0)
		if len(resp.Data) > 0 {
			code = resp.Data[0]
		}
		return nil, exceptionToError(code)
	}
	return resp, nil
}

func exceptionToError(code byte) error {
	switch code {
	case ExcIllegalDataAddress:
		return gwerr.New(gwerr.IllegalDataAddress, "slave returned illegal data address")
	case ExcIllegalDataValue:
		return gwerr.New(gwerr.IllegalDataValue, "slave returned illegal data value")
	case ExcIllegalFunction:
		return gwerr.New(gwerr.UnknownFunction, "slave returned illegal function")
	default:
		return gwerr.New(gwerr.PeerNack, "slave returned exception")
	}
}

// readUntilSilence accumulates bytes until InterCharacterTimeout passes
// with nothing new, which RTU treats as end-of-frame.
func readUntilSilence(ctx context.Context, bus *transport.BusArbiter, clock transport.Clock, baud int, deadline time.Time) ([]byte, error) {
	silence := transport.InterCharacterTimeout(baud)
	if silence <= 0 {
		silence = time.Millisecond
	}
	var buf []byte
	chunk := make([]byte, 256)
	for {
		readDeadline := clock.Now().Add(silence)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		n, err := bus.Recv(ctx, chunk, readDeadline)
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, gwerr.Wrap(gwerr.BusTimeout, "no modbus response", err)
		}
		if n == 0 {
			if len(buf) > 0 {
				return buf, nil
			}
			if clock.Now().After(deadline) || clock.Now().Equal(deadline) {
				return nil, gwerr.New(gwerr.BusTimeout, "no modbus response before deadline")
			}
			continue
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) >= frame.MaxModbusADU {
			return buf, nil
		}
	}
}

func packBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func unpackBits(data []byte, count int) []bool {
	if len(data) == 0 {
		return nil
	}
	bits := data[1:] // data[0] is the byte count
	if count > len(bits)*8 {
		count = len(bits) * 8
	}
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = bits[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	if len(data) == 0 {
		return nil
	}
	body := data[1:] // data[0] is the byte count
	out := make([]uint16, len(body)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(body[i*2 : i*2+2])
	}
	return out
}
