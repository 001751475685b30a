package modbus

import (
	"context"
	"encoding/binary"
	"log"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// Slave answers Modbus RTU requests addressed to addr (or broadcast) by
// dispatching through function-code handlers onto a DataStore. Unlike
// the gateway Slave's handler table keyed by message type, Modbus
// function codes are fixed by the protocol, so dispatch is a switch
// rather than a registered map.
type Slave struct {
	addr  byte
	store DataStore
	bus   *transport.BusArbiter
	clock transport.Clock
	baud  int
	log   *log.Logger
	stats Stats
}

// NewSlave constructs a Modbus RTU slave bound to addr, backed by store.
func NewSlave(addr byte, store DataStore, bus *transport.BusArbiter, clock transport.Clock, baud int, logger *log.Logger) *Slave {
	return &Slave{addr: addr, store: store, bus: bus, clock: clock, baud: baud, log: logger}
}

// Stats returns a point-in-time snapshot of this slave's counters.
func (s *Slave) Stats() Stats { return s.stats.Snapshot() }

// ServeOnce waits for one ADU and, if addressed to this slave or the
// broadcast address, dispatches and replies before deadline elapses.
func (s *Slave) ServeOnce(ctx context.Context, deadline time.Time) error {
	silence := transport.InterCharacterTimeout(s.baud)
	if silence <= 0 {
		silence = time.Millisecond
	}

	var buf []byte
	chunk := make([]byte, 256)
	for s.clock.Now().Before(deadline) {
		readDeadline := s.clock.Now().Add(silence)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		n, err := s.bus.Recv(ctx, chunk, readDeadline)
		if err != nil {
			return gwerr.Wrap(gwerr.BusTimeout, "bus read failed", err)
		}
		if n == 0 {
			if len(buf) > 0 {
				break
			}
			continue
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) >= frame.MaxModbusADU {
			break
		}
	}
	if len(buf) == 0 {
		return nil
	}

	adu, err := frame.ParseModbus(buf)
	if err != nil {
		s.stats.recordFramingError()
		if gwerr.Is(err, gwerr.CrcMismatch) {
			s.stats.recordCrcError()
		}
		if s.log != nil {
			s.log.Printf("dropping unparseable ADU (%d bytes): %v", len(buf), err)
		}
		return nil // a corrupted request is dropped, never answered
	}
	if adu.Address != s.addr && adu.Address != frame.BroadcastAddress {
		return nil
	}

	broadcast := adu.Address == frame.BroadcastAddress
	reply, exc := s.dispatch(adu, broadcast)

	if broadcast {
		s.stats.recordBroadcastServed()
		return nil // broadcast writes never elicit a response
	}

	var wire []byte
	if exc != 0 {
		wire, err = frame.BuildModbusException(s.addr, adu.Function, exc)
		s.stats.recordExceptionSent()
		if s.log != nil {
			s.log.Printf("function 0x%02x raised exception 0x%02x", adu.Function, exc)
		}
	} else {
		wire, err = frame.BuildModbus(s.addr, adu.Function, reply)
		s.stats.recordRequestServed()
	}
	if err != nil {
		return err
	}
	if err := s.bus.Send(ctx, wire, s.clock.Now().Add(time.Second)); err != nil {
		return gwerr.Wrap(gwerr.TransportRetryable, "modbus response send failed", err)
	}
	return nil
}

// dispatch executes the request against the data store and returns the
// response payload, or a nonzero exception code on failure.
func (s *Slave) dispatch(adu *frame.ModbusADU, broadcast bool) ([]byte, byte) {
	if broadcast {
		// Only writes are meaningful on the broadcast address; a read
		// nobody may answer is dropped without touching the store.
		switch adu.Function {
		case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		default:
			return nil, 0
		}
	}
	switch adu.Function {
	case FuncReadCoils:
		return s.readBits(adu.Data, false)
	case FuncReadDiscreteInputs:
		return s.readBits(adu.Data, true)
	case FuncReadHoldingRegisters:
		return s.readRegisters(adu.Data)
	case FuncReadInputRegisters:
		return s.readRegisters(adu.Data)
	case FuncWriteSingleCoil:
		return s.writeSingleCoil(adu.Data)
	case FuncWriteSingleRegister:
		return s.writeSingleRegister(adu.Data)
	case FuncWriteMultipleCoils:
		return s.writeMultipleCoils(adu.Data)
	case FuncWriteMultipleRegisters:
		return s.writeMultipleRegisters(adu.Data)
	default:
		return nil, ExcIllegalFunction
	}
}

func (s *Slave) readBits(data []byte, discreteInput bool) ([]byte, byte) {
	if len(data) != 4 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	if quantity < 1 || quantity > MaxCoilReadQuantity {
		return nil, ExcIllegalDataValue
	}

	values := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		v := false
		if err := s.store.Coil(address+i, &v, false); err != nil {
			return nil, ExcIllegalDataAddress
		}
		values[i] = v
	}
	_ = discreteInput // same backing store behind both function codes

	packed := packBits(values)
	return append([]byte{byte(len(packed))}, packed...), 0
}

func (s *Slave) readRegisters(data []byte) ([]byte, byte) {
	if len(data) != 4 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	if quantity < 1 || quantity > MaxRegisterReadQuantity {
		return nil, ExcIllegalDataValue
	}

	out := make([]byte, 1, 1+int(quantity)*2)
	for i := uint16(0); i < quantity; i++ {
		v := uint16(0)
		if err := s.store.Register(address+i, &v, false); err != nil {
			return nil, ExcIllegalDataAddress
		}
		out = append(out, be16(v)...)
	}
	out[0] = byte(len(out) - 1)
	return out, 0
}

func (s *Slave) writeSingleCoil(data []byte) ([]byte, byte) {
	if len(data) != 4 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	raw := binary.BigEndian.Uint16(data[2:4])
	if raw != 0x0000 && raw != 0xFF00 {
		return nil, ExcIllegalDataValue
	}
	v := raw == 0xFF00
	if err := s.store.Coil(address, &v, true); err != nil {
		return nil, ExcIllegalDataAddress
	}
	return append([]byte(nil), data...), 0
}

func (s *Slave) writeSingleRegister(data []byte) ([]byte, byte) {
	if len(data) != 4 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	v := binary.BigEndian.Uint16(data[2:4])
	if err := s.store.Register(address, &v, true); err != nil {
		return nil, ExcIllegalDataAddress
	}
	return append([]byte(nil), data...), 0
}

func (s *Slave) writeMultipleCoils(data []byte) ([]byte, byte) {
	if len(data) < 5 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]
	if quantity < 1 || quantity > MaxCoilWriteQuantity || int(byteCount) != len(data)-5 || int(byteCount) != (int(quantity)+7)/8 {
		return nil, ExcIllegalDataValue
	}
	values := unpackBits(data[4:], int(quantity))
	for i, v := range values {
		vv := v
		if err := s.store.Coil(address+uint16(i), &vv, true); err != nil {
			return nil, ExcIllegalDataAddress
		}
	}
	return append([]byte(nil), data[0:4]...), 0
}

func (s *Slave) writeMultipleRegisters(data []byte) ([]byte, byte) {
	if len(data) < 5 {
		return nil, ExcIllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]
	if quantity < 1 || quantity > MaxRegisterWriteQuantity || int(byteCount) != len(data)-5 || int(byteCount) != int(quantity)*2 {
		return nil, ExcIllegalDataValue
	}
	values := unpackRegisters(data[4:])
	for i, v := range values {
		vv := v
		if err := s.store.Register(address+uint16(i), &vv, true); err != nil {
			return nil, ExcIllegalDataAddress
		}
	}
	return append([]byte(nil), data[0:4]...), 0
}
