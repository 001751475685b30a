package modbus

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// loopbackEnd connects two endpoints through byte channels, the same
// double used by the gateway package's tests, duplicated here since it
// is unexported there.
type loopbackEnd struct {
	read  chan []byte
	write chan []byte
	rest  []byte
}

func newLoopback() (*loopbackEnd, *loopbackEnd) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &loopbackEnd{read: ba, write: ab}, &loopbackEnd{read: ab, write: ba}
}

func (e *loopbackEnd) Send(_ context.Context, data []byte, _ time.Time) error {
	cp := append([]byte(nil), data...)
	e.write <- cp
	return nil
}

func (e *loopbackEnd) Recv(_ context.Context, buf []byte, deadline time.Time) (int, error) {
	if len(e.rest) > 0 {
		n := copy(buf, e.rest)
		e.rest = e.rest[n:]
		return n, nil
	}
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	select {
	case data := <-e.read:
		n := copy(buf, data)
		if n < len(data) {
			e.rest = data[n:]
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (e *loopbackEnd) Close() error { return nil }

func newHarness() (*Master, *Slave, *ArrayDataStore, chan error) {
	masterEnd, slaveEnd := newLoopback()
	clock := transport.SystemClock{}
	masterBus := transport.NewBusArbiter(masterEnd, clock, 115200)
	slaveBus := transport.NewBusArbiter(slaveEnd, clock, 115200)

	store := NewArrayDataStore(16, 16)
	master := NewMaster(masterBus, clock, 115200, 500*time.Millisecond)
	slave := NewSlave(0x11, store, slaveBus, clock, 115200, log.Default())

	done := make(chan error, 1)
	return master, slave, store, done
}

// Master reads two registers a slave holds, getting back exactly the
// values it was seeded with.
func TestModbusReadHoldingRegistersEndToEnd(t *testing.T) {
	master, slave, store, done := newHarness()
	v0, v1 := uint16(10), uint16(20)
	require.NoError(t, store.Register(0, &v0, true))
	require.NoError(t, store.Register(1, &v1, true))

	go func() { done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second)) }()

	regs, err := master.ReadHoldingRegisters(context.Background(), 0x11, 0, 2)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, []uint16{10, 20}, regs)
	assert.Equal(t, uint64(1), slave.Stats().RequestsServed)
}

// Broadcast single-coil write: the slave applies the write but the bus
// never carries a response frame for it.
func TestModbusWriteSingleCoilBroadcast(t *testing.T) {
	master, slave, store, done := newHarness()

	go func() { done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second)) }()

	err := master.WriteSingleCoil(context.Background(), 0x00, 5, true)
	require.NoError(t, err)
	require.NoError(t, <-done)

	v := false
	require.NoError(t, store.Coil(5, &v, false))
	assert.True(t, v)
	assert.Equal(t, uint64(1), slave.Stats().BroadcastsServed)
	assert.Equal(t, uint64(0), slave.Stats().RequestsServed)
}

func TestModbusWriteSingleCoilUnicastValidatesEcho(t *testing.T) {
	master, slave, store, done := newHarness()

	go func() { done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second)) }()

	err := master.WriteSingleCoil(context.Background(), 0x11, 3, true)
	require.NoError(t, err)
	require.NoError(t, <-done)

	v := false
	require.NoError(t, store.Coil(3, &v, false))
	assert.True(t, v)
}

// Out-of-range quantities are rejected before any bus traffic or
// store access happens.
func TestModbusRangeValidationRejectsOversizedRequests(t *testing.T) {
	master, _, store, _ := newHarness()

	_, err := master.ReadHoldingRegisters(context.Background(), 0x11, 0, MaxRegisterReadQuantity+1)
	require.Error(t, err)

	err = master.WriteMultipleRegisters(context.Background(), 0x11, 0, make([]uint16, MaxRegisterWriteQuantity+1))
	require.Error(t, err)

	err = master.WriteMultipleCoils(context.Background(), 0x11, 0, make([]bool, MaxCoilWriteQuantity+1))
	require.Error(t, err)

	v := uint16(0)
	require.NoError(t, store.Register(0, &v, false))
	assert.Equal(t, uint16(0), v, "rejected request must not have touched the store")
}

// An out-of-range address elicits a standard exception response
// (function code with the high bit set, one exception byte).
func TestModbusIllegalDataAddressException(t *testing.T) {
	master, slave, _, done := newHarness()

	go func() { done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second)) }()

	_, err := master.ReadHoldingRegisters(context.Background(), 0x11, 100, 1)
	require.Error(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), slave.Stats().ExceptionsSent)
}

func TestModbusUnknownFunctionException(t *testing.T) {
	masterEnd, slaveEnd := newLoopback()
	clock := transport.SystemClock{}
	masterBus := transport.NewBusArbiter(masterEnd, clock, 115200)
	slaveBus := transport.NewBusArbiter(slaveEnd, clock, 115200)
	store := NewArrayDataStore(4, 4)
	slave := NewSlave(0x11, store, slaveBus, clock, 115200, log.Default())

	done := make(chan error, 1)
	go func() { done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second)) }()

	req, err := frame.BuildModbus(0x11, 0x07, nil)
	require.NoError(t, err)
	require.NoError(t, masterBus.Send(context.Background(), req, time.Now().Add(time.Second)))

	buf := make([]byte, 64)
	n, err := masterBus.Recv(context.Background(), buf, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, <-done)

	resp, err := frame.ParseModbus(buf[:n])
	require.NoError(t, err)
	assert.True(t, resp.IsException())
	assert.Equal(t, byte(0x07|frame.ExceptionBit), resp.Function)
	assert.Equal(t, []byte{ExcIllegalFunction}, resp.Data)
	assert.Equal(t, uint64(1), slave.Stats().ExceptionsSent)
}
