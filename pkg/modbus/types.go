// Package modbus implements the standard Modbus RTU function codes
// 0x01-0x06, 0x0F, 0x10 in both master and slave roles over the same
// RS-485 transport the gateway protocol shares.
package modbus

// Function codes.
const (
	FuncReadCoils              = 0x01
	FuncReadDiscreteInputs     = 0x02
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleCoil        = 0x05
	FuncWriteSingleRegister    = 0x06
	FuncWriteMultipleCoils     = 0x0F
	FuncWriteMultipleRegisters = 0x10
)

// Exception codes per the Modbus Application Protocol.
const (
	ExcIllegalFunction    = 0x01
	ExcIllegalDataAddress = 0x02
	ExcIllegalDataValue   = 0x03
	ExcSlaveDeviceFailure = 0x04
)

// Per-function quantity limits.
const (
	MaxCoilReadQuantity      = 2000
	MaxRegisterReadQuantity  = 125
	MaxCoilWriteQuantity     = 1968
	MaxRegisterWriteQuantity = 123
)

// CoilOnHigh/CoilOffHigh are the high bytes of the wire values for a
// single coil write (0xFF00 for on, 0x0000 for off).
const (
	CoilOnHigh  = 0xFF
	CoilOffHigh = 0x00
)
