package modbus

import "github.com/newmatik/esocore-gatewaycore/pkg/gwerr"

// DataStore is the capability interface a slave's function handlers
// delegate to: two operations (read, write) over (address, value),
// passed in at construction time. Implementations may back
// coils/registers with real I/O; ArrayDataStore below is the
// array-backed implementation. NewSlave uses exactly the store it is
// given and does not fall back to another one.
type DataStore interface {
	Coil(addr uint16, value *bool, write bool) error
	Register(addr uint16, value *uint16, write bool) error
}

// ArrayDataStore is a fixed-capacity array-backed DataStore, sized from
// configuration at construction rather than growing at runtime.
// It is used only where a caller passes it in; there is no per-address
// callback registration and no automatic fallback to this store.
type ArrayDataStore struct {
	coils     []bool
	registers []uint16
}

// NewArrayDataStore allocates fixed-size coil and register arrays.
func NewArrayDataStore(coilCount, registerCount int) *ArrayDataStore {
	return &ArrayDataStore{
		coils:     make([]bool, coilCount),
		registers: make([]uint16, registerCount),
	}
}

func (s *ArrayDataStore) Coil(addr uint16, value *bool, write bool) error {
	if int(addr) >= len(s.coils) {
		return gwerr.New(gwerr.IllegalDataAddress, "coil address out of range")
	}
	if write {
		s.coils[addr] = *value
	} else {
		*value = s.coils[addr]
	}
	return nil
}

func (s *ArrayDataStore) Register(addr uint16, value *uint16, write bool) error {
	if int(addr) >= len(s.registers) {
		return gwerr.New(gwerr.IllegalDataAddress, "register address out of range")
	}
	if write {
		s.registers[addr] = *value
	} else {
		*value = s.registers[addr]
	}
	return nil
}
