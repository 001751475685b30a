package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Parity mirrors the subset of parities the configuration interface
// exposes.
type Parity rune

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

func (p Parity) toLibrary() serial.Parity {
	switch p {
	case ParityEven:
		return serial.EvenParity
	case ParityOdd:
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

// SerialBus implements Bus over a real RS-485 UART using go.bug.st/serial.
// Deadlines are enforced with the library's per-operation read timeout
// rather than a context-cancelable goroutine, preferring a blocking read
// loop over select-based cancellation.
type SerialBus struct {
	port serial.Port
}

// OpenSerialBus opens device at baud/parity with 8 data bits and 1 stop
// bit, the RTU-standard framing.
func OpenSerialBus(device string, baud int, parity Parity) (*SerialBus, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   parity.toLibrary(),
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return &SerialBus{port: port}, nil
}

func (s *SerialBus) Send(_ context.Context, data []byte, deadline time.Time) error {
	if err := s.setTimeout(deadline); err != nil {
		return err
	}
	_, err := s.port.Write(data)
	return err
}

func (s *SerialBus) Recv(_ context.Context, buf []byte, deadline time.Time) (int, error) {
	if err := s.setTimeout(deadline); err != nil {
		return 0, err
	}
	return s.port.Read(buf)
}

func (s *SerialBus) setTimeout(deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	return s.port.SetReadTimeout(remaining)
}

func (s *SerialBus) Close() error { return s.port.Close() }
