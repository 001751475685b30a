// Package gwerr defines the error taxonomy shared by every subsystem of
// the gateway core: frame codec, gateway protocol engine, Modbus RTU
// engine, storage engine, and sync client.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the propagation policy described in the
// design (recoverable, structural, or terminal).
type Kind int

const (
	// Framing indicates the byte stream could not be resynchronized to a
	// frame boundary; structural, never retried, never NACKed (no valid
	// source address is known yet).
	Framing Kind = iota
	// CrcMismatch indicates a complete frame was received but its
	// checksum did not verify; recoverable, retried locally.
	CrcMismatch
	// PayloadTooLarge indicates a caller tried to build a frame whose
	// payload exceeds the protocol cap.
	PayloadTooLarge
	// UnknownFunction indicates a Modbus function code or gateway message
	// type has no registered handler; structural.
	UnknownFunction
	// IllegalDataAddress indicates a Modbus request referenced an
	// address outside the configured data map; structural.
	IllegalDataAddress
	// IllegalDataValue indicates a Modbus request quantity or value
	// violated the per-function range; structural.
	IllegalDataValue
	// BusTimeout indicates a deadline expired waiting on the shared
	// RS-485 bus; recoverable.
	BusTimeout
	// PeerNack indicates the remote end explicitly rejected a request;
	// recoverable.
	PeerNack
	// StorageFull indicates free capacity is exhausted and only
	// critical-priority records are still being accepted; terminal for
	// normal/low writers, not for critical ones.
	StorageFull
	// StorageCorrupt indicates a file failed its integrity invariants
	// beyond what torn-write recovery can repair; terminal.
	StorageCorrupt
	// CompressionFailed indicates a compression or decompression pass
	// failed; terminal for the affected block.
	CompressionFailed
	// AuthRequired indicates the sync client must pause and perform the
	// re-authentication handshake before any further upload.
	AuthRequired
	// TransportRetryable indicates a network or 5xx/408/429 condition
	// that should be retried with backoff.
	TransportRetryable
	// TransportFatal indicates a transport condition that cannot be
	// retried (e.g. an oversized response body); terminal.
	TransportFatal
	// ConfigInvalid indicates a configuration update was rejected;
	// terminal for that update, the prior configuration remains active.
	ConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case Framing:
		return "Framing"
	case CrcMismatch:
		return "CrcMismatch"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case UnknownFunction:
		return "UnknownFunction"
	case IllegalDataAddress:
		return "IllegalDataAddress"
	case IllegalDataValue:
		return "IllegalDataValue"
	case BusTimeout:
		return "BusTimeout"
	case PeerNack:
		return "PeerNack"
	case StorageFull:
		return "StorageFull"
	case StorageCorrupt:
		return "StorageCorrupt"
	case CompressionFailed:
		return "CompressionFailed"
	case AuthRequired:
		return "AuthRequired"
	case TransportRetryable:
		return "TransportRetryable"
	case TransportFatal:
		return "TransportFatal"
	case ConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across subsystem boundaries.
// It wraps an optional cause so errors.Is/errors.As keep working.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error that wraps cause. If cause is nil, Wrap returns nil
// so callers can write `return gwerr.Wrap(Kind, "...", err)` unconditionally.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether err's Kind is handled locally with
// retry/backoff rather than surfaced to the scheduler.
func Recoverable(kind Kind) bool {
	switch kind {
	case CrcMismatch, BusTimeout, TransportRetryable, PeerNack:
		return true
	default:
		return false
	}
}

// Structural reports whether err's Kind elicits a protocol-level
// response (NACK or Modbus exception) without retry.
func Structural(kind Kind) bool {
	switch kind {
	case Framing, UnknownFunction, IllegalDataAddress, IllegalDataValue:
		return true
	default:
		return false
	}
}

// Terminal reports whether err's Kind should pause the affected
// subsystem and emit a user-visible event.
func Terminal(kind Kind) bool {
	switch kind {
	case StorageCorrupt, TransportFatal, ConfigInvalid:
		return true
	default:
		return false
	}
}
