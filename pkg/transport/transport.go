// Package transport defines the capability surface the protocol engines
// depend on instead of touching UART hardware directly. Real backends
// (pkg/transport/serial.go) and test doubles both implement Bus.
package transport

import (
	"context"
	"time"
)

// Bus is the minimal capability interface the gateway and Modbus
// engines require from the physical link. Implementations must be safe
// for concurrent Send/Recv only to the extent the caller's own
// BusArbiter serializes them; Bus itself does not need to be
// thread-safe.
type Bus interface {
	// Send writes bytes, blocking at most until deadline.
	Send(ctx context.Context, data []byte, deadline time.Time) error
	// Recv reads into buf, blocking at most until deadline. It returns
	// the number of bytes read, which may be less than len(buf) on
	// deadline expiry without that being an error by itself; callers
	// distinguish "0 bytes, deadline passed" from a hard I/O error.
	Recv(ctx context.Context, buf []byte, deadline time.Time) (int, error)
	// Close releases the underlying device.
	Close() error
}

// Clock abstracts time so tests can control it; the bus arbiter and the
// protocol engines read time through it instead of calling
// time.Now()/time.Sleep() directly.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time     { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// FileStore is the narrow file-system-like capability the storage
// engine depends on: append/sync/list/delete, plus Stat and Open for
// reading files back. A real
// backend wraps *os.File; tests can substitute an in-memory one.
type FileStore interface {
	// OpenAppend opens (creating if absent) name for append-only writes.
	OpenAppend(name string) (AppendFile, error)
	// List returns file names in no particular order.
	List() ([]string, error)
	// Delete removes a file. Deleting a nonexistent file is not an error.
	Delete(name string) error
	// Stat returns the current size of name, or an error if absent.
	Stat(name string) (int64, error)
	// Open opens name for reading from the start.
	Open(name string) (ReadFile, error)
}

// AppendFile is a handle opened via FileStore.OpenAppend.
type AppendFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
	Truncate(size int64) error
	Size() (int64, error)
}

// ReadFile is a handle opened via FileStore.Open.
type ReadFile interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}
