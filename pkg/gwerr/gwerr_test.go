package gwerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	inner := New(CrcMismatch, "frame checksum failed")
	outer := fmt.Errorf("poll: %w", inner)

	assert.True(t, Is(outer, CrcMismatch))
	assert.False(t, Is(outer, BusTimeout))
	assert.False(t, Is(errors.New("plain"), CrcMismatch))
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	err := Wrap(StorageCorrupt, "sync failed", nil)
	assert.Nil(t, err)
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("device busy")
	err := Wrap(BusTimeout, "send failed", cause)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestPropagationPolicyPartitions(t *testing.T) {
	recoverable := []Kind{CrcMismatch, BusTimeout, TransportRetryable, PeerNack}
	structural := []Kind{Framing, UnknownFunction, IllegalDataAddress, IllegalDataValue}
	terminal := []Kind{StorageCorrupt, TransportFatal, ConfigInvalid}

	for _, k := range recoverable {
		assert.True(t, Recoverable(k), k.String())
		assert.False(t, Structural(k), k.String())
		assert.False(t, Terminal(k), k.String())
	}
	for _, k := range structural {
		assert.True(t, Structural(k), k.String())
		assert.False(t, Recoverable(k), k.String())
	}
	for _, k := range terminal {
		assert.True(t, Terminal(k), k.String())
		assert.False(t, Recoverable(k), k.String())
	}

	// StorageFull is deliberately none of the three: the engine keeps
	// accepting critical records, so it is neither retried, answered,
	// nor a subsystem pause by itself.
	assert.False(t, Recoverable(StorageFull))
	assert.False(t, Structural(StorageFull))
	assert.False(t, Terminal(StorageFull))
}
