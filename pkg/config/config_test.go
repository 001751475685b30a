package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejectsOutOfRangeCompressionLevel(t *testing.T) {
	o := Defaults()
	o.CompressionLevel = 23
	err := o.Validate()
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.ConfigInvalid))
}

func TestValidateRejectsBadParity(t *testing.T) {
	o := Defaults()
	o.BusParity = "X"
	require.Error(t, o.Validate())
}

func TestManagerLoadParsesParityFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus_parity: \"E\"\n"), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))
	assert.Equal(t, "E", m.Get().BusParity)
}

func TestValidateRejectsEmptyServerURL(t *testing.T) {
	o := Defaults()
	o.ServerURL = ""
	require.Error(t, o.Validate())
}

func TestManagerLoadReplacesWholesale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: https://example.test\nbus_baud: 9600\n"), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))

	got := m.Get()
	assert.Equal(t, "https://example.test", got.ServerURL)
	assert.EqualValues(t, 9600, got.BusBaud)
	// Fields absent from the file fall back to Defaults(), since Load
	// unmarshals onto a fresh Defaults() value rather than the old one.
	assert.EqualValues(t, 500, got.ResponseTimeoutMs)
}

func TestManagerLoadRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression_level: 99\n"), 0o644))

	m := NewManager()
	err := m.Load(path)
	require.Error(t, err)
	// A bad Load leaves the prior configuration live.
	assert.Equal(t, Defaults(), m.Get())
}

func TestManagerApplyPartialUpdate(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Apply([]byte("max_retries: 9\n")))

	got := m.Get()
	assert.EqualValues(t, 9, got.MaxRetries)
	// Untouched fields keep their previous value.
	assert.Equal(t, Defaults().ServerURL, got.ServerURL)
}

func TestManagerApplyRejectsUnknownKey(t *testing.T) {
	m := NewManager()
	before := m.Get()

	err := m.Apply([]byte("bogus_key: 1\n"))
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.ConfigInvalid))
	assert.Equal(t, before, m.Get())
}

func TestManagerApplyRejectsInvalidValueAndKeepsPriorConfig(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Apply([]byte("max_retries: 9\n")))
	before := m.Get()

	err := m.Apply([]byte("compression_level: 0\n"))
	require.Error(t, err)
	assert.Equal(t, before, m.Get())
}

func TestAPIKeyStringNeverLeaksValue(t *testing.T) {
	k := APIKey("super-secret")
	assert.Equal(t, "***", k.String())
}
