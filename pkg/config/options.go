// Package config implements the typed options set the core consumes:
// YAML-sourced defaults, flag overrides for the deployment-level
// settings, and an atomic partial-update path that rejects unknown keys
// outright rather than silently ignoring them.
package config

import (
	"fmt"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// APIKey is an opaque bearer credential. Its String method never prints
// the value, so a stray %v in a log line cannot leak it.
type APIKey string

func (APIKey) String() string { return "***" }

// Options is the full typed configuration surface recognized by the
// core. Every field corresponds 1:1 to a key in that section; the
// yaml tag is also the key accepted by Apply's partial-update patches.
type Options struct {
	BusBaud                 uint32 `yaml:"bus_baud"`
	BusParity               string `yaml:"bus_parity"`
	ResponseTimeoutMs       uint32 `yaml:"response_timeout_ms"`
	MaxRetries              uint8  `yaml:"max_retries"`
	EnableCompression       bool   `yaml:"enable_compression"`
	CompressionLevel        uint32 `yaml:"compression_level"`
	MaxFileSizeBytes        uint32 `yaml:"max_file_size_bytes"`
	CleanupThresholdPercent uint8  `yaml:"cleanup_threshold_percent"`
	ServerURL               string `yaml:"server_url"`
	APIKey                  APIKey `yaml:"api_key"`
	UseHTTPS                bool   `yaml:"use_https"`
}

// Defaults returns the baseline values for the full options surface.
func Defaults() Options {
	return Options{
		BusBaud:                 115200,
		BusParity:               "N",
		ResponseTimeoutMs:       500,
		MaxRetries:              5,
		EnableCompression:       true,
		CompressionLevel:        3,
		MaxFileSizeBytes:        4 << 20,
		CleanupThresholdPercent: 85,
		ServerURL:               "localhost",
		UseHTTPS:                true,
	}
}

// allowedKeys is the set of yaml keys Apply will accept in a patch; any
// other key is ConfigInvalid.
var allowedKeys = map[string]bool{
	"bus_baud":                  true,
	"bus_parity":                true,
	"response_timeout_ms":       true,
	"max_retries":               true,
	"enable_compression":        true,
	"compression_level":         true,
	"max_file_size_bytes":       true,
	"cleanup_threshold_percent": true,
	"server_url":                true,
	"api_key":                   true,
	"use_https":                 true,
}

// Validate checks every field's range invariants (compression level
// 1..22, parity N/E/O, nonzero timeouts and sizes).
func (o Options) Validate() error {
	if o.CompressionLevel < 1 || o.CompressionLevel > 22 {
		return gwerr.New(gwerr.ConfigInvalid, fmt.Sprintf("compression_level %d out of range 1..22", o.CompressionLevel))
	}
	if o.CleanupThresholdPercent > 100 {
		return gwerr.New(gwerr.ConfigInvalid, fmt.Sprintf("cleanup_threshold_percent %d exceeds 100", o.CleanupThresholdPercent))
	}
	switch o.BusParity {
	case "N", "E", "O":
	default:
		return gwerr.New(gwerr.ConfigInvalid, fmt.Sprintf("bus_parity %q not one of N/E/O", o.BusParity))
	}
	if o.ResponseTimeoutMs == 0 {
		return gwerr.New(gwerr.ConfigInvalid, "response_timeout_ms must be nonzero")
	}
	if o.MaxFileSizeBytes == 0 {
		return gwerr.New(gwerr.ConfigInvalid, "max_file_size_bytes must be nonzero")
	}
	if o.ServerURL == "" {
		return gwerr.New(gwerr.ConfigInvalid, "server_url must not be empty")
	}
	return nil
}
