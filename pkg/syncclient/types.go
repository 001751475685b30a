// Package syncclient assembles batches from the storage cursor,
// performs authenticated HTTP(S) uploads, classifies the server's
// response, and retries with backoff while preserving the idempotency
// key across attempts.
package syncclient

import (
	"strings"
	"time"
)

// Options configures one Client (the server_url/api_key/use_https
// subset of the gateway configuration).
type Options struct {
	ServerURL      string
	APIKey         string
	UseHTTPS       bool
	DeviceID       string
	RequestTimeout time.Duration

	// MaxDropAttempts bounds the retries before a 400-class (non-auth,
	// non-408/409/429) batch is logged and dropped rather than retried
	// forever; the cursor then advances past those records.
	MaxDropAttempts int

	// MaxResponseBytes bounds how much of a response body the client
	// will buffer. A body larger than this is TransportFatal, not
	// silently truncated.
	MaxResponseBytes int64
}

// DefaultOptions returns sane defaults for the bounds the gateway
// configuration does not set directly.
func DefaultOptions() Options {
	return Options{
		RequestTimeout:   10 * time.Second,
		MaxDropAttempts:  5,
		MaxResponseBytes: 1 << 20,
	}
}

// baseURL prefixes ServerURL with the scheme use_https selects. A
// ServerURL that already carries a scheme wins over use_https, so an
// operator pasting a full URL into server_url does not end up with
// "https://https://...".
func (o Options) baseURL() string {
	if strings.Contains(o.ServerURL, "://") {
		return o.ServerURL
	}
	scheme := "http"
	if o.UseHTTPS {
		scheme = "https"
	}
	return scheme + "://" + o.ServerURL
}

// action classifies one HTTP response (or transport failure) into the
// response policy: acknowledge, bounded drop, auth pause, or retry.
type action int

const (
	actionSuccess action = iota
	actionDropBounded
	actionPauseAuth
	actionRetry
)

func classifyStatus(code int) action {
	switch {
	case code >= 200 && code < 300:
		return actionSuccess
	case code == 409:
		// A duplicate X-Batch-Id the server has already committed is
		// functionally an acknowledgment (the server deduplicates by
		// batch id), so treat it the same as 2xx rather than as a
		// generic 400-class drop.
		return actionSuccess
	case code == 401 || code == 403:
		return actionPauseAuth
	case code == 408 || code == 429:
		return actionRetry
	case code >= 500:
		return actionRetry
	default:
		return actionDropBounded
	}
}
