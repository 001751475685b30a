package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// Client performs authenticated HTTP(S) uploads against the cloud
// backend. One Client instance is shared across the batch, heartbeat,
// and OTA report paths so they share one backoff state machine and one
// bearer credential.
type Client struct {
	opts Options
	http *http.Client
	log  *log.Logger

	mu         sync.Mutex
	token      string
	tokenExp   time.Time
	authPaused bool

	backoff backoff.BackOff
	stats   Stats
	pending pendingByType
}

// New constructs a Client. The returned backoff state is shared by
// every upload/heartbeat/report path, initial interval 1s, cap 5min.
func New(opts Options, logger *log.Logger) *Client {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 5 * time.Minute
	eb.MaxElapsedTime = 0 // retried indefinitely; bounding is per-batch, not per-backoff
	eb.RandomizationFactor = 1.0 // widest jitter the library supports, approximating full jitter

	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		log:     logger,
		backoff: eb,
	}
}

// Stats returns a point-in-time snapshot of this client's counters.
func (c *Client) Stats() Stats { return c.stats.Snapshot() }

// Paused reports whether the client is waiting on re-authentication.
func (c *Client) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authPaused
}

// authHeader returns the bearer credential to send, preferring the
// token obtained from Handshake but falling back to the statically
// configured api_key so the client can make its very first
// request (including the handshake itself) before any token has been
// issued.
func (c *Client) authHeader() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return "Bearer " + c.token, true
	}
	if c.opts.APIKey != "" {
		return "Bearer " + c.opts.APIKey, true
	}
	return "", false
}

// nextBackoff returns the next retry delay from the shared backoff
// state machine.
func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.NextBackOff()
}

// resetBackoff is called on every successful request.
func (c *Client) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff.Reset()
}

// doRequest issues one HTTP request with the bearer credential attached
// (if any) and reads the response body up to opts.MaxResponseBytes,
// returning TransportFatal rather than silently truncating an oversized
// body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, contentType string, headers map[string]string) (status int, respBody []byte, err error) {
	url := c.opts.baseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, gwerr.Wrap(gwerr.TransportFatal, "build request failed", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 {
		req.ContentLength = int64(len(body))
	}
	if auth, ok := c.authHeader(); ok {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.stats.recordNetworkError()
		return 0, nil, gwerr.Wrap(gwerr.TransportRetryable, "http request failed", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.opts.MaxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return resp.StatusCode, nil, gwerr.Wrap(gwerr.TransportFatal, "read response body failed", err)
	}
	if int64(len(data)) > c.opts.MaxResponseBytes {
		c.stats.recordOversizedBody()
		return resp.StatusCode, nil, gwerr.New(gwerr.TransportFatal, "response body exceeds configured limit")
	}
	return resp.StatusCode, data, nil
}

func decodeJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return gwerr.Wrap(gwerr.TransportFatal, "malformed json response", err)
	}
	return nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.TransportFatal, fmt.Sprintf("encode %T failed", v), err)
	}
	return data, nil
}
