package syncclient

import (
	"context"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

const pathAuthHandshake = "/api/iot/v1/auth/handshake"

type handshakeRequest struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

type handshakeResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Handshake posts the device identifier and timestamp and stores the
// returned bearer credential opaquely. On success it also clears any
// prior auth pause, resuming uploads.
func (c *Client) Handshake(ctx context.Context, now time.Time) error {
	body, err := encodeJSON(handshakeRequest{DeviceID: c.opts.DeviceID, Timestamp: now.Unix()})
	if err != nil {
		return err
	}

	status, respBody, err := c.doRequest(ctx, "POST", pathAuthHandshake, body, "application/json", nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return gwerr.New(gwerr.AuthRequired, "handshake rejected by server")
	}

	var resp handshakeResponse
	if err := decodeJSON(respBody, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return gwerr.New(gwerr.AuthRequired, "handshake response carried no token")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.tokenExp = time.Unix(resp.ExpiresAt, 0)
	c.authPaused = false
	c.mu.Unlock()

	c.stats.recordHandshake()
	return nil
}

// pauseForReauth marks the client paused pending a fresh Handshake;
// nothing is uploaded and no cursor advances until it succeeds.
func (c *Client) pauseForReauth() {
	c.mu.Lock()
	c.authPaused = true
	c.mu.Unlock()
	c.stats.recordAuthPause()
}
