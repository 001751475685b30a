package syncclient

import (
	"context"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

const pathHeartbeat = "/api/iot/v1/heartbeat"

type heartbeatRequest struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat posts a low-priority liveness ping. It shares this
// Client's backoff state and auth credential with the batch upload
// path, but never queues: a failed heartbeat is simply skipped until
// the next scheduler tick calls it again.
func (c *Client) Heartbeat(ctx context.Context, status string, now time.Time) error {
	if c.Paused() {
		return gwerr.New(gwerr.AuthRequired, "sync paused pending re-authentication")
	}
	body, err := encodeJSON(heartbeatRequest{Status: status, Timestamp: now.Unix()})
	if err != nil {
		return err
	}
	statusCode, _, err := c.doRequest(ctx, "POST", pathHeartbeat, body, "application/json", nil)
	if err != nil {
		return err
	}
	switch classifyStatus(statusCode) {
	case actionSuccess:
		c.resetBackoff()
		c.stats.recordHeartbeat()
		return nil
	case actionPauseAuth:
		c.pauseForReauth()
		return gwerr.New(gwerr.AuthRequired, "server requires re-authentication")
	default:
		return gwerr.New(gwerr.TransportRetryable, "heartbeat rejected")
	}
}
