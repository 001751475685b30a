package syncclient

import (
	"context"
	"net/url"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

const (
	pathOTACheck  = "/api/iot/v1/ota/check"
	pathOTAReport = "/api/iot/v1/ota/report"
	pathConfig    = "/api/iot/v1/config"
)

// OTAUpdateDescriptor is returned by CheckOTA when a newer firmware
// build is available.
type OTAUpdateDescriptor struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type otaCheckResponse struct {
	UpToDate bool                 `json:"up_to_date"`
	Update   *OTAUpdateDescriptor `json:"update,omitempty"`
}

// CheckOTA asks whether version has a newer release available.
func (c *Client) CheckOTA(ctx context.Context, version string) (*OTAUpdateDescriptor, error) {
	if c.Paused() {
		return nil, gwerr.New(gwerr.AuthRequired, "sync paused pending re-authentication")
	}
	path := pathOTACheck + "?version=" + url.QueryEscape(version)
	status, body, err := c.doRequest(ctx, "GET", path, nil, "", nil)
	if err != nil {
		return nil, err
	}
	switch classifyStatus(status) {
	case actionSuccess:
		var resp otaCheckResponse
		if err := decodeJSON(body, &resp); err != nil {
			return nil, err
		}
		c.resetBackoff()
		if resp.UpToDate {
			return nil, nil
		}
		return resp.Update, nil
	case actionPauseAuth:
		c.pauseForReauth()
		return nil, gwerr.New(gwerr.AuthRequired, "server requires re-authentication")
	default:
		return nil, gwerr.New(gwerr.TransportRetryable, "ota check failed")
	}
}

type otaReportRequest struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ReportOTA posts the outcome of an applied (or failed) update.
func (c *Client) ReportOTA(ctx context.Context, status string, errMsg string, now time.Time) error {
	if c.Paused() {
		return gwerr.New(gwerr.AuthRequired, "sync paused pending re-authentication")
	}
	body, err := encodeJSON(otaReportRequest{Status: status, Error: errMsg, Timestamp: now.Unix()})
	if err != nil {
		return err
	}
	statusCode, _, err := c.doRequest(ctx, "POST", pathOTAReport, body, "application/json", nil)
	if err != nil {
		return err
	}
	switch classifyStatus(statusCode) {
	case actionSuccess:
		c.resetBackoff()
		c.stats.recordOTAReport()
		return nil
	case actionPauseAuth:
		c.pauseForReauth()
		return gwerr.New(gwerr.AuthRequired, "server requires re-authentication")
	default:
		return gwerr.New(gwerr.TransportRetryable, "ota report rejected")
	}
}

// FetchConfig retrieves the opaque configuration blob the server holds
// for this device. The caller is expected
// to hand the bytes to the configuration collaborator (pkg/config) via
// Manager.Apply; syncclient does not interpret them.
func (c *Client) FetchConfig(ctx context.Context) ([]byte, error) {
	if c.Paused() {
		return nil, gwerr.New(gwerr.AuthRequired, "sync paused pending re-authentication")
	}
	status, body, err := c.doRequest(ctx, "GET", pathConfig, nil, "", nil)
	if err != nil {
		return nil, err
	}
	switch classifyStatus(status) {
	case actionSuccess:
		c.resetBackoff()
		return body, nil
	case actionPauseAuth:
		c.pauseForReauth()
		return nil, gwerr.New(gwerr.AuthRequired, "server requires re-authentication")
	default:
		return nil, gwerr.New(gwerr.TransportRetryable, "config fetch failed")
	}
}
