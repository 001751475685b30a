package syncclient

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/storage"
)

const (
	pathTelemetryBatch = "/api/iot/v1/telemetry/batch"
	pathEventBatch     = "/api/iot/v1/event/batch"
)

// batchPathFor selects the upload endpoint by record type. Event
// records share the same batch semantics as telemetry, so they get a
// sibling endpoint rather than being folded into telemetry/batch.
func batchPathFor(t storage.FileType) string {
	if t == storage.FileTypeEvent {
		return pathEventBatch
	}
	return pathTelemetryBatch
}

// pendingBatch is the one in-flight batch a Client tracks per FileType,
// carrying the same X-Batch-Id across retries until it is acknowledged
// or bounded-dropped.
type pendingBatch struct {
	id          string
	fingerprint uint64
	records     []storage.Record
	refs        []storage.RecordRef
	attempts    int
	nextAttempt time.Time
}

// UploadResult reports what UploadOnce did on this call.
type UploadResult struct {
	Uploaded int // records newly acknowledged this call
	Dropped  int // records dropped this call (bounded-retry exhausted)
	Pending  bool
}

// pendingByType holds one in-flight batch per FileType so independent
// record streams (telemetry vs. events) retry independently.
type pendingByType struct {
	mu sync.Mutex
	m  map[storage.FileType]*pendingBatch
}

func (p *pendingByType) get(t storage.FileType) *pendingBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[t]
}

func (p *pendingByType) set(t storage.FileType, b *pendingBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[storage.FileType]*pendingBatch)
	}
	if b == nil {
		delete(p.m, t)
		return
	}
	p.m[t] = b
}

// UploadOnce assembles (or continues) one batch for typ from cursor and
// performs a single HTTP attempt against it. It is meant to be called
// once per scheduler tick; state for an in-flight batch persists across
// calls via c.pending so the same X-Batch-Id is reused until an
// acknowledging status resolves it.
func (c *Client) UploadOnce(ctx context.Context, cursor *storage.Cursor, typ storage.FileType, maxRecords int, now time.Time) (UploadResult, error) {
	if c.Paused() {
		return UploadResult{}, gwerr.New(gwerr.AuthRequired, "sync paused pending re-authentication")
	}

	pending := c.pending.get(typ)
	if pending == nil {
		records, refs, err := cursor.Peek(maxRecords)
		if err != nil {
			return UploadResult{}, err
		}
		if len(records) == 0 {
			return UploadResult{Pending: false}, nil
		}
		pending = &pendingBatch{id: uuid.NewString(), fingerprint: fingerprintBatch(records), records: records, refs: refs}
		c.pending.set(typ, pending)
	}

	if now.Before(pending.nextAttempt) {
		return UploadResult{Pending: true}, nil
	}

	body, err := encodeBatchBody(pending.records)
	if err != nil {
		return UploadResult{}, err
	}

	headers := map[string]string{
		"X-Batch-Id":          pending.id,
		"X-Batch-Fingerprint": strconv.FormatUint(pending.fingerprint, 16),
	}
	status, _, reqErr := c.doRequest(ctx, "POST", batchPathFor(typ), body, "application/octet-stream", headers)
	if reqErr != nil {
		pending.attempts++
		pending.nextAttempt = now.Add(c.nextBackoff())
		c.stats.recordRetried()
		return UploadResult{Pending: true}, nil
	}

	switch classifyStatus(status) {
	case actionSuccess:
		if err := cursor.Advance(pending.refs); err != nil {
			return UploadResult{}, err
		}
		c.resetBackoff()
		c.stats.recordUploaded(uint64(len(pending.records)))
		n := len(pending.records)
		c.pending.set(typ, nil)
		return UploadResult{Uploaded: n}, nil

	case actionPauseAuth:
		c.pauseForReauth()
		return UploadResult{Pending: true}, gwerr.New(gwerr.AuthRequired, "server requires re-authentication")

	case actionRetry:
		pending.attempts++
		pending.nextAttempt = now.Add(c.nextBackoff())
		c.stats.recordRetried()
		return UploadResult{Pending: true}, nil

	default: // actionDropBounded
		pending.attempts++
		if pending.attempts < c.opts.MaxDropAttempts {
			pending.nextAttempt = now.Add(c.nextBackoff())
			c.stats.recordRetried()
			return UploadResult{Pending: true}, nil
		}
		if c.log != nil {
			c.log.Printf("dropping batch %s for %s after %d attempts, server status %d", pending.id, typ, pending.attempts, status)
		}
		if err := cursor.Advance(pending.refs); err != nil {
			return UploadResult{}, err
		}
		c.resetBackoff()
		n := len(pending.records)
		c.stats.recordDropped()
		c.pending.set(typ, nil)
		return UploadResult{Dropped: n}, nil
	}
}

// encodeBatchBody concatenates each record's on-disk encoding (reusing
// storage.EncodeRecord so the wire and disk framing stay identical) and
// zstd-compresses the result as one block.
func encodeBatchBody(records []storage.Record) ([]byte, error) {
	var plain []byte
	for _, r := range records {
		plain = append(plain, storage.EncodeRecord(r)...)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CompressionFailed, "batch zstd writer init failed", err)
	}
	defer enc.Close()
	return enc.EncodeAll(plain, nil), nil
}

// fingerprintBatch hashes the ordered record sequence with xxhash,
// giving the batch a stable fingerprint independent of its batch_id.
func fingerprintBatch(records []storage.Record) uint64 {
	h := xxhash.New()
	for _, r := range records {
		_, _ = h.Write(storage.EncodeRecord(r))
	}
	return h.Sum64()
}
