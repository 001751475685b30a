package frame

import (
	"bytes"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// GatewayStream accumulates bytes from a transport and yields complete,
// validated gateway frames, resynchronizing on framing errors and
// skipping past CRC-invalid frames without re-examining their bytes.
// This is the stream-level counterpart to the single-shot ParseGateway:
// framing errors discard exactly one byte and continue, CRC errors skip
// the frame's span without consuming trailing bytes beyond it.
type GatewayStream struct {
	buf []byte
}

// Feed appends newly read bytes to the stream's internal buffer.
func (s *GatewayStream) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts the next available frame, if any. It returns (frame,
// true, nil) on success, (nil, false, nil) when more bytes are needed,
// (nil, true, nil) when one framing-noise byte was discarded, and
// (nil, true, err) when a CrcMismatch was found and skipped. Whenever
// progressed is true the caller should call Next again immediately to
// keep draining the buffer, counting the framing and CRC faults as it
// goes.
func (s *GatewayStream) Next() (frame *GatewayFrame, progressed bool, err error) {
	res, perr := ParseGateway(s.buf)
	if perr == nil {
		if res == nil {
			// NeedMoreData, but a buffer with no sentinel at all can
			// never become a frame, so drop it rather than letting
			// noise accumulate unboundedly.
			if bytes.IndexByte(s.buf, StartByte) < 0 {
				s.buf = s.buf[:0]
			}
			return nil, false, nil
		}
		s.buf = s.buf[res.Consumed:]
		return res.Frame, true, nil
	}

	gerr, _ := perr.(*gwerr.Error)
	if gerr != nil && gerr.Kind == gwerr.Framing {
		if len(s.buf) == 0 {
			return nil, false, nil
		}
		s.buf = s.buf[1:]
		return nil, true, nil
	}
	if gerr != nil && gerr.Kind == gwerr.CrcMismatch {
		// Skip exactly this frame's span (header + declared payload
		// length + crc), already known to be in-bounds because
		// ParseGateway only raises CrcMismatch once the full candidate
		// frame is present.
		payloadLen := int(s.buf[7]) | int(s.buf[8])<<8
		total := HeaderLen + payloadLen + CRCLen
		if total > len(s.buf) {
			total = len(s.buf)
		}
		s.buf = s.buf[total:]
		return nil, true, perr
	}
	return nil, false, perr
}

// Len reports the number of buffered, unconsumed bytes.
func (s *GatewayStream) Len() int { return len(s.buf) }
