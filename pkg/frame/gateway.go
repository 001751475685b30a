// Package frame implements the byte-level codecs shared by the gateway
// protocol and the Modbus RTU stack: CRC-16 checksums, frame assembly,
// and a resynchronizing parser. It owns no transport and no protocol
// semantics: callers hand it bytes and get frames back.
package frame

import (
	"encoding/binary"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

const (
	// StartByte is the gateway frame sentinel.
	StartByte = 0xAA

	// HeaderLen is the fixed header size: start(1) ver(1) src(1) dst(1)
	// type(1) seq(1) flags(1) len(2).
	HeaderLen = 9
	// CRCLen is the trailing CRC-16 size.
	CRCLen = 2
	// MaxGatewayPayload is the protocol's payload upper bound. Kept
	// distinct from MaxModbusADU; the two caps coincide today but
	// belong to unrelated protocols.
	MaxGatewayPayload = 256
	// MaxGatewayFrame is the total frame size ceiling.
	MaxGatewayFrame = HeaderLen + MaxGatewayPayload + CRCLen
)

// Flag bits carried in the gateway frame header.
type Flag uint8

const (
	FlagNone        Flag = 0
	FlagAckRequired Flag = 1 << 0
	FlagAck         Flag = 1 << 1
	FlagNack        Flag = 1 << 2
	FlagBroadcast   Flag = 1 << 3
)

// GatewayFrame is a fully parsed in-house gateway frame. Payload is a
// slice into the parser's internal buffer; callers that retain a frame
// past the next Parse call must copy Payload themselves.
type GatewayFrame struct {
	Version byte
	Src     byte
	Dst     byte
	Type    byte
	Seq     byte
	Flags   Flag
	Payload []byte
}

// BuildGateway assembles a complete, CRC-terminated gateway frame.
// Deterministic and total-length bounded; returns PayloadTooLarge if
// payload exceeds MaxGatewayPayload.
func BuildGateway(version, src, dst, msgType, seq byte, flags Flag, payload []byte) ([]byte, error) {
	if len(payload) > MaxGatewayPayload {
		return nil, gwerr.New(gwerr.PayloadTooLarge, "gateway payload exceeds protocol cap")
	}

	out := make([]byte, 0, HeaderLen+len(payload)+CRCLen)
	out = append(out, StartByte, version, src, dst, msgType, seq, byte(flags))
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(payload)))
	out = append(out, lenBuf...)
	out = append(out, payload...)

	crc := CRC16(out)
	crcBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBuf, crc)
	out = append(out, crcBuf...)
	return out, nil
}

// ParseResult reports the outcome of one ParseGateway call.
type ParseResult struct {
	Frame    *GatewayFrame
	Consumed int // bytes consumed from the input on this call
}

// ParseGateway consumes bytes from stream looking for one complete,
// CRC-valid frame. It returns (result, nil) on success, (nil,
// NeedMoreData-flavored nil consumed) when the stream holds an
// incomplete frame, or a *gwerr.Error of Kind Framing/CrcMismatch
// otherwise.
//
// On a framing error the caller is expected to discard exactly one byte
// and retry; ParseGateway itself never mutates stream. On CRC mismatch
// the caller skips the frame's exact byte span so trailing bytes are
// not re-examined (GatewayStream implements both recovery rules).
func ParseGateway(stream []byte) (*ParseResult, error) {
	// Resynchronize to the sentinel.
	start := -1
	for i, b := range stream {
		if b == StartByte {
			start = i
			break
		}
	}
	if start == -1 {
		// No sentinel anywhere: the whole buffer is noise.
		return nil, nil
	}
	if start > 0 {
		// Framing error: discard up to (not including) the sentinel,
		// one byte at a time, so callers can reprocess after the drop.
		return nil, gwerr.New(gwerr.Framing, "discarding byte before start sentinel")
	}

	if len(stream) < HeaderLen {
		return nil, nil // NeedMoreData
	}

	payloadLen := int(binary.LittleEndian.Uint16(stream[7:9]))
	if payloadLen > MaxGatewayPayload {
		// Cannot possibly be a valid frame at this offset; treat the
		// sentinel byte itself as noise and resync past it.
		return nil, gwerr.New(gwerr.Framing, "implausible payload length")
	}

	total := HeaderLen + payloadLen + CRCLen
	if len(stream) < total {
		return nil, nil // NeedMoreData
	}

	computed := CRC16(stream[:HeaderLen+payloadLen])
	received := binary.LittleEndian.Uint16(stream[HeaderLen+payloadLen : total])
	if computed != received {
		return nil, gwerr.New(gwerr.CrcMismatch, "gateway frame CRC mismatch")
	}

	payload := make([]byte, payloadLen)
	copy(payload, stream[HeaderLen:HeaderLen+payloadLen])

	gf := &GatewayFrame{
		Version: stream[1],
		Src:     stream[2],
		Dst:     stream[3],
		Type:    stream[4],
		Seq:     stream[5],
		Flags:   Flag(stream[6]),
		Payload: payload,
	}
	return &ParseResult{Frame: gf, Consumed: total}, nil
}
