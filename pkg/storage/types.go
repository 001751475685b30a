// Package storage makes protocol engine output durable under power loss:
// append-only record files, compression, rotation, torn-write recovery,
// and priority-tiered retention, with a cursor the sync client advances
// only on server acknowledgment.
package storage

import "fmt"

// Priority orders both retention and upload. Critical records are
// preserved until acknowledged or until storage is exhausted.
type Priority byte

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", byte(p))
	}
}

// FileType tags a storage file by the kind of record it holds, selecting
// both its directory and its upload endpoint.
type FileType byte

const (
	FileTypeData FileType = iota
	FileTypeEvent
	FileTypeConfig
	FileTypeLog
	FileTypeFirmware
)

func (t FileType) String() string {
	switch t {
	case FileTypeData:
		return "data"
	case FileTypeEvent:
		return "event"
	case FileTypeConfig:
		return "config"
	case FileTypeLog:
		return "log"
	case FileTypeFirmware:
		return "firmware"
	default:
		return fmt.Sprintf("filetype(%d)", byte(t))
	}
}

// Record is the unit of durable storage and upload.
type Record struct {
	Timestamp uint32 // seconds since epoch
	Seq       uint64 // monotonic per device
	Priority  Priority
	Payload   []byte
	Metadata  string
}
