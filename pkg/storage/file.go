package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// ActiveFile is the append target for one FileType: an open AppendFile
// plus enough bookkeeping to enforce rotation and recovery.
type ActiveFile struct {
	Type      FileType
	Name      string
	CreatedAt uint32

	fs     transport.FileStore
	handle transport.AppendFile
	size   int64
}

// fileName extends the <TYPE>_<hex-timestamp>.dat layout with a
// priority segment, since the storage engine keeps one independent
// append-only log per priority tier to make retention a simple
// per-tier, oldest-file-first prune instead of a record-level rewrite
// of mixed-priority files.
func fileName(t FileType, p Priority, createdAt uint32) string {
	return fmt.Sprintf("%s-%s_%08x.dat", t, p, createdAt)
}

func sealName(name string) string { return name + ".seal" }

// OpenActiveFile creates (or reopens) the active file for t and
// priority p, recovering from any torn write left by a prior power
// loss.
func OpenActiveFile(fs transport.FileStore, t FileType, p Priority, createdAt uint32) (*ActiveFile, error) {
	name := fileName(t, p, createdAt)
	handle, err := fs.OpenAppend(name)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.StorageCorrupt, "open active file failed", err)
	}
	size, err := RecoverTornTail(fs, handle, name)
	if err != nil {
		handle.Close()
		return nil, err
	}
	return &ActiveFile{Type: t, Name: name, CreatedAt: createdAt, fs: fs, handle: handle, size: size}, nil
}

// RecoverTornTail scans name from the start, keeping every record whose
// length fits inside the file and whose CRC-32 verifies, and truncates
// the handle to drop a partial trailing record.
func RecoverTornTail(fs transport.FileStore, handle transport.AppendFile, name string) (int64, error) {
	reader, err := fs.Open(name)
	if err != nil {
		return 0, gwerr.Wrap(gwerr.StorageCorrupt, "open for recovery failed", err)
	}
	defer reader.Close()

	full, err := fs.Stat(name)
	if err != nil {
		return 0, gwerr.Wrap(gwerr.StorageCorrupt, "stat during recovery failed", err)
	}

	buf := make([]byte, full)
	if full > 0 {
		if _, err := reader.ReadAt(buf, 0); err != nil {
			return 0, gwerr.Wrap(gwerr.StorageCorrupt, "read during recovery failed", err)
		}
	}

	var good int64
	for good < full {
		n, err := decodeEntryLength(buf[good:])
		if err != nil {
			break // torn tail: stop at the last intact entry
		}
		good += int64(n)
	}

	if good < full {
		if err := handle.Truncate(good); err != nil {
			return 0, gwerr.Wrap(gwerr.StorageCorrupt, "truncate torn tail failed", err)
		}
	}
	return good, nil
}

// Append writes one encoded record and reports the file's new size.
func (f *ActiveFile) Append(r Record) (int64, error) {
	buf := EncodeRecord(r)
	n, err := f.handle.Write(buf)
	if err != nil {
		return f.size, gwerr.Wrap(gwerr.StorageCorrupt, "append write failed", err)
	}
	f.size += int64(n)
	return f.size, nil
}

// Sync flushes buffered writes to the backing store. Every rotation
// and deletion is preceded by one of these explicit sync points.
func (f *ActiveFile) Sync() error {
	if err := f.handle.Sync(); err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "sync failed", err)
	}
	return nil
}

// Size reports the current on-disk size.
func (f *ActiveFile) Size() int64 { return f.size }

// Seal finalizes the file: computes its whole-file SHA-256, writes the
// sibling marker, and closes the handle.
func (f *ActiveFile) Seal() error {
	if err := f.Sync(); err != nil {
		return err
	}
	reader, err := f.fs.Open(f.Name)
	if err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "open for seal failed", err)
	}
	defer reader.Close()

	buf := make([]byte, f.size)
	if f.size > 0 {
		if _, err := reader.ReadAt(buf, 0); err != nil {
			return gwerr.Wrap(gwerr.StorageCorrupt, "read for seal failed", err)
		}
	}
	sum := sha256.Sum256(buf)

	marker, err := f.fs.OpenAppend(sealName(f.Name))
	if err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "open seal marker failed", err)
	}
	defer marker.Close()
	if _, err := marker.Write([]byte(hex.EncodeToString(sum[:]))); err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "write seal marker failed", err)
	}
	if err := marker.Sync(); err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "sync seal marker failed", err)
	}
	return f.handle.Close()
}

// VerifySealed reports whether name's sibling .seal marker's recorded
// hash matches the file's current contents.
func VerifySealed(fs transport.FileStore, name string) (bool, error) {
	markerFile, err := fs.Open(sealName(name))
	if err != nil {
		return false, nil // no marker: not sealed, not necessarily invalid
	}
	defer markerFile.Close()

	markerSize, err := fs.Stat(sealName(name))
	if err != nil {
		return false, gwerr.Wrap(gwerr.StorageCorrupt, "stat seal marker failed", err)
	}
	markerBuf := make([]byte, markerSize)
	if _, err := markerFile.ReadAt(markerBuf, 0); err != nil {
		return false, gwerr.Wrap(gwerr.StorageCorrupt, "read seal marker failed", err)
	}

	size, err := fs.Stat(name)
	if err != nil {
		return false, gwerr.Wrap(gwerr.StorageCorrupt, "stat sealed file failed", err)
	}
	reader, err := fs.Open(name)
	if err != nil {
		return false, gwerr.Wrap(gwerr.StorageCorrupt, "open sealed file failed", err)
	}
	defer reader.Close()
	buf := make([]byte, size)
	if size > 0 {
		if _, err := reader.ReadAt(buf, 0); err != nil {
			return false, gwerr.Wrap(gwerr.StorageCorrupt, "read sealed file failed", err)
		}
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]) == string(markerBuf), nil
}
