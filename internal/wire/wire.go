package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("swrcache: corrupt entry")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

// Entry is the stored representation of one cache value.
// CachedAt is seconds since the Unix epoch; TTL and Stale are durations in
// seconds relative to CachedAt. Encode/Decode own the byte layout; callers
// never touch raw frames.
type Entry struct {
	CachedAt  int64
	TTLSecs   uint32
	StaleSecs uint32
	Payload   []byte
}

// ExpiresAt is the hard-expiry instant. Entries past it are treated as misses.
func (e Entry) ExpiresAt() time.Time {
	return time.Unix(e.CachedAt, 0).Add(time.Duration(e.TTLSecs) * time.Second)
}

// StaleAt is the instant after which the entry is servable but stale.
func (e Entry) StaleAt() time.Time {
	return time.Unix(e.CachedAt, 0).Add(time.Duration(e.StaleSecs) * time.Second)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | kind(1=entry) | cachedAt(i64 be) | ttl(u32 be) | stale(u32 be) | vlen(u32 be) | payload(vlen)
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + 4 + 4 + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.CachedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], e.TTLSecs)
	buf.Write(u4[:])

	binary.BigEndian.PutUint32(u4[:], e.StaleSecs)
	buf.Write(u4[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Decode validates framing strictly: wrong magic/version/kind, truncation,
// or trailing bytes all yield ErrCorrupt so callers can self-heal.
func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 4 + 4 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6

	cachedAt := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	ttl := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	stale := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off { // strict: no trailing bytes
		return Entry{}, ErrCorrupt
	}

	return Entry{
		CachedAt:  cachedAt,
		TTLSecs:   ttl,
		StaleSecs: stale,
		Payload:   b[off : off+vlen],
	}, nil
}
