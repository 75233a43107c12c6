// Package pack implements git's packfile wire format: the fixed header,
// variable-length entry headers, zlib-compressed entry payloads, delta
// application, and pack generation. Framing is byte-exact with upstream
// git; any divergence breaks interoperability with real clients.
package pack

import (
	"encoding/binary"
	"fmt"

	"github.com/odvcencio/gitcell/pkg/object"
)

const (
	headerSize  = 12
	trailerSize = 20 // SHA-1

	// Pack stream versions git emits. Both share the same layout.
	versionMin = 2
	versionMax = 3

	writeVersion = 2
)

var magic = [4]byte{'P', 'A', 'C', 'K'}

// EntryType is the 3-bit object type code in pack entry headers.
type EntryType uint8

const (
	EntryCommit   EntryType = 1
	EntryTree     EntryType = 2
	EntryBlob     EntryType = 3
	EntryTag      EntryType = 4
	EntryOfsDelta EntryType = 6
	EntryRefDelta EntryType = 7
)

// ObjectType maps a plain entry type code to the stored object kind.
func (t EntryType) ObjectType() (object.ObjectType, bool) {
	switch t {
	case EntryCommit:
		return object.TypeCommit, true
	case EntryTree:
		return object.TypeTree, true
	case EntryBlob:
		return object.TypeBlob, true
	case EntryTag:
		return object.TypeTag, true
	}
	return "", false
}

func entryTypeFor(kind object.ObjectType) (EntryType, bool) {
	switch kind {
	case object.TypeCommit:
		return EntryCommit, true
	case object.TypeTree:
		return EntryTree, true
	case object.TypeBlob:
		return EntryBlob, true
	case object.TypeTag:
		return EntryTag, true
	}
	return 0, false
}

// Header is the fixed-size pack header.
//
// Bytes:
//   - 0..3:  "PACK"
//   - 4..7:  version (big-endian)
//   - 8..11: number of objects (big-endian)
type Header struct {
	Version    uint32
	NumObjects uint32
}

// Marshal serializes the header to the canonical 12-byte form.
func (h Header) Marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[:4], magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	return buf
}

// UnmarshalHeader parses a canonical pack header. Versions other than 2
// and 3 are fatal.
func UnmarshalHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("pack header too short: got %d bytes", len(data))
	}
	if string(data[:4]) != string(magic[:]) {
		return nil, fmt.Errorf("invalid pack magic %q", data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version < versionMin || version > versionMax {
		return nil, fmt.Errorf("unsupported pack version %d", version)
	}

	return &Header{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// encodeEntryHeader encodes the variable-length entry header: 3-bit
// type in bits 4-6 of the first byte, low 4 size bits, then 7 size bits
// per continuation byte (little-endian accumulation). Size is the
// uncompressed payload length.
func encodeEntryHeader(objType EntryType, size uint64) []byte {
	b := byte((objType & 0x7) << 4)
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, 10)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}

	return out
}

// decodeEntryHeader decodes an entry header, returning type, declared
// uncompressed size, and bytes consumed.
func decodeEntryHeader(data []byte) (EntryType, uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("entry header truncated")
	}

	b := data[0]
	objType := EntryType((b >> 4) & 0x7)
	size := uint64(b & 0x0f)
	shift := uint(4)
	consumed := 1

	for b&0x80 != 0 {
		if consumed >= len(data) {
			return 0, 0, 0, fmt.Errorf("entry header truncated")
		}
		b = data[consumed]
		size |= uint64(b&0x7f) << shift
		shift += 7
		consumed++
	}

	return objType, size, consumed, nil
}
