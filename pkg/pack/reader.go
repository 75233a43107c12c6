package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/gitcell/pkg/object"
)

// ErrDeltaBase marks a delta whose base cannot be resolved from this
// pack. Resolving ref-delta bases against objects from prior pushes is
// unsupported and must fail loudly rather than produce wrong bytes.
var ErrDeltaBase = errors.New("delta base not present in pack")

// Object is one fully resolved object from a pack: deltas have been
// applied and the kind is the base's kind.
type Object struct {
	Hash object.Hash
	Kind object.ObjectType
	Body []byte
}

// File is the decoded content of a full pack stream.
type File struct {
	Header   Header
	Objects  []Object
	Checksum object.Hash
}

// Read parses a complete pack byte slice: header, that many entry
// records, and the trailing SHA-1 over all preceding bytes. Entries sit
// back-to-back with no compressed-length prefix; the zlib reader runs
// over an io.ByteReader so it consumes exactly one stream, which gives
// the exact compressed length. Ofs-delta entries resolve against an
// earlier entry in the same pack by byte offset, ref-delta entries by
// hash; both require base-before-delta ordering.
func Read(data []byte) (*File, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("pack too short: %d bytes", len(data))
	}

	payload := data[:len(data)-trailerSize]
	trailer := data[len(data)-trailerSize:]

	sum := sha1.Sum(payload)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("pack checksum mismatch")
	}

	header, err := UnmarshalHeader(payload[:headerSize])
	if err != nil {
		return nil, err
	}

	offset := headerSize
	objects := make([]Object, 0, header.NumObjects)
	byOffset := make(map[int]int, header.NumObjects) // entry start offset -> index
	byHash := make(map[object.Hash]int, header.NumObjects)

	for i := uint32(0); i < header.NumObjects; i++ {
		entryStart := offset

		objType, size, n, err := decodeEntryHeader(payload[offset:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		offset += n

		var (
			kind      object.ObjectType
			baseIndex = -1
		)
		switch objType {
		case EntryOfsDelta:
			distance, dn, err := decodeOfsDeltaDistance(payload[offset:])
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			offset += dn
			baseStart := entryStart - int(distance)
			idx, ok := byOffset[baseStart]
			if !ok {
				return nil, fmt.Errorf("entry %d: ofs-delta base at offset %d: %w", i, baseStart, ErrDeltaBase)
			}
			baseIndex = idx
		case EntryRefDelta:
			if len(payload[offset:]) < object.RawHashLen {
				return nil, fmt.Errorf("entry %d: ref-delta base hash truncated", i)
			}
			baseHash := object.Hash(hex.EncodeToString(payload[offset : offset+object.RawHashLen]))
			offset += object.RawHashLen
			idx, ok := byHash[baseHash]
			if !ok {
				return nil, fmt.Errorf("entry %d: ref-delta base %s: %w", i, baseHash, ErrDeltaBase)
			}
			baseIndex = idx
		default:
			k, ok := objType.ObjectType()
			if !ok {
				return nil, fmt.Errorf("entry %d: invalid object type code %d", i, objType)
			}
			kind = k
		}

		raw, consumed, err := inflateEntry(payload[offset:], size)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		offset += consumed

		body := raw
		if baseIndex >= 0 {
			base := objects[baseIndex]
			kind = base.Kind
			body, err = ApplyDelta(base.Body, raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		}

		obj := Object{
			Hash: object.HashObject(kind, body),
			Kind: kind,
			Body: body,
		}
		byOffset[entryStart] = len(objects)
		byHash[obj.Hash] = len(objects)
		objects = append(objects, obj)
	}

	if offset != len(payload) {
		return nil, fmt.Errorf("pack has trailing undecoded bytes: %d", len(payload)-offset)
	}

	return &File{
		Header:   *header,
		Objects:  objects,
		Checksum: object.Hash(hex.EncodeToString(trailer)),
	}, nil
}

// ReadFrom reads a complete pack stream from r and delegates to Read.
func ReadFrom(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pack stream: %w", err)
	}
	return Read(data)
}

// inflateEntry decompresses one zlib stream from the front of data,
// returning the raw payload and the exact number of compressed bytes
// consumed. The decompressed length must equal the declared size.
func inflateEntry(data []byte, size uint64) ([]byte, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("missing compressed payload")
	}

	sub := bytes.NewReader(data)
	zr, err := zlib.NewReader(sub)
	if err != nil {
		return nil, 0, fmt.Errorf("zlib reader: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		_ = zr.Close()
		return nil, 0, fmt.Errorf("decompress: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, 0, fmt.Errorf("close zlib stream: %w", err)
	}
	if uint64(len(raw)) != size {
		return nil, 0, fmt.Errorf("size mismatch: header=%d decoded=%d", size, len(raw))
	}

	return raw, len(data) - sub.Len(), nil
}
