package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/gitcell/pkg/object"
)

func deflateEntry(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writer emits git-compatible pack streams. Every entry is written as a
// plain type record with a fresh zlib stream over the full body; output
// is never delta-compressed. The trailer is SHA-1 over all bytes
// written before it.
type Writer struct {
	out      io.Writer
	hasher   hash.Hash
	hashedW  io.Writer
	expected uint32
	written  uint32
	finished bool
}

// NewWriter initializes a writer and emits the fixed pack header.
func NewWriter(out io.Writer, numObjects uint32) (*Writer, error) {
	hasher := sha1.New()
	w := &Writer{
		out:      out,
		hasher:   hasher,
		hashedW:  io.MultiWriter(out, hasher),
		expected: numObjects,
	}

	header := Header{
		Version:    writeVersion,
		NumObjects: numObjects,
	}
	if _, err := w.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return w, nil
}

// WriteObject appends one object entry. The entry header carries the
// uncompressed body length.
func (w *Writer) WriteObject(kind object.ObjectType, body []byte) error {
	if w.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if w.written >= w.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", w.expected)
	}
	objType, ok := entryTypeFor(kind)
	if !ok {
		return fmt.Errorf("cannot pack object kind %q", kind)
	}

	header := encodeEntryHeader(objType, uint64(len(body)))
	if _, err := w.hashedW.Write(header); err != nil {
		return fmt.Errorf("write pack entry header: %w", err)
	}

	compressed, err := deflateEntry(body)
	if err != nil {
		return fmt.Errorf("compress pack entry: %w", err)
	}
	if _, err := w.hashedW.Write(compressed); err != nil {
		return fmt.Errorf("write compressed pack entry: %w", err)
	}

	w.written++
	return nil
}

// Finish validates the object count, writes the trailing checksum, and
// returns it as a hex digest.
func (w *Writer) Finish() (object.Hash, error) {
	if w.finished {
		return "", fmt.Errorf("pack writer already finished")
	}
	if w.written != w.expected {
		return "", fmt.Errorf("pack object count mismatch: wrote %d, expected %d", w.written, w.expected)
	}

	sum := w.hasher.Sum(nil)
	if _, err := w.out.Write(sum); err != nil {
		return "", fmt.Errorf("write pack trailer checksum: %w", err)
	}

	w.finished = true
	return object.Hash(hex.EncodeToString(sum)), nil
}
