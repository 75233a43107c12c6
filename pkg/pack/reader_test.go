package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/odvcencio/gitcell/pkg/object"
)

func TestPackRoundTrip(t *testing.T) {
	bodies := map[object.ObjectType][]byte{
		object.TypeBlob:   []byte("hello world\n"),
		object.TypeTree:   nil,
		object.TypeCommit: []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\nauthor a <a@b> 0 +0000\ncommitter a <a@b> 0 +0000\n\nx\n"),
	}

	var buf bytes.Buffer
	pw, err := NewWriter(&buf, uint32(len(bodies)))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	want := make(map[object.Hash][]byte, len(bodies))
	for kind, body := range bodies {
		if err := pw.WriteObject(kind, body); err != nil {
			t.Fatalf("WriteObject %s: %v", kind, err)
		}
		want[object.HashObject(kind, body)] = body
	}
	if _, err := pw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	pf, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(pf.Objects) != len(bodies) {
		t.Fatalf("objects = %d, want %d", len(pf.Objects), len(bodies))
	}
	for _, obj := range pf.Objects {
		body, ok := want[obj.Hash]
		if !ok {
			t.Fatalf("unexpected object %s in pack", obj.Hash)
		}
		if !bytes.Equal(obj.Body, body) {
			t.Fatalf("object %s body mismatch", obj.Hash)
		}
		delete(want, obj.Hash)
	}
	if len(want) != 0 {
		t.Fatalf("objects missing from pack: %v", want)
	}
}

// packBuilder assembles raw pack bytes entry by entry, including delta
// entries the Writer never emits.
type packBuilder struct {
	buf bytes.Buffer
}

func newPackBuilder(t *testing.T, numObjects uint32) *packBuilder {
	t.Helper()
	b := &packBuilder{}
	b.buf.Write(Header{Version: 2, NumObjects: numObjects}.Marshal())
	return b
}

func (b *packBuilder) offset() int {
	return b.buf.Len()
}

func (b *packBuilder) writePlain(t *testing.T, objType EntryType, body []byte) int {
	t.Helper()
	start := b.buf.Len()
	b.buf.Write(encodeEntryHeader(objType, uint64(len(body))))
	compressed, err := deflateEntry(body)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	b.buf.Write(compressed)
	return start
}

func (b *packBuilder) writeOfsDelta(t *testing.T, baseStart int, delta []byte) {
	t.Helper()
	start := b.buf.Len()
	b.buf.Write(encodeEntryHeader(EntryOfsDelta, uint64(len(delta))))
	b.buf.Write(encodeOfsDeltaDistance(uint64(start - baseStart)))
	compressed, err := deflateEntry(delta)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	b.buf.Write(compressed)
}

func (b *packBuilder) writeRefDelta(t *testing.T, baseHash object.Hash, delta []byte) {
	t.Helper()
	b.buf.Write(encodeEntryHeader(EntryRefDelta, uint64(len(delta))))
	raw, err := hex.DecodeString(string(baseHash))
	if err != nil {
		t.Fatalf("decode base hash: %v", err)
	}
	b.buf.Write(raw)
	compressed, err := deflateEntry(delta)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	b.buf.Write(compressed)
}

func (b *packBuilder) finish() []byte {
	sum := sha1.Sum(b.buf.Bytes())
	return append(b.buf.Bytes(), sum[:]...)
}

func TestReadOfsDelta(t *testing.T) {
	base := []byte("hello world\n")
	target := []byte("hello there world\n")

	b := newPackBuilder(t, 2)
	baseStart := b.writePlain(t, EntryBlob, base)
	b.writeOfsDelta(t, baseStart, buildInsertOnlyDelta(base, target))

	pf, err := Read(b.finish())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(pf.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(pf.Objects))
	}
	got := pf.Objects[1]
	if got.Kind != object.TypeBlob {
		t.Fatalf("delta object kind = %s, want blob", got.Kind)
	}
	if !bytes.Equal(got.Body, target) {
		t.Fatalf("delta object body = %q, want %q", got.Body, target)
	}
	if got.Hash != object.HashObject(object.TypeBlob, target) {
		t.Fatalf("delta object hash = %s", got.Hash)
	}
}

func TestReadRefDeltaSamePack(t *testing.T) {
	base := []byte("hello world\n")
	target := []byte("hello ref-delta world\n")
	baseHash := object.HashObject(object.TypeBlob, base)

	b := newPackBuilder(t, 2)
	b.writePlain(t, EntryBlob, base)
	b.writeRefDelta(t, baseHash, buildInsertOnlyDelta(base, target))

	pf, err := Read(b.finish())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(pf.Objects[1].Body, target) {
		t.Fatalf("ref-delta body = %q, want %q", pf.Objects[1].Body, target)
	}
}

func TestReadRefDeltaUnknownBaseFails(t *testing.T) {
	base := []byte("not in this pack")
	target := []byte("whatever")

	b := newPackBuilder(t, 1)
	b.writeRefDelta(t, object.HashObject(object.TypeBlob, base), buildInsertOnlyDelta(base, target))

	_, err := Read(b.finish())
	if !errors.Is(err, ErrDeltaBase) {
		t.Fatalf("err = %v, want ErrDeltaBase", err)
	}
}

func TestReadOfsDeltaBadOffsetFails(t *testing.T) {
	base := []byte("hello world\n")
	target := []byte("hello there world\n")

	b := newPackBuilder(t, 2)
	baseStart := b.writePlain(t, EntryBlob, base)
	// Point one byte past the real base entry start.
	b.writeOfsDelta(t, baseStart+1, buildInsertOnlyDelta(base, target))

	if _, err := Read(b.finish()); !errors.Is(err, ErrDeltaBase) {
		t.Fatalf("err = %v, want ErrDeltaBase", err)
	}
}

func TestReadRejectsChecksumMismatch(t *testing.T) {
	b := newPackBuilder(t, 1)
	b.writePlain(t, EntryBlob, []byte("data"))
	data := b.finish()
	data[len(data)-1] ^= 0xff

	if _, err := Read(data); err == nil {
		t.Fatal("corrupted trailer accepted")
	}
}

func TestReadRejectsSizeMismatch(t *testing.T) {
	body := []byte("data")
	b := &packBuilder{}
	b.buf.Write(Header{Version: 2, NumObjects: 1}.Marshal())
	// Declared size one byte short of the real payload.
	b.buf.Write(encodeEntryHeader(EntryBlob, uint64(len(body)-1)))
	compressed, err := deflateEntry(body)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	b.buf.Write(compressed)

	if _, err := Read(b.finish()); err == nil {
		t.Fatal("size mismatch accepted")
	}
}

func TestReadRejectsTrailingBytes(t *testing.T) {
	b := newPackBuilder(t, 1)
	b.writePlain(t, EntryBlob, []byte("data"))
	b.buf.WriteString("junk")

	if _, err := Read(b.finish()); err == nil {
		t.Fatal("trailing undecoded bytes accepted")
	}
}

func TestReadVersion3(t *testing.T) {
	body := []byte("data")
	b := &packBuilder{}
	b.buf.Write(Header{Version: 3, NumObjects: 1}.Marshal())
	b.buf.Write(encodeEntryHeader(EntryBlob, uint64(len(body))))
	compressed, err := deflateEntry(body)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	b.buf.Write(compressed)

	pf, err := Read(b.finish())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pf.Header.Version != 3 {
		t.Fatalf("version = %d, want 3", pf.Header.Version)
	}
}

func TestReadFrom(t *testing.T) {
	b := newPackBuilder(t, 1)
	b.writePlain(t, EntryBlob, []byte("stream me"))

	pf, err := ReadFrom(bytes.NewReader(b.finish()))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(pf.Objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(pf.Objects))
	}
}

func TestWriterCountEnforcement(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := pw.Finish(); err == nil {
		t.Fatal("finish with missing objects accepted")
	}

	pw, err = NewWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := pw.WriteObject(object.TypeBlob, []byte("x")); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if err := pw.WriteObject(object.TypeBlob, []byte("y")); err == nil {
		t.Fatal("extra object accepted")
	}
}
