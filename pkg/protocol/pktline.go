// Package protocol implements the smart-HTTP git protocol: pkt-line
// framing, ref advertisement, upload-pack negotiation, and receive-pack
// ingestion. It composes the object, pack, and store packages and holds
// no state across requests.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// Pkt-line framing: a 4-hex-digit length prefix that includes itself,
// followed by the payload. Length "0000" is a flush packet with no
// payload.

const pktLenSize = 4

var flushPkt = []byte("0000")

// appendPktLine appends payload as one pkt-line.
func appendPktLine(dst []byte, payload []byte) []byte {
	dst = append(dst, []byte(fmt.Sprintf("%04x", len(payload)+pktLenSize))...)
	return append(dst, payload...)
}

func appendPktString(dst []byte, s string) []byte {
	return appendPktLine(dst, []byte(s))
}

func appendFlush(dst []byte) []byte {
	return append(dst, flushPkt...)
}

// pktScanner walks a byte slice as a sequence of pkt-lines, exposing
// whatever follows the framing (the embedded pack of a receive-pack
// body) via Rest.
type pktScanner struct {
	data []byte
	off  int
}

func newPktScanner(data []byte) *pktScanner {
	return &pktScanner{data: data}
}

// Next returns the next payload. flush is true for a flush packet; done
// is true when the input is exhausted.
func (s *pktScanner) Next() (line []byte, flush, done bool, err error) {
	if s.off >= len(s.data) {
		return nil, false, true, nil
	}
	if len(s.data)-s.off < pktLenSize {
		return nil, false, false, fmt.Errorf("truncated pkt-line length at offset %d", s.off)
	}

	raw := s.data[s.off : s.off+pktLenSize]
	n, convErr := strconv.ParseUint(string(raw), 16, 32)
	if convErr != nil {
		return nil, false, false, fmt.Errorf("bad pkt-line length %q at offset %d", raw, s.off)
	}
	if n == 0 {
		s.off += pktLenSize
		return nil, true, false, nil
	}
	if n < pktLenSize {
		return nil, false, false, fmt.Errorf("invalid pkt-line length %d at offset %d", n, s.off)
	}
	end := s.off + int(n)
	if end > len(s.data) {
		return nil, false, false, fmt.Errorf("pkt-line length %d overruns input at offset %d", n, s.off)
	}

	line = s.data[s.off+pktLenSize : end]
	s.off = end
	return line, false, false, nil
}

// Rest returns the unconsumed remainder of the input.
func (s *pktScanner) Rest() []byte {
	return s.data[s.off:]
}

// trimPktNewline drops the conventional trailing LF from a payload.
func trimPktNewline(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\n"))
}
