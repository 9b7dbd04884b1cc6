package core

// streaming.go provides readers that clean up source files before parsing.
//
// Exports written by Windows tools often start with a UTF-8 BOM, and
// spreadsheet exports occasionally carry Latin-1 bytes in unit columns
// ("°C" saved as 0xB0 'C'). Both would break the delimited and XML parsers.
//
//   - BOMSkippingReader: drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - UTF8Sanitizer: replaces invalid UTF-8 bytes with '?' on the fly
//
// Use NewTextReader to apply both in the right order.

import (
	"bufio"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader. The first call discards a leading BOM.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err == nil && string(head) == string(utf8BOM) {
			_, _ = b.r.Discard(len(utf8BOM))
		} else if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return 0, err
		}
	}
	return b.r.Read(p)
}

// UTF8Sanitizer wraps an io.Reader and replaces invalid UTF-8 bytes with '?'.
// Multi-byte sequences split across reads are carried over to the next call.
type UTF8Sanitizer struct {
	r       io.Reader
	chunk   []byte
	pending []byte // incomplete trailing sequence from the previous chunk
	out     []byte // sanitized bytes not yet returned
	err     error
}

const sanitizeChunk = 4096

// NewUTF8Sanitizer creates a new sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{r: r, chunk: make([]byte, sanitizeChunk)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	for len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.fill()
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *UTF8Sanitizer) fill() {
	n, err := s.r.Read(s.chunk)
	data := append(s.pending, s.chunk[:n]...)
	s.pending = nil
	s.err = err
	atEOF := err != nil

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			out = append(out, data[i])
			i++
			continue
		}
		if !atEOF && !utf8.FullRune(data[i:]) {
			s.pending = append([]byte(nil), data[i:]...)
			break
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
		} else {
			out = append(out, data[i:i+size]...)
		}
		i += size
	}
	s.out = out
}

// NewTextReader strips a BOM and sanitizes invalid UTF-8.
func NewTextReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkippingReader(r))
}
