package runner

import (
	"strings"
	"unicode/utf8"
)

// TruncatedMarker prefixes captured text whose head was discarded.
const TruncatedMarker = "[truncated]\n"

// TailBuffer is an io.Writer that keeps only the most recent max bytes
// written to it. It fills linearly until full, then overwrites the oldest
// bytes in place. A TailBuffer is not safe for concurrent writes; exec
// copies each stream from a single goroutine.
type TailBuffer struct {
	max       int
	buf       []byte
	head      int // index of the oldest byte once buf is full
	total     int64
	truncated bool
}

// NewTailBuffer returns a buffer retaining at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	if max < 0 {
		max = 0
	}
	return &TailBuffer{max: max}
}

// Write appends p, discarding the oldest bytes beyond the bound. It never
// fails and always reports len(p) so io.Copy keeps draining the pipe.
func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	t.total += int64(n)

	if t.max == 0 {
		t.truncated = true
		return n, nil
	}

	if n >= t.max {
		if cap(t.buf) < t.max {
			t.buf = make([]byte, t.max)
		}
		t.buf = t.buf[:t.max]
		copy(t.buf, p[n-t.max:])
		t.head = 0
		if t.total > int64(t.max) {
			t.truncated = true
		}
		return n, nil
	}

	if len(t.buf) < t.max {
		room := t.max - len(t.buf)
		if n <= room {
			t.buf = append(t.buf, p...)
			return n, nil
		}
		t.buf = append(t.buf, p[:room]...)
		p = p[room:]
	}

	t.truncated = true
	for len(p) > 0 {
		c := copy(t.buf[t.head:], p)
		p = p[c:]
		t.head = (t.head + c) % t.max
	}
	return n, nil
}

// Bytes returns a copy of the retained bytes, oldest first.
func (t *TailBuffer) Bytes() []byte {
	out := make([]byte, 0, len(t.buf))
	out = append(out, t.buf[t.head:]...)
	out = append(out, t.buf[:t.head]...)
	return out
}

// Len returns the number of retained bytes.
func (t *TailBuffer) Len() int { return len(t.buf) }

// Truncated reports whether any byte was ever discarded.
func (t *TailBuffer) Truncated() bool { return t.truncated }

// Total returns the number of bytes written, retained or not.
func (t *TailBuffer) Total() int64 { return t.total }

// Capture is the finalized form of a TailBuffer.
type Capture struct {
	Text       string
	Truncated  bool
	TotalBytes int64
}

// Capture decodes the retained bytes as UTF-8. A rune split by the
// truncation boundary is dropped and any other invalid sequence becomes
// "?", so the decoded text is never longer than the retained bytes.
// Truncated text is prefixed with TruncatedMarker.
func (t *TailBuffer) Capture() Capture {
	data := t.Bytes()
	if t.truncated {
		data = trimLeadingContinuation(data)
	}
	text := strings.ToValidUTF8(string(data), "?")
	if t.truncated {
		text = TruncatedMarker + text
	}
	return Capture{Text: text, Truncated: t.truncated, TotalBytes: t.total}
}

func trimLeadingContinuation(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0 && !utf8.RuneStart(b[0]); i++ {
		b = b[1:]
	}
	return b
}
