package frame

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrStrayByte     = errors.New("frame: bytes outside of a frame")
)

// Limits constrains buffered frame memory use. Zero means unlimited.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{}
}

// Buffer reassembles back-to-back JSON values from an arbitrarily chunked
// byte stream. A frame ends where the count of open braces and brackets,
// ignoring those inside string literals, returns to zero.
//
// Scan state survives across Push calls, so each byte is inspected once.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	buf    []byte
	start  int
	pos    int
	limits Limits

	inFrame    bool
	depth      int
	inString   bool
	escaped    bool
	discarding bool
	straying   bool
}

func NewBuffer(limits Limits) *Buffer {
	return &Buffer{limits: limits}
}

// Push appends one chunk. Chunks must be pushed in arrival order.
func (b *Buffer) Push(chunk []byte) {
	b.buf = append(b.buf, chunk...)
}

// Buffered returns the number of retained bytes not yet returned as frames.
func (b *Buffer) Buffered() int {
	return len(b.buf) - b.start
}

// Reset drops all buffered bytes and scan state.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.start, b.pos = 0, 0
	b.resetScan()
	b.discarding = false
	b.straying = false
}

// Next extracts the next complete frame. It returns ok=false when the
// buffered bytes hold no complete frame yet. A non-nil error reports bytes
// that were skipped; the caller may keep calling Next afterwards.
func (b *Buffer) Next() (frame []byte, ok bool, err error) {
	defer b.compact()

	for b.pos < len(b.buf) {
		c := b.buf[b.pos]

		if !b.inFrame {
			switch {
			case isSpace(c):
				b.straying = false
				b.pos++
				b.start = b.pos
			case c == '{' || c == '[':
				b.straying = false
				b.inFrame = true
				b.depth = 1
				b.start = b.pos
				b.pos++
			default:
				if err := b.skipStray(); err != nil {
					return nil, false, err
				}
			}
			continue
		}

		b.pos++
		if b.discarding {
			b.start = b.pos
		}
		if b.scan(c) {
			b.inFrame = false
			if b.discarding {
				b.discarding = false
				b.start = b.pos
				continue
			}
			if size := b.pos - b.start; b.limits.MaxFrameBytes > 0 && size > b.limits.MaxFrameBytes {
				b.start = b.pos
				return nil, false, b.tooLarge(size)
			}
			out := make([]byte, b.pos-b.start)
			copy(out, b.buf[b.start:b.pos])
			b.start = b.pos
			return out, true, nil
		}

		if b.limits.MaxFrameBytes > 0 && !b.discarding && b.pos-b.start > b.limits.MaxFrameBytes {
			size := b.pos - b.start
			b.discarding = true
			b.start = b.pos
			return nil, false, b.tooLarge(size)
		}
	}
	return nil, false, nil
}

// scan consumes one byte inside a frame and reports whether it closed the frame.
func (b *Buffer) scan(c byte) bool {
	if b.inString {
		switch {
		case b.escaped:
			b.escaped = false
		case c == '\\':
			b.escaped = true
		case c == '"':
			b.inString = false
		}
		return false
	}
	switch c {
	case '"':
		b.inString = true
	case '{', '[':
		b.depth++
	case '}', ']':
		b.depth--
		if b.depth == 0 {
			b.resetScan()
			return true
		}
	}
	return false
}

func (b *Buffer) tooLarge(size int) error {
	return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, size, b.limits.MaxFrameBytes)
}

// skipStray drops a run of bytes found between frames up to the next
// candidate frame start or whitespace. A run cut off by the end of the
// buffer is reported once; its tail in later chunks is dropped silently.
func (b *Buffer) skipStray() error {
	continued := b.straying
	from := b.pos
	for b.pos < len(b.buf) {
		c := b.buf[b.pos]
		if c == '{' || c == '[' || isSpace(c) {
			break
		}
		b.pos++
	}
	skipped := b.buf[from:b.pos]
	b.start = b.pos
	b.straying = b.pos == len(b.buf)
	if continued {
		return nil
	}
	const preview = 32
	if len(skipped) > preview {
		return fmt.Errorf("%w: skipped %d bytes %q...", ErrStrayByte, len(skipped), skipped[:preview])
	}
	return fmt.Errorf("%w: skipped %d bytes %q", ErrStrayByte, len(skipped), skipped)
}

func (b *Buffer) resetScan() {
	b.inFrame = false
	b.depth = 0
	b.inString = false
	b.escaped = false
}

// compact reclaims consumed bytes once they make up at least half the buffer.
func (b *Buffer) compact() {
	if b.start == 0 {
		return
	}
	if b.start == len(b.buf) {
		b.buf = b.buf[:0]
		b.start, b.pos = 0, 0
		return
	}
	if b.start < len(b.buf)/2 {
		return
	}
	n := copy(b.buf, b.buf[b.start:])
	b.buf = b.buf[:n]
	b.pos -= b.start
	b.start = 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
