package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame, including pretty-printed
// multi-line frames.
const DefaultMaxFrameBytes = 64 * 1024

// ErrFrameTooLarge is returned for a frame that exceeds the reader's limit.
// The rest of the offending line is discarded and the reader stays usable.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// FrameReader splits a stream into JSON object frames. A frame ends where its
// outermost object closes, so a trailing newline is accepted but not
// required and back-to-back objects on one line are separate frames.
type FrameReader struct {
	r        *bufio.Reader
	maxBytes int
	pending  []byte
}

func NewFrameReader(r io.Reader, maxBytes int) *FrameReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{
		r:        bufio.NewReader(r),
		maxBytes: maxBytes,
	}
}

// ReadFrame returns the next frame. Input that does not start with '{' is
// returned a line at a time for the decoder to reject. An object that is
// still open when a later line holds a complete object on its own is
// returned as a (malformed) frame and that object is kept for the next call.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if f.pending != nil {
		frame := f.pending
		f.pending = nil
		return frame, nil
	}

	first, err := f.skipSpace()
	if err != nil {
		return nil, err
	}
	if first != '{' {
		line, err := f.readLine()
		if err != nil {
			return nil, err
		}
		return bytes.TrimSpace(line), nil
	}
	return f.readObject()
}

func (f *FrameReader) skipSpace() (byte, error) {
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(c) {
			return c, f.r.UnreadByte()
		}
	}
}

func (f *FrameReader) readObject() ([]byte, error) {
	var (
		buf         []byte
		depth       int
		inString    bool
		escaped     bool
		atLineStart bool
		candidate   = -1
		candDepth   int
	)
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) > 0 {
				return bytes.TrimSpace(buf), nil
			}
			return nil, err
		}
		buf = append(buf, c)
		if len(buf) > f.maxBytes {
			if c != '\n' {
				if err := f.discardLine(); err != nil && !errors.Is(err, io.EOF) {
					return nil, err
				}
			}
			return nil, ErrFrameTooLarge
		}

		if inString && c == '\n' {
			// Raw newlines never occur inside a valid string.
			inString, escaped = false, false
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '\n':
			atLineStart = true
			candidate = -1
			continue
		case '"':
			inString = true
		case '{':
			if atLineStart && depth > 0 && candidate < 0 {
				candidate, candDepth = len(buf)-1, depth
			}
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf, nil
			}
			if candidate >= 0 && depth == candDepth {
				if f.lineEndsHere() {
					f.pending = append([]byte(nil), buf[candidate:]...)
					return bytes.TrimSpace(buf[:candidate]), nil
				}
				candidate = -1
			}
		}
		if !isSpace(c) {
			atLineStart = false
		}
	}
}

// lineEndsHere reports whether the buffered input up to the next newline is
// blank or starts another object. It never blocks.
func (f *FrameReader) lineEndsHere() bool {
	n := f.r.Buffered()
	if n == 0 {
		return true
	}
	peek, _ := f.r.Peek(n)
	for _, c := range peek {
		switch c {
		case ' ', '\t', '\r':
		case '\n', '{':
			return true
		default:
			return false
		}
	}
	return true
}

func (f *FrameReader) discardLine() error {
	for {
		_, err := f.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func (f *FrameReader) readLine() ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := f.r.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if len(line) > f.maxBytes {
				oversized = true
				line = nil
			}
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		if errors.Is(err, io.EOF) && oversized {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}

	if oversized {
		return nil, ErrFrameTooLarge
	}
	return line, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// WriteFrame writes payload followed by a newline in a single call so that
// callers serialising writes with a mutex never interleave frames.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, '\n')
	_, err := w.Write(frame)
	return err
}
