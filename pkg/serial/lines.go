package serial

import (
	"bytes"
	"errors"
	"io"
)

// MaxLineLength bounds one record; longer input is discarded up to the
// next newline.
const MaxLineLength = 4096

// ErrLineTooLong is returned once for every over-long line.
var ErrLineTooLong = errors.New("serial: line too long")

// LineReader splits a byte stream into newline-terminated records. Unlike
// bufio.Scanner it survives read timeouts: ErrTimeout is passed through
// and the partial line is kept for the next call.
type LineReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	skip    bool
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, buf: make([]byte, 512)}
}

// ReadLine returns the next line without its terminator. Carriage returns
// before the newline and blank lines are dropped.
func (l *LineReader) ReadLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := bytes.TrimRight(l.pending[:i], "\r")
			l.pending = l.pending[i+1:]
			if l.skip {
				l.skip = false
				continue
			}
			if len(line) > MaxLineLength {
				return nil, ErrLineTooLong
			}
			if len(line) == 0 {
				continue
			}
			out := make([]byte, len(line))
			copy(out, line)
			return out, nil
		}
		if len(l.pending) > MaxLineLength {
			l.pending = l.pending[:0]
			if !l.skip {
				l.skip = true
				return nil, ErrLineTooLong
			}
		}
		n, err := l.r.Read(l.buf)
		l.pending = append(l.pending, l.buf[:n]...)
		if err != nil {
			return nil, err
		}
	}
}
