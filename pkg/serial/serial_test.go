package serial

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

// scripted returns one chunk or error per Read.
type scripted struct {
	steps []interface{}
}

func (s *scripted) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	switch v := step.(type) {
	case error:
		return 0, v
	case string:
		return copy(p, v), nil
	}
	panic("bad step")
}

func readAll(t *testing.T, lr *LineReader) []string {
	t.Helper()
	var out []string
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		out = append(out, string(line))
	}
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"blank lines", "\n\na\n\n", []string{"a"}},
		{"unterminated tail", "a\nb", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lr := NewLineReader(iotest.OneByteReader(strings.NewReader(tt.in)))
			got := readAll(t, lr)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineReaderKeepsPartialLineAcrossTimeouts(t *testing.T) {
	lr := NewLineReader(&scripted{steps: []interface{}{`{"safe":`, ErrTimeout, "true}\n"}})
	if _, err := lr.ReadLine(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first read: got %v, want timeout", err)
	}
	line, err := lr.ReadLine()
	if err != nil || string(line) != `{"safe":true}` {
		t.Fatalf("got %q, %v", line, err)
	}
}

func TestLineReaderTooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	lr := NewLineReader(strings.NewReader(long + "\nok\n"))
	if _, err := lr.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("got %v, want ErrLineTooLong", err)
	}
	line, err := lr.ReadLine()
	if err != nil || string(line) != "ok" {
		t.Fatalf("after long line: %q, %v", line, err)
	}
}

func TestBaudRateToSpeed(t *testing.T) {
	if _, _, err := baudRateToSpeed(0); err == nil {
		t.Error("zero baud accepted")
	}
	speed, custom, err := baudRateToSpeed(115200)
	if err != nil || custom != 0 || speed != standardSpeeds[115200] {
		t.Errorf("115200: %v %v %v", speed, custom, err)
	}
}

func TestPTYRoundTrip(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pty only on linux")
	}
	master, path, err := OpenPTY()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer master.Close()

	port, err := Open(Config{Device: path, ReadTimeout: time.Second})
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer port.Close()

	if _, err := master.Write([]byte("{\"safe\":true}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := NewLineReader(port).ReadLine()
	if err != nil || string(line) != `{"safe":true}` {
		t.Fatalf("got %q, %v", line, err)
	}
}
