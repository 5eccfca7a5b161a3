package serial

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type scriptedPort struct {
	reads  [][]byte
	writes bytes.Buffer
	maxW   int
}

func (s *scriptedPort) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.reads[0])
	s.reads = s.reads[1:]
	return n, nil
}

func (s *scriptedPort) Write(p []byte) (int, error) {
	if s.maxW > 0 && len(p) > s.maxW {
		p = p[:s.maxW]
	}
	return s.writes.Write(p)
}

func (s *scriptedPort) Close() error { return nil }

func TestLinkReadTimeoutIsEmptyRead(t *testing.T) {
	l := NewLink(&scriptedPort{reads: [][]byte{{1, 2}}})
	buf := make([]byte, 8)
	if n, err := l.Read(buf); n != 2 || err != nil {
		t.Fatalf("first read n=%d err=%v", n, err)
	}
	if n, err := l.Read(buf); n != 0 || err != nil {
		t.Fatalf("timeout read n=%d err=%v", n, err)
	}
}

func TestLinkWriteRetriesShortWrites(t *testing.T) {
	sp := &scriptedPort{maxW: 3}
	l := NewLink(sp)
	data := []byte{1, 2, 3, 4, 5, 6, 7}
	n, err := l.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("write n=%d err=%v", n, err)
	}
	if !bytes.Equal(sp.writes.Bytes(), data) {
		t.Fatalf("written % X", sp.writes.Bytes())
	}
}

type zeroPort struct{ scriptedPort }

func (z *zeroPort) Write(p []byte) (int, error) { return 0, nil }

func TestLinkWriteZeroProgress(t *testing.T) {
	l := NewLink(&zeroPort{})
	if _, err := l.Write([]byte{1}); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
}
