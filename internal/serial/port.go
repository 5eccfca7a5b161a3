// Package serial carries the host transport over a serial line: the same raw
// packet stream as the USB bulk pipe, in SPI-sized transfers.
package serial

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Link adapts a Port to a session link. An expired read timeout surfaces from
// the port as io.EOF with no data; Link reports it as an empty read instead so
// the session keeps running.
type Link struct {
	Port
}

// NewLink wraps p.
func NewLink(p Port) *Link { return &Link{Port: p} }

func (l *Link) Read(p []byte) (int, error) {
	n, err := l.Port.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Write writes all of p, retrying short writes.
func (l *Link) Write(p []byte) (int, error) {
	var total int
	for total < len(p) {
		n, err := l.Port.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
