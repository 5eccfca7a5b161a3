//go:build !linux

package socketcan

import "errors"

// ErrUnsupported is returned by backends on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan unsupported on this platform")
