//go:build !linux

package main

import "github.com/kstaniek/go-can-comms/internal/socketcan"

// Placeholder so non-linux builds compile; socketcan not supported.
var openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) {
	return nil, socketcan.ErrUnsupported
}
