//go:build linux

package main

import "github.com/kstaniek/go-can-comms/internal/socketcan"

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) { return socketcan.Open(iface, bus) }
