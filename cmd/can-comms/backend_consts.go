package main

import "time"

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// loopbackDepth is the per-bus echo buffer of the loopback backend.
	loopbackDepth = 256
)
