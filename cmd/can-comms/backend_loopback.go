package main

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/kstaniek/go-can-comms/internal/can"
)

var errLoopbackFull = errors.New("loopback: echo buffer full")

// loopbackDev echoes every written packet back as received on the same bus,
// marked returned. It stands in for a bus when no hardware is attached.
type loopbackDev struct {
	bus    uint8
	ch     chan can.Packet
	done   chan struct{}
	closer sync.Once
}

func newLoopbackDev(bus uint8, depth int) *loopbackDev {
	return &loopbackDev{bus: bus, ch: make(chan can.Packet, depth), done: make(chan struct{})}
}

func (d *loopbackDev) ReadPacket(p *can.Packet) error {
	select {
	case *p = <-d.ch:
		return nil
	case <-d.done:
		return fmt.Errorf("loopback bus %d: %w", d.bus, net.ErrClosed)
	}
}

func (d *loopbackDev) WritePacket(p can.Packet) error {
	select {
	case <-d.done:
		return fmt.Errorf("loopback bus %d: %w", d.bus, net.ErrClosed)
	default:
	}
	p.Bus = d.bus
	p.Returned = true
	p.SetChecksum()
	select {
	case d.ch <- p:
		return nil
	default:
		return errLoopbackFull
	}
}

func (d *loopbackDev) Close() error {
	d.closer.Do(func() { close(d.done) })
	return nil
}
