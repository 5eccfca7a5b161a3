package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/queue"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// gateLimit pairs a transport gate with its free-slot threshold.
type gateLimit struct {
	gate    *transport.Gate
	minFree int
}

// busSender is the send primitive behind the write transcoder. It checks the
// packet, queues it for the bus TX pump and pauses every transport whose
// threshold the queue no longer meets.
type busSender struct {
	tx    *queue.Queue
	buses int
	gates []gateLimit
	bp    *comms.Backpressure
	log   *slog.Logger
}

func (s *busSender) Send(p can.Packet, bus uint8, external bool) {
	if !external {
		if err := p.Verify(); err != nil {
			metrics.IncMalformed()
			s.log.Debug("send_drop_malformed", "bus", bus, "addr", fmt.Sprintf("0x%X", p.Addr), "error", err)
			return
		}
	}
	if int(bus) >= s.buses {
		metrics.IncMalformed()
		metrics.IncError(metrics.ErrBusUnknown)
		s.log.Debug("send_drop_unknown_bus", "bus", bus, "buses", s.buses)
		return
	}
	p.Bus = bus
	if !s.tx.Push(p) {
		return
	}
	paused := false
	for _, g := range s.gates {
		if !s.tx.MinSlotsFree(g.minFree) {
			g.gate.Pause()
			paused = true
		}
	}
	// The TX pump may have drained the queue between the check and Pause.
	if paused {
		s.bp.Refresh()
	}
}
