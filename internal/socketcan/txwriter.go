package socketcan

import (
	"context"
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// ErrUnknownBus is returned for packets addressed to a bus with no device.
var ErrUnknownBus = errors.New("socketcan: unknown bus")

// TXWriter drains the send queue onto the bus devices through a single
// goroutine, routing each packet by its bus index.
type TXWriter struct{ base *transport.Pump }

// NewTXWriter starts draining src into devs (indexed by bus). dequeued, if
// set, runs after every packet leaves the queue, sent or not.
func NewTXWriter(parent context.Context, src transport.PacketSource, devs []Dev, dequeued func()) *TXWriter {
	if dequeued == nil {
		dequeued = func() {}
	}
	send := func(p can.Packet) error {
		if int(p.Bus) >= len(devs) || devs[p.Bus] == nil {
			return fmt.Errorf("%w: %d", ErrUnknownBus, p.Bus)
		}
		return devs[p.Bus].WritePacket(p)
	}
	hooks := transport.Hooks{
		OnError: func(p can.Packet, err error) {
			defer dequeued()
			if errors.Is(err, ErrUnknownBus) {
				metrics.IncError(metrics.ErrBusUnknown)
				logging.L().Debug("bus_tx_unknown", "bus", p.Bus, "addr", fmt.Sprintf("0x%X", p.Addr))
				return
			}
			metrics.IncError(metrics.ErrBusWrite)
			logging.L().Warn("bus_write_error", "bus", p.Bus, "error", err)
		},
		OnAfter: func(can.Packet) {
			metrics.IncBusTx()
			dequeued()
		},
	}
	return &TXWriter{base: transport.NewPump(parent, src, send, hooks)}
}

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
