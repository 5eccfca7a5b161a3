package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/queue"
	"github.com/kstaniek/go-can-comms/internal/socketcan"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = sleepCtx

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// openDevice opens the device for one bus of the configured backend.
func openDevice(backend, iface string, bus uint8) (socketcan.Dev, error) {
	switch backend {
	case "socketcan":
		return openSocketCANDevice(iface, bus)
	case "loopback":
		return newLoopbackDev(bus, loopbackDepth), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|loopback)", backend)
	}
}

// initBackend opens one device per configured interface (the list position is
// the bus index), starts an RX loop per bus feeding rx and returns the devices
// for the TX writer plus a cleanup closing them.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, rx *queue.Queue, l *slog.Logger, wg *sync.WaitGroup) ([]socketcan.Dev, func(), error) {
	devs := make([]socketcan.Dev, 0, len(cfg.canIfs))
	closeAll := func() {
		for _, d := range devs {
			_ = d.Close()
		}
	}
	for i, iface := range cfg.canIfs {
		d, err := openDevice(cfg.backend, iface, uint8(i))
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("%s open %s: %w", cfg.backend, iface, err)
		}
		l.Info("bus_open", "backend", cfg.backend, "if", iface, "bus", i)
		devs = append(devs, d)
	}
	for i, d := range devs {
		startBusRx(ctx, uint8(i), d, rx, l, wg)
	}
	return devs, closeAll, nil
}

// startBusRx reads packets from d into rx until ctx is done or d is closed.
// Read errors back off exponentially between rxBackoffMin and rxBackoffMax.
func startBusRx(ctx context.Context, bus uint8, d socketcan.Dev, rx *queue.Queue, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bus_rx_end", "bus", bus)
		backoff := rxBackoffMin
		var p can.Packet
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := d.ReadPacket(&p); err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
					return
				}
				metrics.IncError(metrics.ErrBusRead)
				l.Warn("bus_read_error", "bus", bus, "error", err, "backoff", backoff)
				sleepFn(ctx, backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			p.Bus = bus
			metrics.IncBusRx()
			rx.Push(p) // overflow is counted by the queue
			backoff = rxBackoffMin
		}
	}()
}
