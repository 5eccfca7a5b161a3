package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/queue"
	"github.com/kstaniek/go-can-comms/internal/socketcan"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// app is the data path shared by both transports:
//
//	host -> Comms.Write -> busSender -> tx queue -> TXWriter -> buses
//	buses -> RX loops -> rx queue -> Comms.Read -> host
type app struct {
	rx, tx    *queue.Queue
	gate      *transport.Gate
	bp        *comms.Backpressure
	comms     *comms.Comms
	txw       *socketcan.TXWriter
	closeDevs func()
}

// startApp builds the queues, flow control and transcoders, opens the backend
// and starts the bus TX pump.
func startApp(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (*app, error) {
	rx := queue.New("rx", cfg.rxQueue)
	tx := queue.New("tx", cfg.txQueue)
	th := transport.Threshold(cfg.transport)
	gate := transport.NewGate(cfg.transport)
	bp := comms.NewBackpressure(tx, comms.FlowControl{Name: cfg.transport, MinFree: th, Resume: gate.Resume})
	sender := &busSender{
		tx:    tx,
		buses: len(cfg.canIfs),
		gates: []gateLimit{{gate: gate, minFree: th}},
		bp:    bp,
		log:   l,
	}
	devs, closeDevs, err := initBackend(ctx, cfg, rx, l, wg)
	if err != nil {
		return nil, err
	}
	return &app{
		rx:        rx,
		tx:        tx,
		gate:      gate,
		bp:        bp,
		comms:     comms.New(rx, sender, bp),
		txw:       socketcan.NewTXWriter(ctx, tx, devs, bp.Refresh),
		closeDevs: closeDevs,
	}, nil
}

// close stops the TX pump and closes the bus devices, which ends the RX loops.
func (a *app) close() {
	a.txw.Close()
	a.closeDevs()
}
