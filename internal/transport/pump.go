package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-comms/internal/can"
)

// PacketSource is a queue the Pump drains.
type PacketSource interface {
	Pop(*can.Packet) bool
	Notify() <-chan struct{}
}

// Pump moves packets from a queue to a bus writer through a single goroutine
// (fan-in). The queue's Notify channel wakes it; between wake-ups it drains
// everything that is queued.
//
// Life-cycle:
//
//	p := NewPump(ctx, q, writeFn, hooks)
//	...
//	p.Close()
//
// Packets still queued when Close is called stay in the queue.
type Pump struct {
	src    PacketSource
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	write  func(can.Packet) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize Pump behavior.
type Hooks struct {
	// OnError is called when write returns a non-nil error (packet not sent).
	OnError func(can.Packet, error)
	// OnAfter is called only after a successful write.
	OnAfter func(can.Packet)
}

// NewPump starts draining src into write.
func NewPump(parent context.Context, src PacketSource, write func(can.Packet) error, hooks Hooks) *Pump {
	ctx, cancel := context.WithCancel(parent)
	p := &Pump{
		src:    src,
		ctx:    ctx,
		cancel: cancel,
		write:  write,
		hooks:  hooks,
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *Pump) loop() {
	defer p.wg.Done()
	var pkt can.Packet
	for {
		for p.ctx.Err() == nil && p.src.Pop(&pkt) {
			if err := p.write(pkt); err != nil {
				if p.hooks.OnError != nil {
					p.hooks.OnError(pkt, err)
				}
				continue
			}
			if p.hooks.OnAfter != nil {
				p.hooks.OnAfter(pkt)
			}
		}
		select {
		case <-p.src.Notify():
		case <-p.ctx.Done():
			return
		}
	}
}

// Close stops the worker and waits for it to exit.
func (p *Pump) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}
