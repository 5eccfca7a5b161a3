package socketcan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/queue"
)

func TestDecodeFrameClassicExtended(t *testing.T) {
	var p can.Packet
	data := []byte{1, 2, 3, 0, 0, 0, 0, 0}
	if err := decodeFrame(&p, 0x1234567|can.CAN_EFF_FLAG, 3, data, false, 2); err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if !p.Extended || p.Addr != 0x1234567 || p.Bus != 2 || p.DLC != 3 || p.FD {
		t.Fatalf("unexpected packet %+v", p)
	}
	if err := p.Verify(); err != nil {
		t.Fatalf("checksum not stamped: %v", err)
	}
	if id := encodeID(&p); id != 0x1234567|can.CAN_EFF_FLAG {
		t.Fatalf("encodeID=0x%X", id)
	}
}

func TestDecodeFrameFD(t *testing.T) {
	var p can.Packet
	data := make([]byte, 64)
	data[47] = 0xEE
	if err := decodeFrame(&p, 0x7FF, 48, data, true, 0); err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if p.Extended || p.Addr != 0x7FF || p.PayloadLen() != 48 || !p.FD || p.Data[47] != 0xEE {
		t.Fatalf("unexpected packet %+v", p)
	}
	if err := decodeFrame(&p, 0x1, 65, data, true, 0); !errors.Is(err, can.ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

type fakeDev struct {
	mu      sync.Mutex
	written []can.Packet
	fail    error
}

func (d *fakeDev) ReadPacket(*can.Packet) error { return errors.New("not implemented") }
func (d *fakeDev) WritePacket(p can.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.written = append(d.written, p)
	return nil
}
func (d *fakeDev) Close() error { return nil }
func (d *fakeDev) count() int   { d.mu.Lock(); defer d.mu.Unlock(); return len(d.written) }

func TestTXWriterRoutesByBus(t *testing.T) {
	q := queue.New("tx_test", 8)
	bus0, bus1 := &fakeDev{}, &fakeDev{}
	before := metrics.Snap()
	w := NewTXWriter(context.Background(), q, []Dev{bus0, bus1}, nil)
	defer w.Close()
	q.Push(can.Packet{Bus: 0, Addr: 1})
	q.Push(can.Packet{Bus: 1, Addr: 2})
	q.Push(can.Packet{Bus: 1, Addr: 3})
	q.Push(can.Packet{Bus: 5, Addr: 4})
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && (bus0.count() != 1 || bus1.count() != 2 || metrics.Snap().Errors == before.Errors) {
		time.Sleep(2 * time.Millisecond)
	}
	if bus0.count() != 1 || bus1.count() != 2 {
		t.Fatalf("routing: bus0=%d bus1=%d", bus0.count(), bus1.count())
	}
	after := metrics.Snap()
	if after.BusTx < before.BusTx+3 {
		t.Fatalf("expected BusTx increment, before=%d after=%d", before.BusTx, after.BusTx)
	}
	if after.Errors == before.Errors {
		t.Fatalf("expected unknown-bus error increment")
	}
}
