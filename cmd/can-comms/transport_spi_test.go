package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/serial"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// fakePort is a serial port fed from in; writes land in out. An empty read
// waits briefly and reports io.EOF like an expired read timeout.
type fakePort struct {
	mu     sync.Mutex
	in     []byte
	out    bytes.Buffer
	done   chan struct{}
	closer sync.Once
}

func newFakePort(in []byte) *fakePort { return &fakePort{in: in, done: make(chan struct{})} }

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.in) > 0 {
		n := copy(p, f.in)
		f.in = f.in[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()
	select {
	case <-f.done:
		return 0, os.ErrClosed
	case <-time.After(2 * time.Millisecond):
		return 0, io.EOF
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakePort) Close() error { f.closer.Do(func() { close(f.done) }); return nil }

func (f *fakePort) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.out.Bytes()...)
}

func TestSPILoopbackSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := loopbackConfig()
	cfg.transport = transport.KindSPI
	cfg.txQueue = 256
	var wg sync.WaitGroup
	a, err := startApp(ctx, cfg, slog.Default(), &wg)
	if err != nil {
		t.Fatalf("startApp: %v", err)
	}
	defer func() { cancel(); a.close(); wg.Wait() }()

	want := mkPacket(1, 0x321, false, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	rec, _ := want.MarshalBinary()
	fp := newFakePort(rec)
	orig := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return fp, nil }
	defer func() { openSerialPort = orig }()

	readyCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runSPI(ctx, cfg, a.comms, a.gate, a.rx.Notify(), func() { close(readyCh) }, slog.Default())
	}()
	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatalf("serial link never opened")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(fp.written()) < len(rec) {
		time.Sleep(2 * time.Millisecond)
	}
	out := fp.written()
	var got can.Packet
	if _, err := got.Unmarshal(out); err != nil {
		t.Fatalf("unmarshal echo (%d bytes): %v", len(out), err)
	}
	if !got.Returned || got.Addr != want.Addr || got.Bus != 1 || !bytes.Equal(got.Payload(), want.Payload()) {
		t.Fatalf("unexpected echo %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runSPI did not return after cancel")
	}
}

func TestSPIOpenBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orig := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return nil, errors.New("no device") }
	defer func() { openSerialPort = orig }()
	var seen []time.Duration
	sleepFn = func(_ context.Context, d time.Duration) {
		seen = append(seen, d)
		if len(seen) == 6 {
			cancel()
		}
	}
	defer func() { sleepFn = sleepCtx }()

	cfg := loopbackConfig()
	cfg.transport = transport.KindSPI
	runSPI(ctx, cfg, nil, nil, nil, func() { t.Errorf("ready called without an open port") }, slog.Default())

	if len(seen) != 6 || seen[0] != rxBackoffMin || seen[1] != 2*rxBackoffMin || seen[5] > rxBackoffMax {
		t.Fatalf("unexpected backoff sequence %v", seen)
	}
}

func TestSPIStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	orig := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return nil, errors.New("no device") }
	defer func() { openSerialPort = orig }()
	entered := make(chan struct{})
	var once sync.Once
	sleepFn = func(ctx context.Context, d time.Duration) {
		once.Do(func() { close(entered) })
		sleepCtx(ctx, time.Hour)
	}
	defer func() { sleepFn = sleepCtx }()

	cfg := loopbackConfig()
	cfg.transport = transport.KindSPI
	done := make(chan struct{})
	go func() {
		defer close(done)
		runSPI(ctx, cfg, nil, nil, nil, nil, slog.Default())
	}()
	<-entered
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runSPI kept sleeping after cancel")
	}
}
