package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-can-comms/internal/can"
	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/queue"
	"github.com/kstaniek/go-can-comms/internal/session"
)

func TestAdvertiseWithdrawsBeforeShutdownCompletes(t *testing.T) {
	var port atomic.Int64
	var withdrawn atomic.Bool
	orig := registerMDNS
	registerMDNS = func(_ context.Context, _ *appConfig, p int) (func(), error) {
		port.Store(int64(p))
		return func() { withdrawn.Store(true) }, nil
	}
	defer func() { registerMDNS = orig }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := session.NewServer(
		session.WithListenAddr("127.0.0.1:0"),
		session.WithComms(comms.New(queue.New("rx_mdns_test", 1), comms.SinkFunc(func(can.Packet, uint8, bool) {}), nil)),
		session.WithLogger(logging.Discard()),
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = srv.Serve(ctx) }()
	cfg := defaultConfig()
	cfg.mdnsEnable = true
	go func() { defer wg.Done(); advertise(ctx, cfg, srv, logging.Discard()) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && port.Load() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if port.Load() == 0 || int(port.Load()) != portOf(srv.Addr()) {
		t.Fatalf("advertised port %d, listener %s", port.Load(), srv.Addr())
	}
	cancel()
	wg.Wait()
	if !withdrawn.Load() {
		t.Fatalf("mDNS registration still live after shutdown")
	}
}
