package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/queue"
)

func dialHost(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(Hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(Hello))
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != Hello {
		t.Fatalf("read hello %q: %v", buf, err)
	}
	return conn
}

// TestSmokeServer starts the TCP endpoint, performs the handshake and moves
// packets in both directions.
func TestSmokeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rx := queue.New("rx_test", 32)
	sink := &capture{}
	srv := NewServer(
		WithComms(comms.New(rx, sink, nil)),
		WithChunk(64),
		WithWake(rx.Notify()),
		WithHandshakeTimeout(2*time.Second),
		WithLogger(logging.Discard()),
	)
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	conn := dialHost(t, ctx, srv.Addr())
	defer conn.Close()

	want := testPackets(5)
	if _, err := conn.Write(stream(want)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(sink.snapshot()) == 5 })

	for _, p := range want[:2] {
		rx.Push(p)
	}
	expect := stream(want[:2])
	got := make([]byte, len(expect))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(expect) {
		t.Fatalf("read stream mismatch")
	}
	if !srv.Active() {
		t.Fatalf("expected active session")
	}
}

// TestServerNewHostTakesOver checks a reconnecting host replaces a session
// whose link went silent without closing.
func TestServerNewHostTakesOver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sink := &capture{}
	srv := NewServer(WithComms(comms.New(queue.New("rx_test", 4), sink, nil)), WithLogger(logging.Discard()))
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	stale := dialHost(t, ctx, srv.Addr())
	defer stale.Close()
	waitUntil(t, time.Second, func() bool { return srv.Active() })
	// half a packet left in the old session's staging buffer
	pkts := testPackets(2)
	rec := stream(pkts[1:])
	if _, err := stale.Write(rec[:3]); err != nil {
		t.Fatalf("write: %v", err)
	}

	fresh := dialHost(t, ctx, srv.Addr())
	defer fresh.Close()
	_ = stale.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := stale.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected the stale connection to be closed")
	}
	waitUntil(t, time.Second, func() bool { return srv.totalReplaced.Load() == 1 && srv.Active() })

	if _, err := fresh.Write(stream(pkts[:1])); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0]; got.Addr != pkts[0].Addr {
		t.Fatalf("stale fragment leaked into new session: %+v", got)
	}
}

func TestServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(WithComms(comms.New(queue.New("rx_test", 4), &capture{}, nil)), WithLogger(logging.Discard()))
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()
	conn := dialHost(t, ctx, srv.Addr())
	defer conn.Close()
	waitUntil(t, time.Second, func() bool { return srv.Active() })
	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Active() {
		t.Fatalf("session still active after shutdown")
	}
}

func TestServerShutdownReportsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var logBuf bytes.Buffer
	l := logging.New("text", slog.LevelInfo, &logBuf)
	srv := NewServer(WithComms(comms.New(queue.New("rx_test", 4), &capture{}, nil)), WithLogger(l))
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("NOTCOMMSv1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return srv.totalHandshake.Load() == 1 })

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := logBuf.String()
	if !strings.Contains(out, "shutdown_summary") || !strings.Contains(out, "last_error=") || !strings.Contains(out, "bad hello") {
		t.Fatalf("shutdown summary lacks last error:\n%s", out)
	}
}
