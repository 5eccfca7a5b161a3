package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

// Server exposes the comms byte stream on a TCP listener, standing in for the
// USB bulk endpoints. One host session runs at a time. A connection that
// completes the handshake replaces the running session and starts from reset
// staging buffers.
type Server struct {
	mu               sync.RWMutex
	addr             string
	comms            *comms.Comms
	chunk            int
	poll             time.Duration
	wake             <-chan struct{}
	gate             *transport.Gate
	handshakeTimeout time.Duration
	readyOnce        sync.Once
	readyCh          chan struct{}
	lastErrMu        sync.Mutex
	lastErr          error
	listener         net.Listener
	cancel           context.CancelFunc
	startMu          sync.Mutex // serializes session takeover
	sessMu           sync.Mutex
	current          *hostSession
	active           atomic.Bool
	wg               sync.WaitGroup
	logger           *slog.Logger
	nextConnID       uint64
	totalAccepted    atomic.Uint64
	totalReplaced    atomic.Uint64
	totalSessions    atomic.Uint64
	totalHandshake   atomic.Uint64
}

const defaultHandshakeTimeout = 3 * time.Second

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		chunk:            defaultChunk,
		poll:             defaultPoll,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption     { return func(s *Server) { s.addr = a } }
func WithComms(c *comms.Comms) ServerOption    { return func(s *Server) { s.comms = c } }
func WithGate(g *transport.Gate) ServerOption  { return func(s *Server) { s.gate = g } }
func WithWake(ch <-chan struct{}) ServerOption { return func(s *Server) { s.wake = ch } }
func (s *Server) Addr() string                 { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)             { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{}       { return s.readyCh }
func (s *Server) Active() bool                 { return s.active.Load() }
func (s *Server) SetListenAddr(a string)       { s.setAddr(a) }
func (s *Server) lastError() error             { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }
func (s *Server) setError(err error)           { s.lastErrMu.Lock(); s.lastErr = err; s.lastErrMu.Unlock() }

func WithChunk(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.chunk = n
		}
	}
}

func WithPollInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Serve accepts host connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.comms == nil {
		return errors.New("session server: no comms configured")
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "chunk", s.chunk)
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts one connection and hands it to a background goroutine
// that handshakes and then takes over as the host session.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := Handshake(ctx, conn, s.handshakeTimeout); err != nil {
			wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			s.totalHandshake.Add(1)
			connLogger.Warn("handshake_failed", "error", wrap)
			_ = conn.Close()
			return
		}
		s.runSession(ctx, conn, connLogger)
	}()
	return nil
}

// hostSession is the running session a newer connection replaces.
type hostSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// runSession ends the current session, if any, waits for both of its
// directions to stop and then runs conn as the new session. A host that
// reconnects therefore always wins, even if its old link never closed.
func (s *Server) runSession(ctx context.Context, conn net.Conn, l *slog.Logger) {
	s.startMu.Lock()
	s.sessMu.Lock()
	prev := s.current
	s.sessMu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
		s.totalReplaced.Add(1)
		l.Info("session_replaced")
	}
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cur := &hostSession{cancel: cancel, done: make(chan struct{})}
	s.sessMu.Lock()
	s.current = cur
	s.active.Store(true)
	s.sessMu.Unlock()
	s.startMu.Unlock()

	s.totalSessions.Add(1)
	err := Run(sctx, conn, s.comms, Config{
		Chunk:  s.chunk,
		Poll:   s.poll,
		Wake:   s.wake,
		Gate:   s.gate,
		Logger: l,
	})
	if err != nil {
		s.setError(err)
	}
	s.sessMu.Lock()
	if s.current == cur {
		s.current = nil
		s.active.Store(false)
	}
	s.sessMu.Unlock()
	close(cur.done)
}

// Shutdown stops accepting, ends the active session and waits for it to stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln, cancel := s.listener, s.cancel
	s.listener = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		attrs := []any{"accepted", s.totalAccepted.Load(), "replaced", s.totalReplaced.Load(), "sessions", s.totalSessions.Load(), "handshake_fail", s.totalHandshake.Load()}
		if err := s.lastError(); err != nil {
			attrs = append(attrs, "last_error", err)
		}
		s.logger.Info("shutdown_summary", attrs...)
		return nil
	}
}
