// Package session drives one host transport session: it pumps raw transfers
// between a link (TCP connection standing in for the USB bulk pipe, or a
// serial port carrying SPI-style transfers) and the comms transcoders.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-can-comms/internal/comms"
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/metrics"
	"github.com/kstaniek/go-can-comms/internal/transport"
)

const (
	defaultChunk = 64
	defaultPoll  = 2 * time.Millisecond
)

// Config parameterizes a session.
type Config struct {
	// Chunk is the maximum transfer size in either direction.
	Chunk int
	// Poll bounds how long queued packets wait before being sent to the host.
	Poll time.Duration
	// Wake, if set, triggers an immediate read-direction pass (e.g. rx queue notify).
	Wake <-chan struct{}
	// Gate pauses the write direction while the send queue is full. Optional.
	Gate   *transport.Gate
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Chunk <= 0 {
		out.Chunk = defaultChunk
	}
	if out.Poll <= 0 {
		out.Poll = defaultPoll
	}
	if out.Logger == nil {
		out.Logger = logging.L()
	}
	return out
}

// Run resets c and shuttles transfers until ctx is done or the link fails.
// It closes link and returns only after both directions have stopped, so the
// next session may Reset safely. A clean peer close returns nil.
func Run(ctx context.Context, link io.ReadWriteCloser, c *comms.Comms, cfg Config) error {
	cfg = cfg.withDefaults()
	c.Reset()
	metrics.SetSessions(1)
	defer metrics.SetSessions(0)
	cfg.Logger.Info("session_start", "chunk", cfg.Chunk)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	closed := make(chan struct{})
	go func() { <-ctx.Done(); _ = link.Close(); close(closed) }()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		cancel()
	}
	wg.Add(2)
	go func() { defer wg.Done(); fail(hostToBus(ctx, link, c, cfg)) }()
	go func() { defer wg.Done(); fail(busToHost(ctx, link, c, cfg)) }()
	wg.Wait()
	cancel()
	<-closed

	if firstErr != nil && !isClosed(firstErr) && !errors.Is(firstErr, context.Canceled) {
		metrics.IncError(mapErrToMetric(firstErr))
		cfg.Logger.Warn("session_end", "error", firstErr)
		return firstErr
	}
	cfg.Logger.Info("session_end")
	return nil
}

// hostToBus reads transfers from the link into the write transcoder.
func hostToBus(ctx context.Context, link io.Reader, c *comms.Comms, cfg Config) error {
	buf := make([]byte, cfg.Chunk)
	for {
		if cfg.Gate != nil {
			if err := cfg.Gate.Wait(ctx); err != nil {
				return err
			}
		}
		n, err := link.Read(buf)
		if n > 0 {
			metrics.AddHostRx(n)
			_, _ = c.Write(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClosed(err) {
				return err
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%w: %v", ErrLinkRead, err)
		}
	}
}

// busToHost polls the read transcoder and writes full or final transfers to the link.
func busToHost(ctx context.Context, link io.Writer, c *comms.Comms, cfg Config) error {
	out := make([]byte, cfg.Chunk)
	t := time.NewTicker(cfg.Poll)
	defer t.Stop()
	for {
		n, _ := c.Read(out)
		if n > 0 {
			if _, err := link.Write(out[:n]); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", ErrLinkWrite, err)
			}
			metrics.AddHostTx(n)
			if n == len(out) {
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-cfg.Wake:
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
