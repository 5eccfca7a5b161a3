package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-comms/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"bus_rx", snap.BusRx,
					"bus_tx", snap.BusTx,
					"host_rx_bytes", snap.HostRxBytes,
					"host_tx_bytes", snap.HostTxBytes,
					"dispatched", snap.Dispatched,
					"read", snap.Read,
					"resets", snap.Resets,
					"flow_pauses", snap.Pauses,
					"flow_resumes", snap.Resumes,
					"queue_overflow", snap.QueueOverflow,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
