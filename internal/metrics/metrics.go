package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	BusRxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_packets_total",
		Help: "Total CAN packets received from the buses and queued for the host.",
	})
	BusTxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_tx_packets_total",
		Help: "Total CAN packets written to the buses.",
	})
	HostRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_rx_bytes_total",
		Help: "Total bytes received from the host transport.",
	})
	HostTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_tx_bytes_total",
		Help: "Total bytes sent to the host transport.",
	})
	CommsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comms_dispatched_packets_total",
		Help: "Total packets reassembled from the host stream and dispatched to the send path.",
	})
	CommsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comms_read_packets_total",
		Help: "Total packets pulled from the receive queue into the host stream.",
	})
	CommsResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comms_resets_total",
		Help: "Total staging buffer resets (one per transport session).",
	})
	FlowResume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_resume_total",
		Help: "Resume callbacks invoked by the backpressure refresh, by transport.",
	}, []string{"transport"})
	FlowPause = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_pause_total",
		Help: "Transport pauses caused by a filling send queue, by transport.",
	}, []string{"transport"})
	QueueOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_overflow_total",
		Help: "Packets dropped because a queue was full, by queue.",
	}, []string{"queue"})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Number of active host transport sessions.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_packets_total",
		Help: "Total packets rejected on the send path (bad checksum, unknown bus).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrLinkRead   = "link_read"
	ErrLinkWrite  = "link_write"
	ErrHandshake  = "handshake"
	ErrAccept     = "accept"
	ErrBusRead    = "bus_read"
	ErrBusWrite   = "bus_write"
	ErrBusUnknown = "bus_unknown"
	ErrSerialOpen = "serial_open"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localBusRx      uint64
	localBusTx      uint64
	localHostRx     uint64
	localHostTx     uint64
	localDispatched uint64
	localRead       uint64
	localResets     uint64
	localResumes    uint64
	localPauses     uint64
	localOverflow   uint64
	localSessions   uint64
	localErrors     uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BusRx         uint64
	BusTx         uint64
	HostRxBytes   uint64
	HostTxBytes   uint64
	Dispatched    uint64
	Read          uint64
	Resets        uint64
	Resumes       uint64 // sum across transports
	Pauses        uint64 // sum across transports
	QueueOverflow uint64 // sum across queues
	Sessions      uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		BusRx:         atomic.LoadUint64(&localBusRx),
		BusTx:         atomic.LoadUint64(&localBusTx),
		HostRxBytes:   atomic.LoadUint64(&localHostRx),
		HostTxBytes:   atomic.LoadUint64(&localHostTx),
		Dispatched:    atomic.LoadUint64(&localDispatched),
		Read:          atomic.LoadUint64(&localRead),
		Resets:        atomic.LoadUint64(&localResets),
		Resumes:       atomic.LoadUint64(&localResumes),
		Pauses:        atomic.LoadUint64(&localPauses),
		QueueOverflow: atomic.LoadUint64(&localOverflow),
		Sessions:      atomic.LoadUint64(&localSessions),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncBusRx() {
	BusRxPackets.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncBusTx() {
	BusTxPackets.Inc()
	atomic.AddUint64(&localBusTx, 1)
}

func AddHostRx(n int) {
	HostRxBytes.Add(float64(n))
	atomic.AddUint64(&localHostRx, uint64(n))
}

func AddHostTx(n int) {
	HostTxBytes.Add(float64(n))
	atomic.AddUint64(&localHostTx, uint64(n))
}

func AddCommsDispatched(n int) {
	CommsDispatched.Add(float64(n))
	atomic.AddUint64(&localDispatched, uint64(n))
}

func AddCommsRead(n int) {
	CommsRead.Add(float64(n))
	atomic.AddUint64(&localRead, uint64(n))
}

func IncCommsReset() {
	CommsResets.Inc()
	atomic.AddUint64(&localResets, 1)
}

// IncFlowResume counts a paused transport being resumed.
func IncFlowResume(transport string) {
	FlowResume.WithLabelValues(transport).Inc()
	atomic.AddUint64(&localResumes, 1)
}

// IncFlowPause counts a pause for transport.
func IncFlowPause(transport string) {
	FlowPause.WithLabelValues(transport).Inc()
	atomic.AddUint64(&localPauses, 1)
}

func IncQueueOverflow(queue string) {
	QueueOverflow.WithLabelValues(queue).Inc()
	atomic.AddUint64(&localOverflow, 1)
}

func SetSessions(n int) {
	SessionsActive.Set(float64(n))
	atomic.StoreUint64(&localSessions, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedPackets.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrLinkRead, ErrLinkWrite, ErrHandshake, ErrAccept,
		ErrBusRead, ErrBusWrite, ErrBusUnknown, ErrSerialOpen,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
