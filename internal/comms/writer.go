package comms

import (
	"github.com/kstaniek/go-can-comms/internal/can"
)

// Sink transmits a fully assembled packet onto a bus.
type Sink interface {
	Send(p can.Packet, bus uint8, external bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p can.Packet, bus uint8, external bool)

func (f SinkFunc) Send(p can.Packet, bus uint8, external bool) { f(p, bus, external) }

// Writer reassembles packet records from host transfers and dispatches each
// complete one to the sink. A trailing fragment is staged for the next call.
type Writer struct {
	sink    Sink
	staging StagingBuffer
	pkt     can.Packet
	packets uint64
}

// NewWriter returns a Writer dispatching to sink.
func NewWriter(sink Sink) *Writer { return &Writer{sink: sink} }

// Write consumes all of p. It always returns len(p), nil.
func (w *Writer) Write(p []byte) (int, error) {
	pos := 0
	if w.staging.remaining > 0 {
		if w.staging.remaining > len(p) {
			w.staging.append(p)
			w.staging.remaining -= len(p)
			return len(p), nil
		}
		need := w.staging.remaining
		w.staging.append(p[:need])
		pos = need
		w.dispatch(w.staging.Bytes())
		w.staging.Reset()
	}
	for pos < len(p) {
		ln := can.PacketLen(p[pos] >> 4)
		if pos+ln > len(p) {
			w.staging.append(p[pos:])
			w.staging.remaining = ln - w.staging.occupied
			break
		}
		w.dispatch(p[pos : pos+ln])
		pos += ln
	}
	return len(p), nil
}

// dispatch decodes a complete record and hands it to the sink.
func (w *Writer) dispatch(rec []byte) {
	if _, err := w.pkt.Unmarshal(rec); err != nil {
		panic("comms: dispatch of incomplete record: " + err.Error())
	}
	w.packets++
	w.sink.Send(w.pkt, w.pkt.Bus, false)
}

// Staged exposes the write staging buffer.
func (w *Writer) Staged() *StagingBuffer { return &w.staging }

// Packets returns the number of packets dispatched so far.
func (w *Writer) Packets() uint64 { return w.packets }

// Reset drops any partially assembled packet.
func (w *Writer) Reset() { w.staging.Reset() }
