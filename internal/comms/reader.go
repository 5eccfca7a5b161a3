package comms

import (
	"github.com/kstaniek/go-can-comms/internal/can"
)

// Source yields packets queued for the host (device-to-host direction).
type Source interface {
	// Pop moves the oldest packet into p and reports whether one was available.
	Pop(p *can.Packet) bool
}

// Reader transcodes queued packets into a byte stream of caller-sized
// transfers. A packet that does not fit is split; its tail is held in the
// staging buffer and emitted first on the next call.
type Reader struct {
	src     Source
	staging StagingBuffer
	pkt     can.Packet
	scratch [can.MaxPacketLen]byte
	packets uint64
}

// NewReader returns a Reader draining src.
func NewReader(src Source) *Reader { return &Reader{src: src} }

// Read fills p with as many packet bytes as fit. It never blocks and never
// fails: n == 0 means the queue and staging buffer are both empty.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.staging.occupied > 0 {
		n = r.staging.drainTo(p)
	}
	if r.staging.occupied > 0 {
		return n, nil
	}
	for n < len(p) && r.src.Pop(&r.pkt) {
		ln, _ := r.pkt.MarshalTo(r.scratch[:])
		r.packets++
		if n+ln <= len(p) {
			n += copy(p[n:], r.scratch[:ln])
			continue
		}
		fit := copy(p[n:], r.scratch[:ln])
		r.staging.append(r.scratch[fit:ln])
		n += fit
	}
	return n, nil
}

// Staged exposes the read staging buffer.
func (r *Reader) Staged() *StagingBuffer { return &r.staging }

// Packets returns the number of packets pulled from the source so far.
func (r *Reader) Packets() uint64 { return r.packets }

// Reset discards any held tail.
func (r *Reader) Reset() { r.staging.Reset() }
