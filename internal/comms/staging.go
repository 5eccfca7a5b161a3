package comms

import (
	"fmt"

	"github.com/kstaniek/go-can-comms/internal/can"
)

// StagingBuffer holds the bytes of a single packet record split across
// transport transfers. Remaining is only used by the write direction.
type StagingBuffer struct {
	data      [can.MaxPacketLen]byte
	occupied  int
	remaining int
}

// Occupied returns the number of valid bytes held.
func (b *StagingBuffer) Occupied() int { return b.occupied }

// Remaining returns the bytes still needed to complete the packet in progress.
func (b *StagingBuffer) Remaining() int { return b.remaining }

// Bytes returns the held bytes (aliases internal storage).
func (b *StagingBuffer) Bytes() []byte { return b.data[:b.occupied] }

// Reset clears both counters.
func (b *StagingBuffer) Reset() { b.occupied, b.remaining = 0, 0 }

// append copies p after the held bytes. Exceeding capacity means a record
// longer than any length code allows, which cannot happen for valid input.
func (b *StagingBuffer) append(p []byte) {
	if b.occupied+len(p) > len(b.data) {
		panic(fmt.Sprintf("comms: staging overflow (%d+%d > %d)", b.occupied, len(p), len(b.data)))
	}
	b.occupied += copy(b.data[b.occupied:], p)
}

// drainTo moves up to len(dst) held bytes to dst and shifts the rest to the front.
func (b *StagingBuffer) drainTo(dst []byte) int {
	n := copy(dst, b.data[:b.occupied])
	copy(b.data[:], b.data[n:b.occupied])
	b.occupied -= n
	return n
}
