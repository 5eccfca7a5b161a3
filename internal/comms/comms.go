// Package comms converts between the packet queues and the raw byte stream of
// a fixed-chunk host transport (USB bulk or SPI). Records are concatenated
// with no delimiter, so a packet may straddle two transfers; each direction
// keeps one staging buffer to carry the split packet across calls.
//
// Read and Write may run concurrently with each other but each must be driven
// by a single goroutine. Reset requires both directions to be idle.
package comms

import (
	"github.com/kstaniek/go-can-comms/internal/logging"
	"github.com/kstaniek/go-can-comms/internal/metrics"
)

// Comms pairs the two transcoders with the backpressure table.
type Comms struct {
	rd *Reader
	wr *Writer
	bp *Backpressure
}

// New wires rx (device-to-host queue), tx (send primitive) and bp. bp may be nil.
func New(rx Source, tx Sink, bp *Backpressure) *Comms {
	return &Comms{rd: NewReader(rx), wr: NewWriter(tx), bp: bp}
}

// Read fills p with queued packet bytes (see Reader.Read).
func (c *Comms) Read(p []byte) (int, error) {
	before := c.rd.Packets()
	n, _ := c.rd.Read(p)
	if d := c.rd.Packets() - before; d > 0 {
		metrics.AddCommsRead(int(d))
	}
	return n, nil
}

// Write consumes p, dispatches complete packets, then refreshes backpressure.
func (c *Comms) Write(p []byte) (int, error) {
	before := c.wr.Packets()
	n, _ := c.wr.Write(p)
	if d := c.wr.Packets() - before; d > 0 {
		metrics.AddCommsDispatched(int(d))
	}
	c.bp.Refresh()
	return n, nil
}

// Reset discards partial packets in both directions. Idempotent.
func (c *Comms) Reset() {
	rd, wr := c.rd.Staged().Occupied(), c.wr.Staged().Occupied()
	c.rd.Reset()
	c.wr.Reset()
	metrics.IncCommsReset()
	if rd > 0 || wr > 0 {
		logging.L().Debug("comms_reset_discard", "read_bytes", rd, "write_bytes", wr)
	}
}

// Reader returns the read-direction transcoder.
func (c *Comms) Reader() *Reader { return c.rd }

// Writer returns the write-direction transcoder.
func (c *Comms) Writer() *Writer { return c.wr }
