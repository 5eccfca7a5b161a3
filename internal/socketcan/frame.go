package socketcan

import (
	"fmt"

	"github.com/kstaniek/go-can-comms/internal/can"
)

// Dev is the minimal interface needed by the backend and TXWriter.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadPacket(*can.Packet) error
	WritePacket(can.Packet) error
	Close() error
}

// decodeFrame fills p from the fields of a kernel CAN frame.
func decodeFrame(p *can.Packet, id uint32, length uint8, data []byte, fd bool, bus uint8) error {
	code, ok := can.LenToDLC(int(length))
	if !ok || int(length) > len(data) {
		return fmt.Errorf("frame length %d: %w", length, can.ErrInvalidLength)
	}
	*p = can.Packet{DLC: code, Bus: bus, FD: fd}
	if id&can.CAN_EFF_FLAG != 0 {
		p.Extended = true
		p.Addr = id & can.CAN_EFF_MASK
	} else {
		p.Addr = id & can.CAN_SFF_MASK
	}
	copy(p.Data[:], data[:length])
	p.SetChecksum()
	return nil
}

// encodeID builds the kernel can_id from a packet.
func encodeID(p *can.Packet) uint32 {
	if p.Extended {
		return (p.Addr & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	}
	return p.Addr & can.CAN_SFF_MASK
}
