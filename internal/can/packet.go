package can

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer is returned when a byte slice cannot hold the packet record.
	ErrShortBuffer = errors.New("can: short buffer")
	// ErrInvalidLength is returned when a payload does not fit any length code.
	ErrInvalidLength = errors.New("can: invalid payload length")
	// ErrBadChecksum is returned by Verify when the checksum byte does not match.
	ErrBadChecksum = errors.New("can: bad checksum")
)

// Packet is one CAN packet record as carried on the host link.
//
// Wire layout:
//
//	byte 0     DLC[7:4] bus[3:1] fd[0]
//	bytes 1..4 little-endian (addr << 3) | (extended << 2) | (returned << 1) | rejected
//	byte 5     XOR of head bytes 0..4 and the payload
//	bytes 6..  payload, DLCToLen[DLC] bytes
type Packet struct {
	DLC      uint8 // 4-bit length code
	Bus      uint8 // 0..MaxBus
	FD       bool
	Addr     uint32 // 29-bit identifier
	Extended bool
	Returned bool
	Rejected bool
	Checksum uint8
	Data     [MaxPayload]byte
}

// NewPacket builds a packet for bus/addr carrying payload, picking the smallest
// fitting length code and stamping the checksum. Payload bytes beyond len(payload)
// up to the code's length are zero.
func NewPacket(bus uint8, addr uint32, extended bool, payload []byte) (Packet, error) {
	var p Packet
	code, ok := LenToDLC(len(payload))
	if !ok {
		return p, fmt.Errorf("new packet: %w (%d)", ErrInvalidLength, len(payload))
	}
	p.DLC = code
	p.Bus = bus & MaxBus
	p.FD = DLCToLen[code] > 8
	p.Addr = addr & CAN_EFF_MASK
	p.Extended = extended
	copy(p.Data[:], payload)
	p.SetChecksum()
	return p, nil
}

// PayloadLen returns the number of payload bytes selected by the length code.
func (p *Packet) PayloadLen() int { return int(DLCToLen[p.DLC&0x0F]) }

// Len returns the total record length.
func (p *Packet) Len() int { return PacketLen(p.DLC) }

// Payload returns the valid payload bytes.
func (p *Packet) Payload() []byte { return p.Data[:p.PayloadLen()] }

func (p *Packet) head() (b0 byte, word uint32) {
	b0 = (p.DLC&0x0F)<<4 | (p.Bus&MaxBus)<<1
	if p.FD {
		b0 |= 1
	}
	word = (p.Addr & CAN_EFF_MASK) << 3
	if p.Extended {
		word |= 1 << 2
	}
	if p.Returned {
		word |= 1 << 1
	}
	if p.Rejected {
		word |= 1
	}
	return b0, word
}

// ComputeChecksum returns the XOR over head bytes 0..4 and the payload.
func (p *Packet) ComputeChecksum() uint8 {
	b0, word := p.head()
	sum := b0 ^ byte(word) ^ byte(word>>8) ^ byte(word>>16) ^ byte(word>>24)
	for _, b := range p.Payload() {
		sum ^= b
	}
	return sum
}

// SetChecksum stamps the checksum field.
func (p *Packet) SetChecksum() { p.Checksum = p.ComputeChecksum() }

// Verify reports ErrBadChecksum if the stored checksum is stale.
func (p *Packet) Verify() error {
	if want := p.ComputeChecksum(); want != p.Checksum {
		return fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrBadChecksum, p.Checksum, want)
	}
	return nil
}

// MarshalTo writes the wire record into b and returns its length.
func (p *Packet) MarshalTo(b []byte) (int, error) {
	n := p.Len()
	if len(b) < n {
		return 0, ErrShortBuffer
	}
	b0, word := p.head()
	b[0] = b0
	binary.LittleEndian.PutUint32(b[1:5], word)
	b[5] = p.Checksum
	copy(b[HeadSize:n], p.Data[:n-HeadSize])
	return n, nil
}

// MarshalBinary returns a freshly allocated wire record.
func (p Packet) MarshalBinary() ([]byte, error) {
	b := make([]byte, p.Len())
	_, err := p.MarshalTo(b)
	return b, err
}

// Unmarshal decodes one record from the start of b. The length code in b[0]
// determines how many bytes are consumed; trailing bytes are ignored.
func (p *Packet) Unmarshal(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrShortBuffer
	}
	n := PacketLen(b[0] >> 4)
	if len(b) < n {
		return 0, fmt.Errorf("unmarshal %d of %d bytes: %w", len(b), n, ErrShortBuffer)
	}
	p.DLC = b[0] >> 4
	p.Bus = (b[0] >> 1) & MaxBus
	p.FD = b[0]&1 != 0
	word := binary.LittleEndian.Uint32(b[1:5])
	p.Addr = word >> 3
	p.Extended = word&(1<<2) != 0
	p.Returned = word&(1<<1) != 0
	p.Rejected = word&1 != 0
	p.Checksum = b[5]
	p.Data = [MaxPayload]byte{}
	copy(p.Data[:], b[HeadSize:n])
	return n, nil
}

// UnmarshalBinary decodes exactly one record.
func (p *Packet) UnmarshalBinary(b []byte) error {
	n, err := p.Unmarshal(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("unmarshal: %d trailing bytes", len(b)-n)
	}
	return nil
}
