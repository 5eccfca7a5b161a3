package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

const (
	// HeadSize is the fixed packet head: flags byte, 4-byte address word, checksum.
	HeadSize = 6
	// MaxPayload is the largest payload (CAN-FD).
	MaxPayload = 64
	// MaxPacketLen is the staging capacity for one packet record in either direction.
	MaxPacketLen = 72
	// MaxBus is the largest bus index representable in the 3-bit bus field.
	MaxBus = 7
)

// DLCToLen maps a 4-bit length code to the payload byte count.
var DLCToLen = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

func init() {
	for _, n := range DLCToLen {
		if HeadSize+int(n) > MaxPacketLen {
			panic("can: packet record exceeds MaxPacketLen")
		}
	}
}

// PacketLen returns the total record length (head + payload) for a length code.
// Only the low 4 bits of code are used.
func PacketLen(code uint8) int { return HeadSize + int(DLCToLen[code&0x0F]) }

// LenToDLC returns the smallest length code whose payload holds n bytes.
// ok is false when n exceeds MaxPayload.
func LenToDLC(n int) (code uint8, ok bool) {
	for i, l := range DLCToLen {
		if int(l) >= n {
			return uint8(i), true
		}
	}
	return 0, false
}
