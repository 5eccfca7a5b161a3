package transport

// Transport kinds. Each has its own threshold: the number of free send-queue
// slots needed to absorb one maximal host transfer of packets.
const (
	KindUSB = "usb"
	KindSPI = "spi"

	MaxPacketsPerUSBTransfer = 51
	MaxPacketsPerSPITransfer = 170
)

// Threshold returns the free-slot threshold for a transport kind (0 if unknown).
func Threshold(kind string) int {
	switch kind {
	case KindUSB:
		return MaxPacketsPerUSBTransfer
	case KindSPI:
		return MaxPacketsPerSPITransfer
	}
	return 0
}
