//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-comms/internal/can"
)

// canfdMTU is sizeof(struct canfd_frame) from linux/can.h; x/sys/unix does
// not export it.
const canfdMTU = 72

// Device is a raw CAN socket bound to one interface, mapped to a bus index.
type Device struct {
	fd  int
	bus uint8
}

// Open binds a raw CAN socket on iface with CAN-FD frames enabled.
func Open(iface string, bus uint8) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		// Older kernels may not know this option; classic frames still work.
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("enable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, bus: bus & can.MaxBus}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// Bus returns the bus index stamped on received packets.
func (d *Device) Bus() uint8 { return d.bus }

// ReadPacket reads the next data frame (classic or FD) into p and stamps its
// bus and checksum. Error frames are skipped.
func (d *Device) ReadPacket(p *can.Packet) error {
	var buf [canfdMTU]byte
	for {
		n, err := unix.Read(d.fd, buf[:])
		if err != nil {
			return err
		}
		if n != unix.CAN_MTU && n != canfdMTU {
			return fmt.Errorf("short read: %d", n)
		}
		// struct can_frame / canfd_frame (linux/can.h), host byte order:
		//   can_id u32 [0:4], len u8 [4], flags u8 [5], res [6:8], data [8:]
		id := binary.LittleEndian.Uint32(buf[0:4])
		if id&can.CAN_ERR_FLAG != 0 {
			continue
		}
		return decodeFrame(p, id, buf[4], buf[8:n], n == canfdMTU, d.bus)
	}
}

// WritePacket writes p as a classic frame, or as an FD frame when the
// payload exceeds 8 bytes or the FD flag is set.
func (d *Device) WritePacket(p can.Packet) error {
	var buf [canfdMTU]byte
	size := unix.CAN_MTU
	if p.FD || p.PayloadLen() > 8 {
		size = canfdMTU
	}
	binary.LittleEndian.PutUint32(buf[0:4], encodeID(&p))
	buf[4] = uint8(p.PayloadLen())
	copy(buf[8:], p.Payload())
	_, err := unix.Write(d.fd, buf[:size])
	return err
}
