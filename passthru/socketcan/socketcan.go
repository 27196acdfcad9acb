// Package socketcan is a raw SocketCAN passthru.Bus backend built
// directly on golang.org/x/sys/unix, for hosts where pulling in
// brutella/can's extra dependency isn't wanted.
package socketcan

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sambrody/motouds/passthru"
)

// readTimeout bounds each blocking Read so the read-pump goroutine
// wakes periodically to notice Disconnect instead of blocking on the
// socket forever.
var readTimeout = unix.Timeval{Sec: 0, Usec: 200000}

func init() {
	passthru.RegisterInterface("socketcan", NewBus)
}

const canFrameSize = 16 // struct can_frame: u32 id, u8 len, u8 pad[3], u8 data[8]

// Bus is a raw CAN_RAW SocketCAN socket bound to one network interface.
type Bus struct {
	fd   int
	name string

	mu       sync.Mutex
	stopping bool
}

// NewBus opens (but does not bind) the raw CAN socket for interface name.
func NewBus(name string, bitrate int) (passthru.Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	return &Bus{fd: fd, name: name}, nil
}

// Connect binds the socket to the named interface and sets a receive
// timeout so the read-pump goroutine can observe Disconnect promptly.
func (b *Bus) Connect(...any) error {
	idx, err := unix.IfNametoindex(b.name)
	if err != nil {
		return fmt.Errorf("socketcan: resolve interface %s: %w", b.name, err)
	}
	addr := &unix.SockaddrCAN{Ifindex: int(idx)}
	if err := unix.Bind(b.fd, addr); err != nil {
		return fmt.Errorf("socketcan: bind: %w", err)
	}
	if err := unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &readTimeout); err != nil {
		return fmt.Errorf("socketcan: set receive timeout: %w", err)
	}
	return nil
}

// Disconnect closes the socket.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()
	return unix.Close(b.fd)
}

// Send writes a single can_frame.
func (b *Bus) Send(frame passthru.Frame) error {
	buf := make([]byte, canFrameSize)
	id := frame.ID
	if frame.Flags&passthru.FlagExtendedID != 0 {
		id |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = frame.DLC
	copy(buf[8:8+frame.DLC], frame.Data[:frame.DLC])
	_, err := unix.Write(b.fd, buf)
	return err
}

// Subscribe spawns a read-pump goroutine delivering frames to callback
// until Disconnect closes the socket.
func (b *Bus) Subscribe(callback passthru.FrameListener) error {
	go b.readLoop(callback)
	return nil
}

func (b *Bus) readLoop(callback passthru.FrameListener) {
	buf := make([]byte, canFrameSize)
	for {
		n, err := unix.Read(b.fd, buf)
		if err != nil || n < canFrameSize {
			b.mu.Lock()
			stopping := b.stopping
			b.mu.Unlock()
			if stopping {
				return
			}
			// EAGAIN/EWOULDBLOCK just means the read timeout elapsed
			// with nothing queued; loop around to check stopping again.
			continue
		}
		rawID := binary.LittleEndian.Uint32(buf[0:4])
		var flags uint8
		id := rawID & unix.CAN_SFF_MASK
		if rawID&unix.CAN_EFF_FLAG != 0 {
			id = rawID & unix.CAN_EFF_MASK
			flags |= passthru.FlagExtendedID
		}
		dlc := buf[4]
		frame := passthru.Frame{ID: id, Flags: flags, DLC: dlc}
		copy(frame.Data[:], buf[8:8+dlc])
		callback.Handle(frame)
	}
}
