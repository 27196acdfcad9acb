// Package passthru is a thin, typed binding to a PassThru-style (SAE
// J2534) adapter: frame types, the status code taxonomy, a pluggable
// Bus interface with a backend registry, and the Channel/FrameQueue
// plumbing the rest of the stack builds on.
package passthru

import "fmt"

// Frame is a single CAN frame: an 11-bit or 29-bit arbitration ID and
// up to 8 data bytes. Immutable once constructed.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

// NewFrame builds a Frame copying up to 8 bytes of data.
func NewFrame(id uint32, flags uint8, data []byte) Frame {
	f := Frame{ID: id, Flags: flags}
	n := copy(f.Data[:], data)
	f.DLC = uint8(n)
	return f
}

// Payload returns the frame's data bytes trimmed to DLC.
func (f Frame) Payload() []byte {
	return f.Data[:f.DLC]
}

// CAN identifier flags, mirrored from the vendor ABI's transmit flags.
const (
	FlagExtendedID uint8 = 0x01
	FlagISO15765Padding uint8 = 0x02
)

// FrameListener receives frames handed to it by a Bus. Handle must not block.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the pluggable transport a Channel drives. Concrete
// implementations live in passthru/socketcan, passthru/brutellacan and
// passthru/virtual.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(callback FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a named backend.
type NewInterfaceFunc func(channel string, bitrate int) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a new bus backend, normally called from
// the backend package's init().
func RegisterInterface(name string, ctor NewInterfaceFunc) {
	interfaceRegistry[name] = ctor
}

// NewBus constructs a Bus for a registered backend name.
func NewBus(name string, channel string, bitrate int) (Bus, error) {
	ctor, ok := interfaceRegistry[name]
	if !ok {
		return nil, fmt.Errorf("passthru: unsupported interface %q", name)
	}
	return ctor(channel, bitrate)
}
