// Package brutellacan adapts github.com/brutella/can's SocketCAN
// client to the passthru.Bus interface.
package brutellacan

import (
	sockcan "github.com/brutella/can"

	"github.com/sambrody/motouds/passthru"
)

func init() {
	passthru.RegisterInterface("brutellacan", NewBus)
}

// Bus wraps a brutella/can.Bus for one SocketCAN interface.
type Bus struct {
	bus        *sockcan.Bus
	rxCallback passthru.FrameListener
}

// NewBus opens (but does not yet connect) the named SocketCAN
// interface, e.g. "can0". bitrate is informational only: SocketCAN
// bitrate is configured at the OS interface level, not per-socket.
func NewBus(name string, bitrate int) (passthru.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

// Connect starts the read pump; brutella/can has no separate open step.
func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

// Disconnect closes the underlying raw socket.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send publishes a frame on the bus.
func (b *Bus) Send(frame passthru.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

// Subscribe registers rxCallback for every frame brutella/can delivers.
func (b *Bus) Subscribe(rxCallback passthru.FrameListener) error {
	b.rxCallback = rxCallback
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface, translating its
// frame type into passthru.Frame before forwarding.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.rxCallback.Handle(passthru.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}
