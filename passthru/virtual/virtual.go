// Package virtual is an in-process loopback passthru.Bus used by tests
// to stand in for real hardware.
package virtual

import (
	"sync"

	"github.com/sambrody/motouds/passthru"
)

func init() {
	passthru.RegisterInterface("virtual", NewBus)
}

// Bus is a shared in-memory CAN segment: every frame Sent on one Bus
// handle sharing a name is delivered to every subscriber on the same
// name, the sending handle's own included, so an ECU simulator and the client under test can be
// wired together without real hardware.
type Bus struct {
	seg *segment
}

type segment struct {
	mu          sync.Mutex
	subscribers []passthru.FrameListener
}

var (
	registryMu sync.Mutex
	segments   = make(map[string]*segment)
)

func namedSegment(name string) *segment {
	registryMu.Lock()
	defer registryMu.Unlock()
	seg, ok := segments[name]
	if !ok {
		seg = &segment{}
		segments[name] = seg
	}
	return seg
}

// NewBus returns a handle onto the named virtual segment. bitrate is ignored.
func NewBus(name string, bitrate int) (passthru.Bus, error) {
	return &Bus{seg: namedSegment(name)}, nil
}

func (b *Bus) Connect(...any) error {
	return nil
}

func (b *Bus) Disconnect() error {
	b.seg.mu.Lock()
	defer b.seg.mu.Unlock()
	b.seg.subscribers = nil
	return nil
}

// Send delivers frame to every subscriber on the segment, including
// the sender — mirroring a real CAN bus's broadcast semantics.
func (b *Bus) Send(frame passthru.Frame) error {
	b.seg.mu.Lock()
	subs := append([]passthru.FrameListener(nil), b.seg.subscribers...)
	b.seg.mu.Unlock()
	for _, sub := range subs {
		sub.Handle(frame)
	}
	return nil
}

func (b *Bus) Subscribe(callback passthru.FrameListener) error {
	b.seg.mu.Lock()
	defer b.seg.mu.Unlock()
	b.seg.subscribers = append(b.seg.subscribers, callback)
	return nil
}

// Reset drops a named segment entirely, for test isolation between cases.
func Reset(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(segments, name)
}
