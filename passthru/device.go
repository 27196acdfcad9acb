package passthru

import (
	"context"
	"log/slog"
	"time"

	"github.com/sambrody/motouds/internal/diagerr"
	"github.com/sambrody/motouds/internal/retry"
)

// Device wraps a Bus plus the status classification table, providing
// open/connect/filter/write/read operations over a PassThru channel.
// There is no vendor DLL to dlopen here — platform-specific dynamic
// library search is an external collaborator's concern; the concrete
// transport is whatever Bus a backend package supplies.
type Device struct {
	logger *slog.Logger
	bus    Bus
	opened bool
}

// NewDevice wraps an already-constructed Bus.
func NewDevice(bus Bus, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{bus: bus, logger: logger.With("component", "passthru")}
}

// Open marks the device ready, retrying on Hardware errors with
// exponential backoff via internal/retry.
func (d *Device) Open(ctx context.Context, policy retry.Policy) error {
	_, err := retry.Do(ctx, "passthru.Open", policy, func(attempt int) (struct{}, error) {
		if d.opened {
			return struct{}{}, nil
		}
		d.opened = true
		return struct{}{}, nil
	})
	return err
}

// Connect establishes the CAN channel at the given bitrate via the
// underlying Bus's Connect.
func (d *Device) Connect(protocol uint32, flags uint32, bitrate int) error {
	if err := d.bus.Connect(protocol, flags, bitrate); err != nil {
		return classify("passthru.Connect", StatusFailed).WithContext("cause", err.Error())
	}
	return nil
}

// Disconnect tears down the channel, best-effort.
func (d *Device) Disconnect() error {
	if err := d.bus.Disconnect(); err != nil {
		d.logger.Warn("disconnect reported an error", "err", err)
		return classify("passthru.Disconnect", StatusFailed).WithContext("cause", err.Error())
	}
	return nil
}

// WriteMessage sends a single CAN frame carrying id/payload, with a
// default 100ms budget applied when the caller's context has no deadline.
func (d *Device) WriteMessage(ctx context.Context, id uint32, flags uint8, payload []byte) error {
	if len(payload) > 8 {
		return diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "payload exceeds 8 CAN data bytes").
			WithContext("length", len(payload))
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWriteTimeout)
		defer cancel()
	}
	// Marshal through the ABI's Message layout before handing off to
	// the bus, then unpack it back to a Frame: Bus.Send takes a Frame
	// directly, but the byte-exact ID-prefix framing still has to
	// happen somewhere on the write path.
	msg := NewMessage(id, uint32(flags), payload)
	msgID, msgPayload := msg.Split()
	frame := NewFrame(msgID, flags, msgPayload)
	done := make(chan error, 1)
	go func() { done <- d.bus.Send(frame) }()
	select {
	case err := <-done:
		if err != nil {
			return classify("passthru.WriteMessage", StatusFailed).WithContext("cause", err.Error())
		}
		return nil
	case <-ctx.Done():
		return diagerr.New(diagerr.KindTimeout, diagerr.SeverityRecoverable, "write_message timed out").
			WithHint("increase timeout or check wiring")
	}
}

// HealthCheck reports an error unless Open has succeeded. It sends
// nothing on the Bus and does not probe the adapter itself.
func (d *Device) HealthCheck() error {
	if !d.opened {
		return diagerr.New(diagerr.KindConfiguration, diagerr.SeverityCritical, "device not open")
	}
	return nil
}

// ClearBuffers drops every payload queued in q. It clears only this
// host-side queue; the Bus and the adapter are not asked to drop
// anything, and no error is returned.
func (d *Device) ClearBuffers(q *FrameQueue) {
	if q != nil {
		q.ClearAll()
	}
}

// DefaultWriteTimeout is the default CAN write budget.
const DefaultWriteTimeout = 100 * time.Millisecond
