package passthru

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambrody/motouds/internal/retry"
)

type recordingBus struct {
	sent []Frame
}

func (b *recordingBus) Connect(...any) error          { return nil }
func (b *recordingBus) Disconnect() error             { return nil }
func (b *recordingBus) Subscribe(FrameListener) error { return nil }
func (b *recordingBus) Send(frame Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}

func TestWriteMessageRoundTripsThroughABILayout(t *testing.T) {
	bus := &recordingBus{}
	d := NewDevice(bus, nil)
	require.NoError(t, d.Open(context.Background(), retry.DefaultPolicy()))

	payload := []byte{0x02, 0x10, 0x03}
	err := d.WriteMessage(context.Background(), 0x18DA10F1, FlagExtendedID, payload)
	require.NoError(t, err)

	require.Len(t, bus.sent, 1)
	assert.EqualValues(t, 0x18DA10F1, bus.sent[0].ID)
	assert.Equal(t, FlagExtendedID, bus.sent[0].Flags)
	assert.Equal(t, payload, bus.sent[0].Payload())
}
