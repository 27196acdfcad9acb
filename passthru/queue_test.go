package passthru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameQueuePreservesArrivalOrder(t *testing.T) {
	q := NewFrameQueue()
	q.Push(0x7E8, []byte{1, 2, 3})
	q.Push(0x7E8, []byte{4, 5})
	q.Push(0x7DF, []byte{9})

	p1, ok := q.Pop(0x7E8)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, p1)

	p2, ok := q.Pop(0x7E8)
	assert.True(t, ok)
	assert.Equal(t, []byte{4, 5}, p2)

	_, ok = q.Pop(0x7E8)
	assert.False(t, ok)

	p3, ok := q.Pop(0x7DF)
	assert.True(t, ok)
	assert.Equal(t, []byte{9}, p3)
}

func TestFrameQueueClear(t *testing.T) {
	q := NewFrameQueue()
	q.Push(0x7E8, []byte{1})
	q.Clear(0x7E8)
	_, ok := q.Pop(0x7E8)
	assert.False(t, ok)
}

func TestMessageSplitRoundTrip(t *testing.T) {
	msg := NewMessage(0x18DAF110, 0, []byte{0x02, 0x10, 0x03, 0, 0, 0, 0})
	id, payload := msg.Split()
	assert.EqualValues(t, 0x18DAF110, id)
	assert.Equal(t, []byte{0x02, 0x10, 0x03, 0, 0, 0, 0}, payload)
}

func TestStatusClassification(t *testing.T) {
	err := classify("test", StatusDeviceNotConnected)
	assert.Equal(t, "hardware", string(err.Kind))
	assert.Contains(t, err.RecoveryHint, "reseat")

	err = classify("test", StatusTimeout)
	assert.Equal(t, "timeout", string(err.Kind))

	err = classify("test", StatusInvalidChannelID)
	assert.Equal(t, "configuration", string(err.Kind))
}
