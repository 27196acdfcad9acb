package session

import (
	"github.com/sambrody/motouds/passthru"
)

// channelTransport adapts a *passthru.Channel to isotp.Transport:
// writing through the channel and popping payloads off its FrameQueue.
type channelTransport struct {
	channel *passthru.Channel
}

func newChannelTransport(ch *passthru.Channel) *channelTransport {
	return &channelTransport{channel: ch}
}

func (t *channelTransport) Send(id uint32, data [8]byte) error {
	return t.channel.WriteFrame(passthru.NewFrame(id, 0, data[:]))
}

func (t *channelTransport) Recv(id uint32) ([]byte, bool) {
	return t.channel.Queue().Pop(id)
}
