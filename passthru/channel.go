package passthru

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Channel is a handle to an opened CAN channel: it owns the installed
// flow-control filter, the background drain goroutine, and the
// FrameQueue frames land in. Lifecycle: created by Connect, destroyed
// by Disconnect.
type Channel struct {
	logger *slog.Logger
	bus    Bus
	queue  *FrameQueue

	mu           sync.Mutex
	filterCancel func()
	requestID    uint32
	responseID   uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup

	raw chan Frame

	lastDrainErrLog time.Time
}

// NewChannel wraps bus with an empty FrameQueue.
func NewChannel(bus Bus, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		bus:    bus,
		queue:  NewFrameQueue(),
		logger: logger.With("component", "passthru.Channel"),
		raw:    make(chan Frame, 256),
	}
}

// Queue exposes the FrameQueue ISO-TP reassembly drains.
func (c *Channel) Queue() *FrameQueue {
	return c.queue
}

// Handle implements FrameListener: the bus calls this directly on
// frame arrival. It never blocks — frames are staged onto a buffered
// channel for the drain goroutine to move into the FrameQueue.
func (c *Channel) Handle(frame Frame) {
	select {
	case c.raw <- frame:
	default:
		c.logger.Warn("raw frame buffer full, dropping frame", "id", frame.ID)
	}
}

// SetFlowControlFilter installs a triple (mask=0xFFFFFFFF,
// pattern=responseID, flowControl=requestID): only frames arriving on
// responseID are queued; requestID is where outbound Flow Control
// frames are written. The returned cancel func clears the queued
// frames for responseID. Installing a replacement filter also clears
// the previous filter's queued frames.
func (c *Channel) SetFlowControlFilter(requestID, responseID uint32) (cancel func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filterCancel != nil {
		c.queue.Clear(c.responseID)
		c.filterCancel = nil
	}

	c.requestID = requestID
	c.responseID = responseID

	myCancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.queue.Clear(responseID)
	}
	c.filterCancel = myCancel
	return myCancel, nil
}

// Start subscribes to the bus and launches the drain goroutine. It
// returns once the subscription succeeds; the goroutine runs until ctx
// is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(c); err != nil {
		return classify("passthru.Subscribe", StatusFailed).WithContext("cause", err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(ctx)
	}()
	return nil
}

// drain polls the raw frame buffer and appends payloads matching the
// installed filter's responseID into the FrameQueue under its mutex, capped at 10 frames per tick so one
// noisy arbitration ID can't starve the others. Errors never kill the
// loop.
func (c *Channel) drain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	c.logger.Info("starting drain task")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("drain task stopped")
			return
		case <-ticker.C:
			c.drainBatch(10)
		case frame := <-c.raw:
			c.pushFrame(frame)
			c.drainBatch(9)
		}
	}
}

func (c *Channel) drainBatch(max int) {
	for i := 0; i < max; i++ {
		select {
		case frame := <-c.raw:
			c.pushFrame(frame)
		default:
			return
		}
	}
}

func (c *Channel) pushFrame(frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			if time.Since(c.lastDrainErrLog) > time.Second {
				c.logger.Error("recovered panic in drain task", "panic", r)
				c.lastDrainErrLog = time.Now()
			}
		}
	}()
	c.mu.Lock()
	responseID := c.responseID
	c.mu.Unlock()
	if frame.ID != responseID {
		return
	}
	c.queue.Push(frame.ID, frame.Payload())
}

// WriteFrame sends a raw frame on the bus, no ID prefix framing
// needed since Bus.Send already takes a typed Frame.
func (c *Channel) WriteFrame(frame Frame) error {
	if err := c.bus.Send(frame); err != nil {
		return classify("passthru.Send", StatusFailed).WithContext("cause", err.Error())
	}
	return nil
}

// Stop cancels the drain goroutine and waits up to timeout for it to exit.
func (c *Channel) Stop(timeout time.Duration) {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("drain task did not stop within timeout")
	}
}
