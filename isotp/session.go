package isotp

import (
	"context"
	"log/slog"
	"time"

	"github.com/sambrody/motouds/internal/diagerr"
)

// Transport is the narrow surface ISO-TP needs from the layer below
// it: write a raw 8-byte frame on requestID, and pull the next queued
// payload on responseID (false if nothing is queued yet).
type Transport interface {
	Send(id uint32, data [8]byte) error
	Recv(id uint32) ([]byte, bool)
}

// Policy tunes reassembly behavior left as an engineering judgment call.
type Policy struct {
	// StrictSequencing, when true, fails reassembly on the first CF
	// sequence-number mismatch instead of logging and continuing.
	// Default false: real ECUs occasionally glitch a sequence number
	// without actually losing data, so lenient reassembly is the more
	// useful default.
	StrictSequencing bool
}

// Session is one ISO-TP conversation: a request/response CAN-ID pair,
// flow-control parameters and timeouts.
type Session struct {
	RequestID    uint32
	ResponseID   uint32
	BS           uint8
	STmin        uint8
	FrameTimeout time.Duration

	Policy    Policy
	transport Transport
	logger    *slog.Logger
}

// NewSession builds a Session driving transport.
func NewSession(requestID, responseID uint32, bs, stmin uint8, frameTimeout time.Duration, transport Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		RequestID:    requestID,
		ResponseID:   responseID,
		BS:           bs,
		STmin:        stmin,
		FrameTimeout: frameTimeout,
		transport:    transport,
		logger:       logger.With("component", "isotp.Session"),
	}
}

// Send segments payload into SF or FF+CFs, honoring Flow Control.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "cannot send empty ISO-TP payload")
	}
	if len(payload) > MaxPayload {
		return diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "payload exceeds ISO-TP maximum of 4095 bytes").
			WithContext("length", len(payload))
	}

	if len(payload) <= 7 {
		return s.transport.Send(s.RequestID, buildSingleFrame(payload))
	}

	if err := s.transport.Send(s.RequestID, buildFirstFrame(len(payload), payload[:6])); err != nil {
		return err
	}
	remaining := payload[6:]

	bs, stmin, err := s.awaitFlowControl(ctx)
	if err != nil {
		return err
	}

	seq := uint8(1)
	sentInBlock := 0
	for len(remaining) > 0 {
		n := 7
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := s.transport.Send(s.RequestID, buildConsecutiveFrame(seq, remaining[:n])); err != nil {
			return err
		}
		remaining = remaining[n:]
		seq = (seq + 1) & 0x0F
		sentInBlock++

		if bs != 0 && sentInBlock == int(bs) && len(remaining) > 0 {
			bs, stmin, err = s.awaitFlowControl(ctx)
			if err != nil {
				return err
			}
			sentInBlock = 0
		}
		if len(remaining) > 0 {
			sleepSTmin(ctx, stmin)
		}
	}
	return nil
}

// awaitFlowControl waits for an FC frame on ResponseID, looping
// through any number of "wait" flags before a "continue" or failing
// on "overflow"/timeout.
func (s *Session) awaitFlowControl(ctx context.Context) (bs uint8, stmin uint8, err error) {
	deadline := time.Now().Add(s.FrameTimeout)
	for {
		raw, ok := s.transport.Recv(s.ResponseID)
		if !ok {
			if time.Now().After(deadline) {
				return 0, 0, diagerr.New(diagerr.KindTimeout, diagerr.SeverityRecoverable, "timed out waiting for flow control")
			}
			select {
			case <-ctx.Done():
				return 0, 0, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		parsed, perr := parseFrame(raw)
		if perr != nil || parsed.kind != pciFlowControlFrame {
			continue
		}
		switch parsed.fcFlag {
		case fcContinue:
			return parsed.fcBS, parsed.fcSTmin, nil
		case fcWait:
			deadline = time.Now().Add(s.FrameTimeout)
			continue
		case fcOverflow:
			return 0, 0, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "flow control reported overflow")
		default:
			continue
		}
	}
}

func sleepSTmin(ctx context.Context, encoded uint8) {
	millis, micros := stMinDelay(encoded)
	d := time.Duration(millis)*time.Millisecond + time.Duration(micros)*time.Microsecond
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Receive drains ResponseID, reassembling SF/FF+CFs into one payload.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(s.FrameTimeout)

	raw, err := s.waitFrame(ctx, &deadline)
	if err != nil {
		return nil, err
	}
	parsed, perr := parseFrame(raw)
	if perr != nil {
		return nil, perr
	}

	switch parsed.kind {
	case pciSingleFrame:
		return parsed.ffData, nil
	case pciFirstFrame:
		return s.receiveMultiFrame(ctx, parsed, &deadline)
	default:
		return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "unexpected ISO-TP frame as start of response")
	}
}

func (s *Session) receiveMultiFrame(ctx context.Context, ff parsedFrame, deadline *time.Time) ([]byte, error) {
	total := ff.ffTotal
	assembled := make([]byte, 0, total)
	assembled = append(assembled, ff.ffData...)

	if err := s.transport.Send(s.RequestID, buildFlowControl(fcContinue, s.BS, s.STmin)); err != nil {
		return nil, err
	}

	expected := uint8(1)
	for len(assembled) < total {
		raw, err := s.waitFrame(ctx, deadline)
		if err != nil {
			return nil, err
		}
		parsed, perr := parseFrame(raw)
		if perr != nil {
			return nil, perr
		}
		if parsed.kind != pciConsecutiveFrame {
			continue
		}
		if parsed.cfSeq != expected {
			if s.Policy.StrictSequencing {
				return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "consecutive frame sequence mismatch").
					WithContext("expected", expected).WithContext("got", parsed.cfSeq)
			}
			s.logger.Warn("consecutive frame sequence mismatch, continuing leniently",
				"expected", expected, "got", parsed.cfSeq)
		}
		remaining := total - len(assembled)
		n := len(parsed.cfData)
		if n > remaining {
			n = remaining
		}
		assembled = append(assembled, parsed.cfData[:n]...)
		expected = (expected + 1) & 0x0F
	}
	return assembled[:total], nil
}

// waitFrame polls the response queue with a short sleep until a frame
// arrives or deadline passes; interruptible by ctx, per spec's
// requirement that reassembly be abortable by disconnect.
func (s *Session) waitFrame(ctx context.Context, deadline *time.Time) ([]byte, error) {
	for {
		if raw, ok := s.transport.Recv(s.ResponseID); ok {
			return raw, nil
		}
		if time.Now().After(*deadline) {
			return nil, diagerr.New(diagerr.KindTimeout, diagerr.SeverityRecoverable, "timed out waiting for ISO-TP frame")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
