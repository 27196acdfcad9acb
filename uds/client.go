// Package uds implements the ISO 14229 request/response engine:
// service framing, positive/negative response classification, the
// session-control/tester-present/read-by-identifier services, and a
// background keep-alive task.
package uds

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sambrody/motouds/internal/diagerr"
)

// Session kinds, ISO 14229 DiagnosticSessionControl sub-functions.
const (
	SessionDefault     uint8 = 0x01
	SessionProgramming uint8 = 0x02
	SessionExtended    uint8 = 0x03
	SessionSafety      uint8 = 0x04
)

// Service IDs this engine implements.
const (
	sidDiagnosticSessionControl uint8 = 0x10
	sidTesterPresent            uint8 = 0x3E
	sidReadDataByIdentifier     uint8 = 0x22
	sidNegativeResponse         uint8 = 0x7F
)

// Requester is the narrow surface the UDS engine needs from ISO-TP:
// send a UDS-layer payload and await the reassembled response.
type Requester interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Policy tunes engineering judgment calls left open by the protocol.
type Policy struct {
	// ReadRetries bounds the immediate retry allowed on transient
	// Protocol/Timeout errors during ReadDataByIdentifier (never on
	// NRCs). Default 1.
	ReadRetries int
}

// DefaultPolicy returns the client's stated defaults.
func DefaultPolicy() Policy {
	return Policy{ReadRetries: 1}
}

// Client drives one UDS conversation over an isotp.Session-shaped
// Requester.
type Client struct {
	logger *slog.Logger
	transport Requester
	policy Policy

	mu           sync.Mutex // single-writer: serializes caller requests against keep-alive
	sessionKind  uint8
	keepAliveCancel context.CancelFunc
	keepAliveWG sync.WaitGroup
}

// NewClient wraps transport. sessionKind starts at SessionDefault.
func NewClient(transport Requester, policy Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport:   transport,
		policy:      policy,
		logger:      logger.With("component", "uds.Client"),
		sessionKind: SessionDefault,
	}
}

// SessionKind returns the current diagnostic session kind.
func (c *Client) SessionKind() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKind
}

// Request builds [sid, params...], sends it via ISO-TP and classifies
// the reassembled response. Serialized against keep-alive via mu so at
// most one outstanding request exists per session.
func (c *Client) Request(ctx context.Context, sid uint8, params []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, sid, params)
}

func (c *Client) requestLocked(ctx context.Context, sid uint8, params []byte) ([]byte, error) {
	req := make([]byte, 0, 1+len(params))
	req = append(req, sid)
	req = append(req, params...)

	if err := c.transport.Send(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return classifyResponse(sid, resp)
}

// classifyResponse sorts a reassembled response into a positive
// payload, an NRC-carrying negative response, or a malformed/
// unexpected response the transport layer produced on its own.
func classifyResponse(sid uint8, resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "empty UDS response")
	}

	switch {
	case resp[0] == sid+0x40:
		return resp[1:], nil

	case resp[0] == sidNegativeResponse:
		if len(resp) < 3 {
			return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "truncated negative response")
		}
		nrc := NRC(resp[2])
		if nrc == NRCResponsePending {
			return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityWarning, "response pending").
				WithContext("nrc", fmt.Sprintf("0x%02X", uint8(nrc)))
		}
		return nil, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable,
			fmt.Sprintf("%s (NRC 0x%02X)", nrc.String(), uint8(nrc))).
			WithContext("nrc", uint8(nrc)).WithContext("sid", resp[1])

	default:
		return resp, diagerr.New(diagerr.KindProtocol, diagerr.SeverityWarning, "unexpected response SID").
			WithContext("got", resp[0]).WithContext("want", sid+0x40)
	}
}

// DiagnosticSessionControl requests session kind and, on success,
// updates the client's tracked session kind.
func (c *Client) DiagnosticSessionControl(ctx context.Context, kind uint8) ([]byte, error) {
	resp, err := c.Request(ctx, sidDiagnosticSessionControl, []byte{kind})
	if err != nil {
		if de, ok := err.(*diagerr.Error); ok && de.Severity == diagerr.SeverityWarning {
			return resp, err
		}
		return nil, err
	}
	c.mu.Lock()
	c.sessionKind = kind
	c.mu.Unlock()
	return resp, nil
}

// TesterPresent sends 0x3E with sub-function 0x00 (response requested)
// or 0x80 (suppressed). Suppressed calls do not wait for a response.
func (c *Client) TesterPresent(ctx context.Context, suppressResponse bool) error {
	sub := byte(0x00)
	if suppressResponse {
		sub = 0x80
	}

	if !suppressResponse {
		_, err := c.Request(ctx, sidTesterPresent, []byte{sub})
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	req := []byte{sidTesterPresent, sub}
	return c.transport.Send(ctx, req)
}

// ReadDataByIdentifier requests DID, validates the DID echo, and
// retries once (never on NRCs) on transient Protocol/Timeout errors.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	params := []byte{byte(did >> 8), byte(did)}

	var lastErr error
	attempts := c.policy.ReadRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.Request(ctx, sidReadDataByIdentifier, params)
		if err != nil {
			lastErr = err
			if attempt < attempts && isTransientReadError(err) {
				continue
			}
			return nil, err
		}
		if len(resp) < 2 {
			return nil, diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "read data by identifier response too short")
		}
		echoed := uint16(resp[0])<<8 | uint16(resp[1])
		if echoed != did {
			return nil, diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "DID echo mismatch").
				WithContext("requested", did).WithContext("echoed", echoed)
		}
		return resp[2:], nil
	}
	return nil, lastErr
}

// isTransientReadError reports whether err is worth one immediate
// retry: Timeout errors, or a Protocol error that did not carry an
// NRC (an empty/truncated/unexpected response the transport produced
// on its own, not a negative response from the ECU).
func isTransientReadError(err error) bool {
	de, ok := err.(*diagerr.Error)
	if !ok {
		return false
	}
	if de.Kind == diagerr.KindTimeout {
		return true
	}
	if de.Kind == diagerr.KindProtocol {
		_, hasNRC := de.Context["nrc"]
		return !hasNRC
	}
	return false
}

// StartKeepAlive launches a goroutine sending suppressed TesterPresent
// at interval until ctx is cancelled or StopKeepAlive is called.
func (c *Client) StartKeepAlive(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	c.keepAliveCancel = cancel

	c.keepAliveWG.Add(1)
	go func() {
		defer c.keepAliveWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reqCtx, reqCancel := context.WithTimeout(ctx, 500*time.Millisecond)
				if err := c.TesterPresent(reqCtx, true); err != nil {
					c.logger.Warn("keep-alive tester present failed", "err", err)
				}
				reqCancel()
			}
		}
	}()
}

// StopKeepAlive cancels the keep-alive goroutine and waits up to
// timeout for it to exit.
func (c *Client) StopKeepAlive(timeout time.Duration) {
	if c.keepAliveCancel == nil {
		return
	}
	c.keepAliveCancel()
	done := make(chan struct{})
	go func() {
		c.keepAliveWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("keep-alive task did not stop within timeout")
	}
}
