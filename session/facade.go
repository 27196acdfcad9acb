// Package session orchestrates end-to-end connection: resolve a
// backend, open the channel, auto-probe or use a configured CAN-ID
// pair, install the flow-control filter, negotiate an extended
// diagnostic session, start keep-alive, and verify by reading VIN.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sambrody/motouds/internal/diagerr"
	"github.com/sambrody/motouds/internal/retry"
	"github.com/sambrody/motouds/isotp"
	"github.com/sambrody/motouds/passthru"
	"github.com/sambrody/motouds/uds"
)

// DID well-known identifiers this facade's supplemental helpers read.
const (
	DIDVIN           uint16 = 0xF190
	DIDECUInfo       uint16 = 0xF191
	DIDCalibrationID uint16 = 0xF192
	DIDECUSerial     uint16 = 0xF18C
	DIDDiagnosticID  uint16 = 0xF186
)

// CANIDPair is a request/response arbitration ID pair.
type CANIDPair struct {
	RequestID  uint32
	ResponseID uint32
}

// DefaultCandidates is the ordered probe list tried during auto-detect.
func DefaultCandidates() []CANIDPair {
	return []CANIDPair{
		{0x7E0, 0x7E8},
		{0x7DF, 0x7E8},
		{0x18DA10F1, 0x18DAF110},
		{0x7E1, 0x7E9},
		{0x7E2, 0x7EA},
	}
}

// Config carries everything the configuration collaborator would
// otherwise own: interface selection, bitrate, CAN-ID pair/candidates,
// ISO-TP parameters, timeouts, keep-alive interval and retry knobs.
type Config struct {
	Interface string // "socketcan", "brutellacan", "virtual"
	Channel   string
	Bitrate   int

	CANIDs     *CANIDPair // nil triggers auto-probe over Candidates
	Candidates []CANIDPair

	BS    uint8
	STmin uint8

	FrameTimeout    time.Duration
	ReadTimeout     time.Duration
	TesterPresentTimeout time.Duration
	VerifyTimeout   time.Duration

	KeepAliveInterval time.Duration

	ConnectRetries int
	RetryInitialDelay time.Duration
	RetryBackoffFactor float64

	ISOTPPolicy isotp.Policy
	UDSPolicy   uds.Policy
}

// DefaultConfig returns this facade's stated defaults.
func DefaultConfig() Config {
	return Config{
		Interface:            "virtual",
		Bitrate:              500000,
		Candidates:           DefaultCandidates(),
		BS:                   0,
		STmin:                0,
		FrameTimeout:         1000 * time.Millisecond,
		ReadTimeout:          2000 * time.Millisecond,
		TesterPresentTimeout: 500 * time.Millisecond,
		VerifyTimeout:        5000 * time.Millisecond,
		KeepAliveInterval:    2 * time.Second,
		ConnectRetries:       3,
		RetryInitialDelay:    time.Second,
		RetryBackoffFactor:   2.0,
		UDSPolicy:            uds.DefaultPolicy(),
	}
}

// Facade is the caller-facing surface: Connect, Disconnect,
// ReadDataByIdentifier, DiagnosticSessionControl, TesterPresent and an
// error-history accessor.
type Facade struct {
	cfg    Config
	logger *slog.Logger

	device  *passthru.Device
	channel *passthru.Channel
	isotp   *isotp.Session
	uds     *uds.Client
	pair    CANIDPair

	history *diagerr.History
}

// NewFacade constructs a disconnected Facade. cfg.Interface must name
// a backend already registered via passthru.RegisterInterface (import
// passthru/socketcan, passthru/brutellacan or passthru/virtual for
// their init() side effects).
func NewFacade(cfg Config, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		cfg:     cfg,
		logger:  logger.With("component", "session.Facade"),
		history: diagerr.NewHistory(),
	}
}

// ErrorHistory exposes per-kind counts and the last n entries. Counts
// by severity are not kept.
func (f *Facade) ErrorHistory(lastN int) (counts map[diagerr.Kind]int, last []*diagerr.Error) {
	return f.history.Counts(), f.history.Last(lastN)
}

func (f *Facade) record(err error) {
	if de, ok := err.(*diagerr.Error); ok {
		f.history.Append(de)
	}
}

// Connect opens the bus, resolves the CAN-ID pair, installs the
// flow-control filter, negotiates an extended session, starts
// keep-alive and verifies by reading VIN, rolling the whole sequence
// back and retrying up to ConnectRetries times with exponential
// backoff when verification fails.
func (f *Facade) Connect(ctx context.Context, autoDetect bool) error {
	_, err := retry.Do(ctx, "session.Connect", retry.Policy{
		MaxAttempts:   f.cfg.ConnectRetries,
		InitialDelay:  f.cfg.RetryInitialDelay,
		BackoffFactor: f.cfg.RetryBackoffFactor,
	}, func(attempt int) (struct{}, error) {
		err := f.connectOnce(ctx, autoDetect)
		if err != nil {
			f.record(err)
		}
		return struct{}{}, err
	})
	return err
}

func (f *Facade) connectOnce(ctx context.Context, autoDetect bool) error {
	bus, err := passthru.NewBus(f.cfg.Interface, f.cfg.Channel, f.cfg.Bitrate)
	if err != nil {
		return diagerr.Wrap(err, diagerr.KindConfiguration, diagerr.SeverityCritical, "failed to construct CAN bus backend")
	}

	f.device = passthru.NewDevice(bus, f.logger)
	if err := f.device.Open(ctx, retry.DefaultPolicy()); err != nil {
		return err
	}
	if err := f.device.Connect(passthru.ProtocolISO15765, 0, f.cfg.Bitrate); err != nil {
		return err
	}
	if err := f.device.HealthCheck(); err != nil {
		return err
	}

	f.channel = passthru.NewChannel(bus, f.logger)
	if err := f.channel.Start(ctx); err != nil {
		return err
	}

	pair, err := f.resolveCANIDs(ctx, autoDetect)
	if err != nil {
		f.channel.Stop(2 * time.Second)
		return err
	}
	f.pair = pair

	if _, err := f.channel.SetFlowControlFilter(pair.RequestID, pair.ResponseID); err != nil {
		return err
	}
	f.device.ClearBuffers(f.channel.Queue())

	f.isotp = isotp.NewSession(pair.RequestID, pair.ResponseID, f.cfg.BS, f.cfg.STmin, f.cfg.FrameTimeout, newChannelTransport(f.channel), f.logger)
	f.isotp.Policy = f.cfg.ISOTPPolicy
	f.uds = uds.NewClient(f.isotp, f.cfg.UDSPolicy, f.logger)

	sessCtx, cancel := context.WithTimeout(ctx, f.cfg.VerifyTimeout)
	defer cancel()
	if _, err := f.uds.DiagnosticSessionControl(sessCtx, uds.SessionExtended); err != nil {
		f.logger.Warn("failed to enter extended session, proceeding in default", "err", err)
	}

	f.uds.StartKeepAlive(ctx, f.cfg.KeepAliveInterval)

	verifyCtx, verifyCancel := context.WithTimeout(ctx, f.cfg.VerifyTimeout)
	defer verifyCancel()
	vin, err := f.uds.ReadDataByIdentifier(verifyCtx, DIDVIN)
	if err != nil {
		f.uds.StopKeepAlive(2 * time.Second)
		return diagerr.Wrap(err, diagerr.KindConnection, diagerr.SeverityRecoverable, "VIN verification failed")
	}
	if len(vin) != 17 {
		f.uds.StopKeepAlive(2 * time.Second)
		return diagerr.New(diagerr.KindConnection, diagerr.SeverityRecoverable, "VIN length mismatch").
			WithContext("length", len(vin))
	}
	return nil
}

// resolveCANIDs uses the configured pair, or probes Candidates in
// order attempting a VIN read on each, stopping the previously
// installed filter before installing the next.
func (f *Facade) resolveCANIDs(ctx context.Context, autoDetect bool) (CANIDPair, error) {
	if f.cfg.CANIDs != nil && !autoDetect {
		return *f.cfg.CANIDs, nil
	}

	var lastCancel func()
	for _, candidate := range f.cfg.Candidates {
		if lastCancel != nil {
			lastCancel()
		}
		cancel, err := f.channel.SetFlowControlFilter(candidate.RequestID, candidate.ResponseID)
		if err != nil {
			continue
		}
		lastCancel = cancel

		probeTransport := newChannelTransport(f.channel)
		probeISOTP := isotp.NewSession(candidate.RequestID, candidate.ResponseID, f.cfg.BS, f.cfg.STmin, f.cfg.FrameTimeout, probeTransport, f.logger)
		probeISOTP.Policy = f.cfg.ISOTPPolicy
		probeUDS := uds.NewClient(probeISOTP, f.cfg.UDSPolicy, f.logger)

		probeCtx, probeCancel := context.WithTimeout(ctx, f.cfg.ReadTimeout)
		vin, err := probeUDS.ReadDataByIdentifier(probeCtx, DIDVIN)
		probeCancel()
		if err == nil && len(vin) == 17 {
			return candidate, nil
		}
	}
	if lastCancel != nil {
		lastCancel()
	}
	return CANIDPair{}, diagerr.New(diagerr.KindConnection, diagerr.SeverityCritical, "no candidate CAN-ID pair responded")
}

// Disconnect reverses Connect's sequence, best-effort at every step.
func (f *Facade) Disconnect() {
	if f.uds != nil {
		f.uds.StopKeepAlive(2 * time.Second)
	}
	if f.channel != nil {
		f.channel.Stop(2 * time.Second)
	}
	if f.device != nil {
		if err := f.device.Disconnect(); err != nil {
			f.logger.Warn("disconnect reported an error", "err", err)
		}
	}
}

// ReadDataByIdentifier is the caller-facing passthrough to the UDS engine.
func (f *Facade) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	if f.uds == nil {
		return nil, diagerr.New(diagerr.KindConfiguration, diagerr.SeverityCritical, "not connected")
	}
	data, err := f.uds.ReadDataByIdentifier(ctx, did)
	if err != nil {
		f.record(err)
	}
	return data, err
}

// DiagnosticSessionControl is the caller-facing passthrough to the UDS engine.
func (f *Facade) DiagnosticSessionControl(ctx context.Context, kind uint8) error {
	if f.uds == nil {
		return diagerr.New(diagerr.KindConfiguration, diagerr.SeverityCritical, "not connected")
	}
	_, err := f.uds.DiagnosticSessionControl(ctx, kind)
	if err != nil {
		f.record(err)
	}
	return err
}

// TesterPresent is the caller-facing passthrough to the UDS engine.
func (f *Facade) TesterPresent(ctx context.Context, suppressResponse bool) error {
	if f.uds == nil {
		return diagerr.New(diagerr.KindConfiguration, diagerr.SeverityCritical, "not connected")
	}
	err := f.uds.TesterPresent(ctx, suppressResponse)
	if err != nil {
		f.record(err)
	}
	return err
}

// ReadSerialNumber is a supplemental wrapper over the well-known ECU
// serial DID, raw bytes only.
func (f *Facade) ReadSerialNumber(ctx context.Context) ([]byte, error) {
	return f.ReadDataByIdentifier(ctx, DIDECUSerial)
}

// ReadCalibrationID is a supplemental wrapper over the well-known
// calibration DID, raw bytes only.
func (f *Facade) ReadCalibrationID(ctx context.Context) ([]byte, error) {
	return f.ReadDataByIdentifier(ctx, DIDCalibrationID)
}

func (p CANIDPair) String() string {
	return fmt.Sprintf("req=0x%X resp=0x%X", p.RequestID, p.ResponseID)
}
