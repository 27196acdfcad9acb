// Package config loads a connection profile from an INI file using
// gopkg.in/ini.v1. Everything here is an external collaborator: the
// core packages (passthru/isotp/uds/session) never import it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/sambrody/motouds/session"
)

// Profile is the flattened configuration consumed by the session
// facade: interface selection, bitrate, CAN-ID pair and candidates,
// ISO-TP parameters, timeouts, keep-alive interval, retry knobs, and
// the diagnostic-report feature flag.
type Profile struct {
	Interface string
	Channel   string
	Bitrate   int

	RequestID  uint32
	ResponseID uint32
	AutoDetect bool

	BS    uint8
	STmin uint8

	FrameTimeout         time.Duration
	ReadTimeout          time.Duration
	TesterPresentTimeout time.Duration
	VerifyTimeout        time.Duration

	KeepAliveInterval time.Duration

	ConnectRetries     int
	RetryInitialDelay  time.Duration
	RetryBackoffFactor float64

	EmitDiagnosticReport bool
}

// Load parses path as an INI file with a [can], [uds] and [retry] section.
func Load(path string) (Profile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	p := DefaultProfile()

	can := cfg.Section("can")
	p.Interface = can.Key("interface").MustString(p.Interface)
	p.Channel = can.Key("channel").MustString(p.Channel)
	p.Bitrate = can.Key("bitrate").MustInt(p.Bitrate)
	p.AutoDetect = can.Key("auto_detect").MustBool(p.AutoDetect)

	if raw := can.Key("request_id").String(); raw != "" {
		id, err := parseCANID(raw)
		if err != nil {
			return Profile{}, err
		}
		p.RequestID = id
	}
	if raw := can.Key("response_id").String(); raw != "" {
		id, err := parseCANID(raw)
		if err != nil {
			return Profile{}, err
		}
		p.ResponseID = id
	}

	uds := cfg.Section("uds")
	p.BS = uint8(uds.Key("block_size").MustInt(int(p.BS)))
	p.STmin = uint8(uds.Key("st_min").MustInt(int(p.STmin)))
	p.FrameTimeout = durationMS(uds, "frame_timeout_ms", p.FrameTimeout)
	p.ReadTimeout = durationMS(uds, "read_timeout_ms", p.ReadTimeout)
	p.TesterPresentTimeout = durationMS(uds, "tester_present_timeout_ms", p.TesterPresentTimeout)
	p.VerifyTimeout = durationMS(uds, "verify_timeout_ms", p.VerifyTimeout)
	p.KeepAliveInterval = durationMS(uds, "keep_alive_interval_ms", p.KeepAliveInterval)

	retry := cfg.Section("retry")
	p.ConnectRetries = retry.Key("max_attempts").MustInt(p.ConnectRetries)
	p.RetryInitialDelay = durationMS(retry, "initial_delay_ms", p.RetryInitialDelay)
	p.RetryBackoffFactor = retry.Key("backoff_factor").MustFloat64(p.RetryBackoffFactor)

	report := cfg.Section("report")
	p.EmitDiagnosticReport = report.Key("enabled").MustBool(p.EmitDiagnosticReport)

	return p, nil
}

func durationMS(section *ini.Section, key string, fallback time.Duration) time.Duration {
	ms := section.Key(key).MustInt(int(fallback / time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func parseCANID(raw string) (uint32, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	id, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("config: invalid CAN ID %q: %w", raw, err)
	}
	return uint32(id), nil
}

// DefaultProfile returns a baseline profile (500 kbit/s, 0x7E0/0x7E8,
// BS=0/STmin=0, the four timeouts below, 2s keep-alive, 3 retries /
// 1s initial delay / factor 2).
func DefaultProfile() Profile {
	return Profile{
		Interface:            "virtual",
		Bitrate:              500000,
		RequestID:            0x7E0,
		ResponseID:           0x7E8,
		FrameTimeout:         1000 * time.Millisecond,
		ReadTimeout:          2000 * time.Millisecond,
		TesterPresentTimeout: 500 * time.Millisecond,
		VerifyTimeout:        5000 * time.Millisecond,
		KeepAliveInterval:    2 * time.Second,
		ConnectRetries:       3,
		RetryInitialDelay:    time.Second,
		RetryBackoffFactor:   2.0,
	}
}

// ToSessionConfig builds a session.Config from this profile. AutoDetect
// being true leaves CANIDs nil so the facade probes Candidates.
func (p Profile) ToSessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.Interface = p.Interface
	sc.Channel = p.Channel
	sc.Bitrate = p.Bitrate
	sc.BS = p.BS
	sc.STmin = p.STmin
	sc.FrameTimeout = p.FrameTimeout
	sc.ReadTimeout = p.ReadTimeout
	sc.TesterPresentTimeout = p.TesterPresentTimeout
	sc.VerifyTimeout = p.VerifyTimeout
	sc.KeepAliveInterval = p.KeepAliveInterval
	sc.ConnectRetries = p.ConnectRetries
	sc.RetryInitialDelay = p.RetryInitialDelay
	sc.RetryBackoffFactor = p.RetryBackoffFactor

	if !p.AutoDetect {
		sc.CANIDs = &session.CANIDPair{RequestID: p.RequestID, ResponseID: p.ResponseID}
	}
	return sc
}
