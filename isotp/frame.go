// Package isotp implements ISO 15765-2 classical addressing over
// 8-byte CAN frames: Single/First/Consecutive/Flow-Control framing,
// segmentation and reassembly. It has no dependency on the passthru
// package — it drives an abstract Transport instead of a concrete bus.
package isotp

import (
	"github.com/sambrody/motouds/internal/diagerr"
)

// pciType is the high nibble of a frame's first byte.
type pciType uint8

const (
	pciSingleFrame       pciType = 0x0
	pciFirstFrame        pciType = 0x1
	pciConsecutiveFrame  pciType = 0x2
	pciFlowControlFrame  pciType = 0x3
)

// fcFlag is the low nibble of a Flow Control frame's first byte.
type fcFlag uint8

const (
	fcContinue fcFlag = 0
	fcWait     fcFlag = 1
	fcOverflow fcFlag = 2
)

// MaxPayload is the largest UDS payload ISO-TP classical addressing can carry.
const MaxPayload = 4095

// buildSingleFrame packs payload (1..7 bytes) into one 8-byte CAN frame.
func buildSingleFrame(payload []byte) [8]byte {
	var out [8]byte
	out[0] = byte(pciSingleFrame)<<4 | byte(len(payload))
	copy(out[1:], payload)
	return out
}

// buildFirstFrame packs the 12-bit total length and the first 6 bytes
// of payload into the FF.
func buildFirstFrame(totalLen int, first6 []byte) [8]byte {
	var out [8]byte
	out[0] = byte(pciFirstFrame)<<4 | byte((totalLen>>8)&0x0F)
	out[1] = byte(totalLen & 0xFF)
	copy(out[2:], first6)
	return out
}

// buildConsecutiveFrame packs a sequence number (0..15, wrapping) and
// up to 7 bytes of payload into a CF.
func buildConsecutiveFrame(seq uint8, chunk []byte) [8]byte {
	var out [8]byte
	out[0] = byte(pciConsecutiveFrame)<<4 | (seq & 0x0F)
	copy(out[1:], chunk)
	return out
}

// buildFlowControl packs a Flow Control frame.
func buildFlowControl(flag fcFlag, bs uint8, stmin uint8) [8]byte {
	var out [8]byte
	out[0] = byte(pciFlowControlFrame)<<4 | byte(flag)
	out[1] = bs
	out[2] = stmin
	return out
}

// parsedFrame is the decoded view of a received 8-byte CAN payload.
type parsedFrame struct {
	kind      pciType
	sfLen     int
	ffTotal   int
	ffData    []byte
	cfSeq     uint8
	cfData    []byte
	fcFlag    fcFlag
	fcBS      uint8
	fcSTmin   uint8
}

// parseFrame decodes a raw 8-byte (or shorter) CAN payload's PCI.
func parseFrame(raw []byte) (parsedFrame, error) {
	if len(raw) == 0 {
		return parsedFrame{}, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "empty ISO-TP frame")
	}
	kind := pciType(raw[0] >> 4)
	switch kind {
	case pciSingleFrame:
		l := int(raw[0] & 0x0F)
		if l > 7 || len(raw) < 1+l {
			return parsedFrame{}, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "truncated or oversized single frame")
		}
		return parsedFrame{kind: kind, sfLen: l, ffData: append([]byte(nil), raw[1:1+l]...)}, nil
	case pciFirstFrame:
		if len(raw) < 8 {
			return parsedFrame{}, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "truncated first frame")
		}
		total := (int(raw[0]&0x0F) << 8) | int(raw[1])
		if total < 8 || total > MaxPayload {
			return parsedFrame{}, diagerr.New(diagerr.KindData, diagerr.SeverityRecoverable, "first frame declares invalid total length")
		}
		return parsedFrame{kind: kind, ffTotal: total, ffData: append([]byte(nil), raw[2:8]...)}, nil
	case pciConsecutiveFrame:
		seq := raw[0] & 0x0F
		data := raw[1:]
		if len(data) > 7 {
			data = data[:7]
		}
		return parsedFrame{kind: kind, cfSeq: seq, cfData: append([]byte(nil), data...)}, nil
	case pciFlowControlFrame:
		if len(raw) < 3 {
			return parsedFrame{}, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "truncated flow control frame")
		}
		flag := fcFlag(raw[0] & 0x0F)
		return parsedFrame{kind: kind, fcFlag: flag, fcBS: raw[1], fcSTmin: raw[2]}, nil
	default:
		return parsedFrame{}, diagerr.New(diagerr.KindProtocol, diagerr.SeverityRecoverable, "unknown ISO-TP frame type")
	}
}

// stMinDelay converts an encoded STmin byte into a real delay, per ISO
// 15765: 0x00-0x7F are milliseconds, 0xF1-0xF9 are 100-900us steps.
func stMinDelay(encoded uint8) (millis int, micros int) {
	switch {
	case encoded <= 0x7F:
		return int(encoded), 0
	case encoded >= 0xF1 && encoded <= 0xF9:
		return 0, int(encoded-0xF0) * 100
	default:
		return 0, 0
	}
}
