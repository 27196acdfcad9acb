package passthru

import (
	"fmt"

	"github.com/sambrody/motouds/internal/diagerr"
)

// Status mirrors the vendor PassThru ABI's 32-bit return codes.
type Status uint32

const (
	StatusNoError               Status = 0x00
	StatusNotSupported          Status = 0x01
	StatusInvalidChannelID      Status = 0x02
	StatusInvalidProtocolID     Status = 0x03
	StatusNullParameter         Status = 0x04
	StatusInvalidIoctlValue     Status = 0x05
	StatusInvalidFlags          Status = 0x06
	StatusFailed                Status = 0x07
	StatusDeviceNotConnected    Status = 0x08
	StatusTimeout               Status = 0x09
	StatusInvalidMsg            Status = 0x0A
	StatusInvalidTimeInterval   Status = 0x0B
	StatusExceededLimit         Status = 0x0C
	StatusInvalidMsgID          Status = 0x0D
	StatusDeviceInUse           Status = 0x0E
	StatusInvalidIoctlID        Status = 0x0F
	StatusBufferEmpty           Status = 0x10
	StatusBufferFull            Status = 0x11
	StatusBufferOverflow        Status = 0x12
	StatusPinInvalid            Status = 0x13
	StatusChannelInUse          Status = 0x14
	StatusMsgProtocolID         Status = 0x15
	StatusInvalidFilterID       Status = 0x16
	StatusNoFlowControl         Status = 0x17
	StatusNotUnique             Status = 0x18
	StatusInvalidBaudrate       Status = 0x19
	StatusInvalidDeviceID       Status = 0x1A
)

var statusText = map[Status]string{
	StatusNotSupported:        "function not supported",
	StatusInvalidChannelID:    "invalid channel ID",
	StatusInvalidProtocolID:   "invalid protocol ID",
	StatusNullParameter:       "null parameter",
	StatusInvalidIoctlValue:   "invalid IOCTL value",
	StatusInvalidFlags:        "invalid flags",
	StatusFailed:              "general failure",
	StatusDeviceNotConnected:  "device not connected",
	StatusTimeout:             "timeout",
	StatusInvalidMsg:          "invalid message",
	StatusInvalidTimeInterval: "invalid time interval",
	StatusExceededLimit:       "exceeded limit",
	StatusInvalidMsgID:        "invalid message ID",
	StatusDeviceInUse:         "device in use",
	StatusInvalidIoctlID:      "invalid IOCTL ID",
	StatusBufferEmpty:         "buffer empty",
	StatusBufferFull:          "buffer full",
	StatusBufferOverflow:      "buffer overflow",
	StatusPinInvalid:          "pin invalid",
	StatusChannelInUse:        "channel in use",
	StatusMsgProtocolID:       "message protocol ID mismatch",
	StatusInvalidFilterID:     "invalid filter ID",
	StatusNoFlowControl:       "no flow control",
	StatusNotUnique:           "not unique",
	StatusInvalidBaudrate:     "invalid baudrate",
	StatusInvalidDeviceID:     "invalid device ID",
}

func (s Status) String() string {
	if s == StatusNoError {
		return "no error"
	}
	if txt, ok := statusText[s]; ok {
		return txt
	}
	return fmt.Sprintf("unknown status 0x%02X", uint32(s))
}

// classify turns a non-zero status into a *diagerr.Error following the
// kind/severity/hint table. Callers on the read path should check
// StatusBufferEmpty first and treat it as "no frames available", not
// an error at all.
func classify(op string, s Status) *diagerr.Error {
	switch s {
	case StatusDeviceNotConnected:
		return diagerr.New(diagerr.KindHardware, diagerr.SeverityCritical, op+": "+s.String()).
			WithHint("reseat the USB adapter")
	case StatusTimeout:
		return diagerr.New(diagerr.KindTimeout, diagerr.SeverityRecoverable, op+": "+s.String()).
			WithHint("increase timeout or check wiring")
	case StatusInvalidChannelID, StatusInvalidDeviceID:
		return diagerr.New(diagerr.KindConfiguration, diagerr.SeverityCritical, op+": "+s.String()).
			WithHint("reopen device")
	default:
		return diagerr.New(diagerr.KindHardware, diagerr.SeverityRecoverable, op+": "+s.String())
	}
}
