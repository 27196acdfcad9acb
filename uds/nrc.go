package uds

// NRC is a UDS Negative Response Code (ISO 14229-1 table A.1).
type NRC uint8

const (
	NRCGeneralReject                   NRC = 0x10
	NRCServiceNotSupported              NRC = 0x11
	NRCSubFunctionNotSupported          NRC = 0x12
	NRCIncorrectMessageLength           NRC = 0x13
	NRCConditionsNotCorrect             NRC = 0x22
	NRCRequestSequenceError             NRC = 0x24
	NRCRequestOutOfRange                NRC = 0x31
	NRCSecurityAccessDenied             NRC = 0x33
	NRCInvalidKey                       NRC = 0x35
	NRCExceedNumberOfAttempts           NRC = 0x36
	NRCRequiredTimeDelayNotExpired      NRC = 0x37
	NRCResponsePending                  NRC = 0x78
)

// nrcDescription maps an NRC to a human-readable description.
var nrcDescription = map[NRC]string{
	NRCGeneralReject:              "General reject",
	NRCServiceNotSupported:        "Service not supported",
	NRCSubFunctionNotSupported:    "Sub-function not supported",
	NRCIncorrectMessageLength:     "Incorrect message length or invalid format",
	NRCConditionsNotCorrect:       "Conditions not correct",
	NRCRequestSequenceError:       "Request sequence error",
	NRCRequestOutOfRange:          "Request out of range",
	NRCSecurityAccessDenied:       "Security access denied",
	NRCInvalidKey:                 "Invalid key",
	NRCExceedNumberOfAttempts:     "Exceed number of attempts",
	NRCRequiredTimeDelayNotExpired: "Required time delay not expired",
	NRCResponsePending:            "Response pending",
}

func (n NRC) String() string {
	if s, ok := nrcDescription[n]; ok {
		return s
	}
	return "unknown NRC"
}
