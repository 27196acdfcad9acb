package passthru

import "encoding/binary"

// MaxDataSize is the largest payload the vendor ABI's fixed-capacity
// data array can carry in a single PassThruMessage.
const MaxDataSize = 4128

// Message carries the PassThru message fields this binding uses: a
// protocol tag, transmit flags, a 4-byte big-endian CAN-ID prefix
// followed by the payload, and a timestamp. The total size is
// len(Data); there is no separate size field. The struct is not laid
// out as the vendor ABI's packed record: Data is a slice, not the
// fixed-capacity array.
type Message struct {
	ProtocolID uint32
	TxFlags    uint32
	Data       []byte // 4-byte big-endian ID prefix + payload
	Timestamp  uint32
}

// ProtocolISO15765 is the only PassThru protocol this binding speaks.
const ProtocolISO15765 uint32 = 6

// NewMessage packs a CAN-ID and payload into the ABI's data layout:
// 4-byte big-endian ID prefix followed by up to 8 payload bytes.
func NewMessage(id uint32, flags uint32, payload []byte) Message {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], id)
	copy(buf[4:], payload)
	return Message{ProtocolID: ProtocolISO15765, TxFlags: flags, Data: buf}
}

// Split extracts the big-endian CAN-ID prefix and payload from a Message's Data.
func (m Message) Split() (id uint32, payload []byte) {
	if len(m.Data) < 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(m.Data[0:4]), m.Data[4:]
}
