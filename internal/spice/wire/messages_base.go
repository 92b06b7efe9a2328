package wire

import "encoding/binary"

// SetAckSize is SPICE_MSG_SET_ACK's body: generation(4) + window(4).
const SetAckSize = 8

// DecodeSetAck parses a SET_ACK body, returning the window size the
// channel must honour until the next SET_ACK arrives.
func DecodeSetAck(b []byte) (generation, window uint32) {
	_ = b[SetAckSize-1]
	generation = binary.LittleEndian.Uint32(b[0:4])
	window = binary.LittleEndian.Uint32(b[4:8])
	return generation, window
}

// PingSize is SPICE_MSG_PING's fixed prefix this client echoes back
// unmodified in PONG: id(4) + timestamp(8). Servers may append additional
// bytes, which the framer has already accounted for in the message size.
const PingSize = 4 + 8
