package frame

import (
	"io"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// Encode builds the mini-header + payload for one outbound message.
func Encode(msgType uint16, payload []byte) []byte {
	buf := make([]byte, wire.HeaderSize+len(payload))
	hdr := wire.Header{Type: msgType, Size: uint32(len(payload))}
	hdr.Encode(buf[:wire.HeaderSize])
	copy(buf[wire.HeaderSize:], payload)
	return buf
}

// Write encodes and writes one outbound message in a single call, matching
// the channel's requirement that writes be atomic with respect to other
// channels sharing a connection (spec §3's sendLock).
func Write(w io.Writer, msgType uint16, payload []byte) error {
	buf := Encode(msgType, payload)
	if _, err := w.Write(buf); err != nil {
		return rerrors.NewTransportError("frame.write", err)
	}
	return nil
}
