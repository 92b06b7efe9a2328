package wire

// HeaderSize is the fixed 6-byte mini-header used on every channel after
// the handshake: {type:u16, size:u32}, little-endian, no padding.
const HeaderSize = 6

// Header is the decoded form of a mini-header record boundary.
type Header struct {
	Type uint16
	Size uint32
}

// Encode writes the 6-byte wire form of h into dst, which must be at least
// HeaderSize bytes long.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	dst[0] = byte(h.Type)
	dst[1] = byte(h.Type >> 8)
	dst[2] = byte(h.Size)
	dst[3] = byte(h.Size >> 8)
	dst[4] = byte(h.Size >> 16)
	dst[5] = byte(h.Size >> 24)
}

// DecodeHeader parses a 6-byte mini-header. The caller must supply exactly
// HeaderSize bytes; partial accumulation is the framer's job, not this
// function's.
func DecodeHeader(src []byte) Header {
	_ = src[HeaderSize-1]
	return Header{
		Type: uint16(src[0]) | uint16(src[1])<<8,
		Size: uint32(src[2]) | uint32(src[3])<<8 | uint32(src[4])<<16 | uint32(src[5])<<24,
	}
}
