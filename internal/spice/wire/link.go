package wire

import "encoding/binary"

// LinkHeaderSize is the fixed size of the pre-capability handshake header:
// magic(4) + major(4) + minor(4) + size(4).
const LinkHeaderSize = 16

// LinkHeader precedes every link-layer packet on both sides of the wire.
type LinkHeader struct {
	Magic   uint32
	Major   uint32
	Minor   uint32
	Size    uint32 // length of everything following this header
}

func (h LinkHeader) Encode(dst []byte) {
	_ = dst[LinkHeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Major)
	binary.LittleEndian.PutUint32(dst[8:12], h.Minor)
	binary.LittleEndian.PutUint32(dst[12:16], h.Size)
}

func DecodeLinkHeader(src []byte) LinkHeader {
	_ = src[LinkHeaderSize-1]
	return LinkHeader{
		Magic: binary.LittleEndian.Uint32(src[0:4]),
		Major: binary.LittleEndian.Uint32(src[4:8]),
		Minor: binary.LittleEndian.Uint32(src[8:12]),
		Size:  binary.LittleEndian.Uint32(src[12:16]),
	}
}

// LinkMessSize is the fixed size of the client's connect request body,
// excluding the two trailing capability bitmaps:
// connectionId(4) + channelType(1) + channelId(1) + pad(2) +
// numCommonCaps(4) + numChannelCaps(4) + capsOffset(4).
const LinkMessSize = 20

// LinkMess is the client's per-channel connect request, sent immediately
// after LinkHeader.
type LinkMess struct {
	ConnectionID    uint32
	ChannelType     uint8
	ChannelID       uint8
	NumCommonCaps   uint32
	NumChannelCaps  uint32
	CapsOffset      uint32
}

func (m LinkMess) Encode(dst []byte) {
	_ = dst[LinkMessSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], m.ConnectionID)
	dst[4] = m.ChannelType
	dst[5] = m.ChannelID
	dst[6] = 0
	dst[7] = 0
	binary.LittleEndian.PutUint32(dst[8:12], m.NumCommonCaps)
	binary.LittleEndian.PutUint32(dst[12:16], m.NumChannelCaps)
	binary.LittleEndian.PutUint32(dst[16:20], m.CapsOffset)
}

func DecodeLinkMess(src []byte) LinkMess {
	_ = src[LinkMessSize-1]
	return LinkMess{
		ConnectionID:   binary.LittleEndian.Uint32(src[0:4]),
		ChannelType:    src[4],
		ChannelID:      src[5],
		NumCommonCaps:  binary.LittleEndian.Uint32(src[8:12]),
		NumChannelCaps: binary.LittleEndian.Uint32(src[12:16]),
		CapsOffset:     binary.LittleEndian.Uint32(src[16:20]),
	}
}

// PubKeySize is the DER-encoded X.509 SubjectPublicKeyInfo length the
// server's LinkReply carries.
const PubKeySize = 162

// LinkReplySize is the fixed size of the server's reply body, excluding the
// trailing capability bitmaps: error(4) + pubKey(162) + numCommonCaps(4) +
// numChannelCaps(4) + capsOffset(4).
const LinkReplySize = 4 + PubKeySize + 12

// LinkReply is the server's response to LinkHeader+LinkMess.
type LinkReply struct {
	Error          uint32
	PubKey         [PubKeySize]byte
	NumCommonCaps  uint32
	NumChannelCaps uint32
	CapsOffset     uint32
}

func DecodeLinkReply(src []byte) LinkReply {
	_ = src[LinkReplySize-1]
	var r LinkReply
	r.Error = binary.LittleEndian.Uint32(src[0:4])
	copy(r.PubKey[:], src[4:4+PubKeySize])
	off := 4 + PubKeySize
	r.NumCommonCaps = binary.LittleEndian.Uint32(src[off : off+4])
	r.NumChannelCaps = binary.LittleEndian.Uint32(src[off+4 : off+8])
	r.CapsOffset = binary.LittleEndian.Uint32(src[off+8 : off+12])
	return r
}

// Link error codes (LinkReply.Error / the trailing 4-byte linkResult).
const (
	LinkErrOK                  uint32 = 0
	LinkErrError               uint32 = 1
	LinkErrInvalidMagic        uint32 = 2
	LinkErrInvalidData         uint32 = 3
	LinkErrVersionMismatch     uint32 = 4
	LinkErrNeedSecured         uint32 = 5
	LinkErrNeedUnsecured       uint32 = 6
	LinkErrPermissionDenied    uint32 = 7
	LinkErrBadConnectionID     uint32 = 8
	LinkErrChannelNotAvailable uint32 = 9
)
