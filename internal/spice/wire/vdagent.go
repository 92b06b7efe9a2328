package wire

import "encoding/binary"

// VDAgentProtocol is the fixed protocol version carried by every outer
// VDAgentMessage.
const VDAgentProtocol uint32 = 1

// VDAgentMessageSize is the fixed header preceding every agent message's
// payload: protocol(4) + type(4) + opaque(8) + size(4).
const VDAgentMessageSize = 20

// VDAgentMessage is the outer envelope tunnelled inside MAIN's AGENT_DATA
// records. It is record-scoped: Size is the size of the *whole* logical
// message, which may span many AGENT_DATA records.
type VDAgentMessage struct {
	Protocol uint32
	Type     uint32
	Opaque   uint64
	Size     uint32
}

func (m VDAgentMessage) Encode(dst []byte) {
	_ = dst[VDAgentMessageSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], m.Protocol)
	binary.LittleEndian.PutUint32(dst[4:8], m.Type)
	binary.LittleEndian.PutUint64(dst[8:16], m.Opaque)
	binary.LittleEndian.PutUint32(dst[16:20], m.Size)
}

func DecodeVDAgentMessage(src []byte) VDAgentMessage {
	_ = src[VDAgentMessageSize-1]
	return VDAgentMessage{
		Protocol: binary.LittleEndian.Uint32(src[0:4]),
		Type:     binary.LittleEndian.Uint32(src[4:8]),
		Opaque:   binary.LittleEndian.Uint64(src[8:16]),
		Size:     binary.LittleEndian.Uint32(src[16:20]),
	}
}

// VD_AGENT message types.
const (
	VDAgentMouseState           uint32 = 1
	VDAgentMonitorsConfig       uint32 = 2
	VDAgentReply                uint32 = 3
	VDAgentClipboard            uint32 = 4
	VDAgentDisplayConfig        uint32 = 5
	VDAgentAnnounceCapabilities uint32 = 6
	VDAgentClipboardGrab        uint32 = 7
	VDAgentClipboardRequest     uint32 = 8
	VDAgentClipboardRelease     uint32 = 9
)

// VD_AGENT clipboard data type codes.
const (
	VDAgentClipboardNone     uint32 = 0
	VDAgentClipboardUTF8Text uint32 = 1
	VDAgentClipboardImagePNG uint32 = 2
	VDAgentClipboardImageBMP uint32 = 3
	VDAgentClipboardImageTIFF uint32 = 4
	VDAgentClipboardImageJPG uint32 = 5
)

// EncodeClipboardGrab builds a CLIPBOARD_GRAB payload: an array of offered
// type codes.
func EncodeClipboardGrab(types []uint32) []byte {
	b := make([]byte, 4*len(types))
	for i, t := range types {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], t)
	}
	return b
}

// DecodeClipboardGrab parses a CLIPBOARD_GRAB payload.
func DecodeClipboardGrab(b []byte) []uint32 {
	n := len(b) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return out
}

// EncodeClipboardRequest builds a CLIPBOARD_REQUEST payload: the single
// requested type code.
func EncodeClipboardRequest(t uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, t)
	return b
}

// DecodeClipboardRequest parses a CLIPBOARD_REQUEST payload.
func DecodeClipboardRequest(b []byte) uint32 {
	if len(b) < 4 {
		return VDAgentClipboardNone
	}
	return binary.LittleEndian.Uint32(b)
}

// ClipboardSelectionClipboard is the only selection value this client uses
// when the CLIPBOARD_SELECTION capability is negotiated.
const ClipboardSelectionClipboard uint32 = 0

// EncodeClipboardData builds a CLIPBOARD payload: a 4-byte type code
// followed by the raw data.
func EncodeClipboardData(dataType uint32, data []byte) []byte {
	b := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(b[0:4], dataType)
	copy(b[4:], data)
	return b
}

// DecodeClipboardData parses a reassembled CLIPBOARD payload into its type
// code and data. ok is false if the payload is too short to hold the type
// field.
func DecodeClipboardData(b []byte) (dataType uint32, data []byte, ok bool) {
	if len(b) < 4 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint32(b[0:4]), b[4:], true
}
