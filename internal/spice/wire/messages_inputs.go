package wire

import "encoding/binary"

// InputsInitSize is the body size of SPICE_MSG_INPUTS_INIT: the channel's
// required first message, carrying the initial keyboard modifier state.
const InputsInitSize = 2

func DecodeInputsInit(b []byte) uint16 {
	_ = b[InputsInitSize-1]
	return binary.LittleEndian.Uint16(b[0:2])
}

// DecodeKeyModifiers reads SPICE_MSG_INPUTS_KEY_MODIFIERS' 2-byte body.
func DecodeKeyModifiers(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b[0:2])
}

// ModifierShiftLock/NumLock/CapsLock mirror the spice-protocol modifier bits.
const (
	ModifierShiftLock uint16 = 1 << 0
	ModifierNumLock   uint16 = 1 << 1
	ModifierCapsLock  uint16 = 1 << 2
)

// EncodeKeyEvent builds SPICE_MSGC_INPUTS_KEY_DOWN/UP bodies: a
// single little-endian uint32 scan code, already prefix-encoded by the
// caller for codes >= 0x100.
func EncodeKeyEvent(code uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, code)
	return b
}

func EncodeKeyModifiers(mods uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, mods)
	return b
}

// MouseMotion is SPICE_MSGC_INPUTS_MOUSE_MOTION's body: dx, dy, and the
// current button-state snapshot.
type MouseMotion struct {
	DX, DY      int32
	ButtonState uint32
}

func EncodeMouseMotion(m MouseMotion) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.DX))
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.DY))
	binary.LittleEndian.PutUint32(b[8:12], m.ButtonState)
	return b
}

// MousePosition is SPICE_MSGC_INPUTS_MOUSE_POSITION's body.
type MousePosition struct {
	X, Y        uint32
	ButtonState uint32
	DisplayID   uint8
}

func EncodeMousePosition(m MousePosition) []byte {
	b := make([]byte, 13)
	binary.LittleEndian.PutUint32(b[0:4], m.X)
	binary.LittleEndian.PutUint32(b[4:8], m.Y)
	binary.LittleEndian.PutUint32(b[8:12], m.ButtonState)
	b[12] = m.DisplayID
	return b
}

// EncodeMouseButton builds SPICE_MSGC_INPUTS_MOUSE_PRESS/RELEASE's body.
func EncodeMouseButton(button uint8, buttonState uint32) []byte {
	b := make([]byte, 5)
	b[0] = button
	binary.LittleEndian.PutUint32(b[1:5], buttonState)
	return b
}

// DecodeMouseMotionAck reads the (empty) MOUSE_MOTION_ACK body — the
// message carries no payload; its arrival alone is the signal.
func DecodeMouseMotionAck(_ []byte) struct{} { return struct{}{} }

// Button state bits, combined into MouseMotion.ButtonState / mouse press
// and release bodies.
const (
	ButtonMaskLeft   uint32 = 1 << 0
	ButtonMaskMiddle uint32 = 1 << 1
	ButtonMaskRight  uint32 = 1 << 2
)

// Key scan-code prefix encoding, per spec §4.7: public codes below 0x100
// pass through; codes >= 0x100 get the SPICE two-byte 0xE0 prefix; key-up
// sets the 0x80 release bit (or the 0x80e0 prefix variant).
func EncodeScanCode(code uint32, keyUp bool) uint32 {
	if code < 0x100 {
		if keyUp {
			return code | 0x80
		}
		return code
	}
	prefixed := 0xe0 | (code&0xff)<<8
	if keyUp {
		return prefixed | 0x8000
	}
	return prefixed
}
