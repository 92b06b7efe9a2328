package channels

import (
	"log/slog"
	"sync/atomic"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// inputsWriter is the slice of *channel.Channel the INPUTS handler needs.
type inputsWriter interface {
	Write(msgType uint16, payload []byte) error
	WriteBatch(records []channel.Record) error
}

// InputsHandler implements the INPUTS channel's vtable: key and mouse event
// submission plus the motion-ack accounting described in spec §4.7.
type InputsHandler struct {
	ch  inputsWriter
	log *slog.Logger

	modifiers   atomic.Uint32
	outstanding atomic.Int64
}

// NewInputsHandler builds an idle INPUTS handler.
func NewInputsHandler() *InputsHandler {
	return &InputsHandler{log: logger.Logger()}
}

// VTable builds the channel.VTable this handler drives.
func (h *InputsHandler) VTable() channel.VTable {
	return channel.VTable{
		ChannelCaps:     func() wire.CapSet { return nil },
		OnConnected:     h.onConnected,
		InitMessageType: wire.MsgInputsInit,
		SelectHandler:   h.selectHandler,
	}
}

func (h *InputsHandler) onConnected(ch *channel.Channel) error {
	h.ch = ch
	return nil
}

func (h *InputsHandler) selectHandler(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgInputsInit:
		return frame.Handle(h.handleInit)
	case wire.MsgInputsKeyModifiers:
		return frame.Handle(h.handleKeyModifiers)
	case wire.MsgInputsMouseMotionAck:
		return frame.Handle(h.handleMouseMotionAck)
	default:
		return frame.Fatal()
	}
}

func (h *InputsHandler) handleInit(msg *frame.Message) error {
	if len(msg.Payload) < wire.InputsInitSize {
		return rerrors.NewProtocolError("inputs.init", errShortInputsInit)
	}
	h.modifiers.Store(uint32(wire.DecodeInputsInit(msg.Payload)))
	return nil
}

func (h *InputsHandler) handleKeyModifiers(msg *frame.Message) error {
	if len(msg.Payload) < 2 {
		return rerrors.NewProtocolError("inputs.key_modifiers", errShortInputsInit)
	}
	h.modifiers.Store(uint32(wire.DecodeKeyModifiers(msg.Payload)))
	return nil
}

// handleMouseMotionAck decrements the outstanding-motion counter by the
// fixed batch size. Observing more ACKs than outstanding records is a flow
// violation and terminates the channel (spec §4.7/§8 scenario 6).
func (h *InputsHandler) handleMouseMotionAck(_ *frame.Message) error {
	for {
		cur := h.outstanding.Load()
		if cur < wire.MotionAckBunch {
			return rerrors.NewFlowError("inputs.motion_ack", errMotionAckUnderflow)
		}
		if h.outstanding.CompareAndSwap(cur, cur-wire.MotionAckBunch) {
			return nil
		}
	}
}

// Modifiers reports the current keyboard modifier shadow, as last reported
// by the server.
func (h *InputsHandler) Modifiers() uint16 { return uint16(h.modifiers.Load()) }

// KeyDown/KeyUp submit a single scan code event, prefix-encoding codes at or
// above 0x100 per spec §4.7.
func (h *InputsHandler) KeyDown(code uint32) error {
	return h.ch.Write(wire.MsgcInputsKeyDown, wire.EncodeKeyEvent(wire.EncodeScanCode(code, false)))
}

func (h *InputsHandler) KeyUp(code uint32) error {
	return h.ch.Write(wire.MsgcInputsKeyUp, wire.EncodeKeyEvent(wire.EncodeScanCode(code, true)))
}

// KeyModifiers pushes the client's modifier state to the server.
func (h *InputsHandler) KeyModifiers(mods uint16) error {
	return h.ch.Write(wire.MsgcInputsKeyModifiers, wire.EncodeKeyModifiers(mods))
}

// MousePosition submits an absolute-mode pointer position.
func (h *InputsHandler) MousePosition(pos wire.MousePosition) error {
	return h.ch.Write(wire.MsgcInputsMousePosition, wire.EncodeMousePosition(pos))
}

// MousePress/MouseRelease submit a button transition.
func (h *InputsHandler) MousePress(button uint8, buttonState uint32) error {
	return h.ch.Write(wire.MsgcInputsMousePress, wire.EncodeMouseButton(button, buttonState))
}

func (h *InputsHandler) MouseRelease(button uint8, buttonState uint32) error {
	return h.ch.Write(wire.MsgcInputsMouseRelease, wire.EncodeMouseButton(button, buttonState))
}

// MouseMotion submits a relative-mode pointer delta, coalesced into
// (D+126)/127 clamped records (integer division, i.e. ⌈D/127⌉) and written
// as one contiguous batch, per
// spec §4.7's fragmentation algorithm.
func (h *InputsHandler) MouseMotion(dx, dy int32, buttonState uint32) error {
	records := coalesceMotion(dx, dy, buttonState)
	h.outstanding.Add(int64(len(records)))
	batch := make([]channel.Record, len(records))
	for i, m := range records {
		batch[i] = channel.Record{MsgType: wire.MsgcInputsMouseMotion, Payload: wire.EncodeMouseMotion(m)}
	}
	return h.ch.WriteBatch(batch)
}

// coalesceMotion splits (dx, dy) into motion records clamped to
// [-127, 127], preserving the sign of each axis and summing exactly to the
// requested delta.
func coalesceMotion(dx, dy int32, buttonState uint32) []wire.MouseMotion {
	d := abs32(dx)
	if ady := abs32(dy); ady > d {
		d = ady
	}
	if d == 0 {
		return []wire.MouseMotion{{DX: 0, DY: 0, ButtonState: buttonState}}
	}
	n := (d + wire.MouseMotionClamp - 1) / wire.MouseMotionClamp
	records := make([]wire.MouseMotion, n)
	remX, remY := dx, dy
	for i := int32(0); i < n; i++ {
		records[i] = wire.MouseMotion{
			DX:          clampMotion(remX),
			DY:          clampMotion(remY),
			ButtonState: buttonState,
		}
		remX -= records[i].DX
		remY -= records[i].DY
	}
	return records
}

func clampMotion(v int32) int32 {
	switch {
	case v > wire.MouseMotionClamp:
		return wire.MouseMotionClamp
	case v < -wire.MouseMotionClamp:
		return -wire.MouseMotionClamp
	default:
		return v
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

type inputsError string

func (e inputsError) Error() string { return string(e) }

const (
	errShortInputsInit    = inputsError("INPUTS_INIT/KEY_MODIFIERS payload too short")
	errMotionAckUnderflow = inputsError("MOUSE_MOTION_ACK observed with fewer motion records outstanding than the ack batch")
)
