package channels

import (
	"log/slog"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// SurfaceFormat is the public pixel-format enumeration DISPLAY maps the
// wire's SPICE_SURFACE_FMT_* codes onto, per spec §4.9.
type SurfaceFormat uint8

const (
	SurfaceFormatUnknown SurfaceFormat = iota
	SurfaceFormat1A
	SurfaceFormat8A
	SurfaceFormat16_555
	SurfaceFormat16_565
	SurfaceFormat32xRGB
	SurfaceFormat32ARGB
)

func mapSurfaceFormat(wireFmt uint32) (SurfaceFormat, bool) {
	switch wireFmt {
	case wire.SurfaceFmt1A:
		return SurfaceFormat1A, true
	case wire.SurfaceFmt8A:
		return SurfaceFormat8A, true
	case wire.SurfaceFmt16_555:
		return SurfaceFormat16_555, true
	case wire.SurfaceFmt16_565:
		return SurfaceFormat16_565, true
	case wire.SurfaceFmt32xRGB:
		return SurfaceFormat32xRGB, true
	case wire.SurfaceFmt32ARGB:
		return SurfaceFormat32ARGB, true
	default:
		return SurfaceFormatUnknown, false
	}
}

// Bitmap is the resolved, host-facing form of a DRAW_COPY's source image.
type Bitmap struct {
	TopDown bool
	X, Y    uint32
	Stride  uint32
	Data    []byte
}

// DisplaySinks are the host callbacks a DisplayHandler forwards resolved
// DISPLAY messages to.
type DisplaySinks struct {
	SurfaceCreate  func(surfaceID uint32, format SurfaceFormat, width, height uint32) error
	SurfaceDestroy func(surfaceID uint32)
	DrawFill       func(surfaceID uint32, box wire.Rect, color uint32)
	DrawCopy       func(surfaceID uint32, box wire.Rect, bmp Bitmap)
}

// displayWriter is the slice of *channel.Channel the DISPLAY handler needs
// for its post-connect handshake.
type displayWriter interface {
	Write(msgType uint16, payload []byte) error
}

// DisplayHandler implements the DISPLAY channel's vtable: surface lifecycle
// and draw-fill/draw-copy resolution, per spec §4.9.
type DisplayHandler struct {
	ch    displayWriter
	sinks DisplaySinks
	log   *slog.Logger
}

// NewDisplayHandler builds a DISPLAY handler.
func NewDisplayHandler(sinks DisplaySinks) *DisplayHandler {
	return &DisplayHandler{sinks: sinks, log: logger.Logger()}
}

// VTable builds the channel.VTable this handler drives.
func (h *DisplayHandler) VTable() channel.VTable {
	return channel.VTable{
		ChannelCaps:     h.channelCaps,
		OnConnected:     h.onConnected,
		InitMessageType: wire.MsgDisplayMode,
		SelectHandler:   h.selectHandler,
	}
}

func (h *DisplayHandler) channelCaps() wire.CapSet {
	caps := wire.NewCapSet(wire.DisplayCapPrefCompression + 1)
	caps.Set(wire.DisplayCapPrefCompression)
	return caps
}

// onConnected sends DISPLAY_INIT and requests PREFERRED_COMPRESSION=OFF so
// only uncompressed bitmap draws arrive, per spec §4.9.
func (h *DisplayHandler) onConnected(ch *channel.Channel) error {
	h.ch = ch
	if err := ch.Write(wire.MsgcDisplayInit, wire.EncodeDisplayInit()); err != nil {
		return err
	}
	return ch.Write(wire.MsgcDisplayPreferredCompression, wire.EncodePreferredCompression(true))
}

func (h *DisplayHandler) selectHandler(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgDisplayMode:
		return frame.Discard()
	case wire.MsgDisplayMark:
		return frame.Discard()
	case wire.MsgDisplayReset:
		return frame.Discard()
	case wire.MsgDisplaySurfaceCreate:
		return frame.Handle(h.handleSurfaceCreate)
	case wire.MsgDisplaySurfaceDestroy:
		return frame.Handle(h.handleSurfaceDestroy)
	case wire.MsgDisplayDrawFill:
		return frame.Handle(h.handleDrawFill)
	case wire.MsgDisplayDrawCopy:
		return frame.Handle(h.handleDrawCopy)
	case wire.MsgDisplayMonitorsConfig:
		return frame.Discard()
	default:
		return frame.Discard()
	}
}

func (h *DisplayHandler) handleSurfaceCreate(msg *frame.Message) error {
	if len(msg.Payload) < 16 {
		return rerrors.NewProtocolError("display.surface_create", errShortSurfaceCreate)
	}
	sc := wire.DecodeSurfaceCreate(msg.Payload)
	fmt, ok := mapSurfaceFormat(sc.Format)
	if !ok {
		h.log.Warn("unknown surface format", "format", sc.Format)
		return nil
	}
	if h.sinks.SurfaceCreate != nil {
		return h.sinks.SurfaceCreate(sc.SurfaceID, fmt, sc.Width, sc.Height)
	}
	return nil
}

func (h *DisplayHandler) handleSurfaceDestroy(msg *frame.Message) error {
	if len(msg.Payload) < 4 {
		return rerrors.NewProtocolError("display.surface_destroy", errShortSurfaceDestroy)
	}
	if h.sinks.SurfaceDestroy != nil {
		h.sinks.SurfaceDestroy(wire.DecodeSurfaceDestroy(msg.Payload))
	}
	return nil
}

// handleDrawFill resolves the DisplayBase prefix and a Fill tail. Only
// SOLID brushes are implemented; any other brush type is logged and
// dropped, per spec §4.9.
func (h *DisplayHandler) handleDrawFill(msg *frame.Message) error {
	base, afterBase := wire.DecodeDisplayBase(msg.Payload)
	fill := wire.DecodeFill(msg.Payload, afterBase)
	if fill.Brush.Type != wire.BrushTypeSolid {
		h.log.Debug("non-solid brush draw-fill, dropping", "type", fill.Brush.Type)
		return nil
	}
	if h.sinks.DrawFill != nil {
		h.sinks.DrawFill(base.SurfaceID, base.Box, fill.Brush.Color)
	}
	return nil
}

// handleDrawCopy resolves the DisplayBase prefix and a Copy tail. Only
// uncompressed TYPE_BITMAP images are implemented; other image types are
// logged and dropped, per spec §4.9.
func (h *DisplayHandler) handleDrawCopy(msg *frame.Message) error {
	base, afterBase := wire.DecodeDisplayBase(msg.Payload)
	cp := wire.DecodeCopy(msg.Payload, afterBase)
	_, bmp, ok := wire.ResolveImage(msg.Payload, cp.SrcBitmap)
	if !ok {
		h.log.Debug("unsupported or absent draw-copy source image, dropping")
		return nil
	}
	if h.sinks.DrawCopy != nil {
		h.sinks.DrawCopy(base.SurfaceID, base.Box, Bitmap{
			TopDown: bmp.Flags&wire.BitmapFlagsTopDown != 0,
			X:       bmp.X,
			Y:       bmp.Y,
			Stride:  bmp.Stride,
			Data:    bmp.Data,
		})
	}
	return nil
}

type displayError string

func (e displayError) Error() string { return string(e) }

const (
	errShortSurfaceCreate  = displayError("SURFACE_CREATE payload too short")
	errShortSurfaceDestroy = displayError("SURFACE_DESTROY payload too short")
)
