package channels

import (
	"testing"

	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

func encodeSurfaceCreate(id, w, hgt, format uint32) []byte {
	b := make([]byte, 16)
	putLE32(b[0:4], id)
	putLE32(b[4:8], w)
	putLE32(b[8:12], hgt)
	putLE32(b[12:16], format)
	return b
}

func TestDisplaySurfaceCreateMapsFormat(t *testing.T) {
	var gotID, gotW, gotH uint32
	var gotFmt SurfaceFormat
	h := NewDisplayHandler(DisplaySinks{
		SurfaceCreate: func(id uint32, format SurfaceFormat, w, hgt uint32) error {
			gotID, gotFmt, gotW, gotH = id, format, w, hgt
			return nil
		},
	})
	body := encodeSurfaceCreate(3, 800, 600, wire.SurfaceFmt32xRGB)
	if err := h.handleSurfaceCreate(&frame.Message{Type: wire.MsgDisplaySurfaceCreate, Payload: body}); err != nil {
		t.Fatalf("handleSurfaceCreate: %v", err)
	}
	if gotID != 3 || gotW != 800 || gotH != 600 || gotFmt != SurfaceFormat32xRGB {
		t.Fatalf("got (%d,%v,%d,%d)", gotID, gotFmt, gotW, gotH)
	}
}

func TestDisplaySurfaceCreateUnknownFormatIsDropped(t *testing.T) {
	called := false
	h := NewDisplayHandler(DisplaySinks{SurfaceCreate: func(uint32, SurfaceFormat, uint32, uint32) error {
		called = true
		return nil
	}})
	body := encodeSurfaceCreate(1, 1, 1, 0xDEAD)
	if err := h.handleSurfaceCreate(&frame.Message{Type: wire.MsgDisplaySurfaceCreate, Payload: body}); err != nil {
		t.Fatalf("handleSurfaceCreate: %v", err)
	}
	if called {
		t.Fatalf("sink should not fire for an unrecognized surface format")
	}
}

func TestDisplaySurfaceDestroyForwardsID(t *testing.T) {
	var got uint32 = 99
	h := NewDisplayHandler(DisplaySinks{SurfaceDestroy: func(id uint32) { got = id }})
	body := make([]byte, 4)
	putLE32(body, 7)
	if err := h.handleSurfaceDestroy(&frame.Message{Type: wire.MsgDisplaySurfaceDestroy, Payload: body}); err != nil {
		t.Fatalf("handleSurfaceDestroy: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func encodeDisplayBase(surfaceID uint32) []byte {
	b := make([]byte, 4+16+1)
	putLE32(b[0:4], surfaceID)
	// box: 4 int32 fields, left zeroed
	b[20] = wire.ClipTypeNone
	return b
}

func TestDrawFillSolidBrushForwarded(t *testing.T) {
	var gotSurface uint32
	var gotColor uint32
	h := NewDisplayHandler(DisplaySinks{DrawFill: func(surfaceID uint32, box wire.Rect, color uint32) {
		gotSurface, gotColor = surfaceID, color
	}})
	base := encodeDisplayBase(5)
	// Fill tail: brush{type=SOLID,color}, ropDescriptor(2), mask{flags(1),pos(8),bitmapOffset(4)}
	tail := make([]byte, 4+4+2+1+8+4)
	putLE32(tail[0:4], wire.BrushTypeSolid)
	putLE32(tail[4:8], 0xFF00FF)
	body := append(base, tail...)
	if err := h.handleDrawFill(&frame.Message{Type: wire.MsgDisplayDrawFill, Payload: body}); err != nil {
		t.Fatalf("handleDrawFill: %v", err)
	}
	if gotSurface != 5 || gotColor != 0xFF00FF {
		t.Fatalf("got (%d, %#x), want (5, 0xFF00FF)", gotSurface, gotColor)
	}
}

func TestDrawFillNonSolidBrushDropped(t *testing.T) {
	called := false
	h := NewDisplayHandler(DisplaySinks{DrawFill: func(uint32, wire.Rect, uint32) { called = true }})
	base := encodeDisplayBase(1)
	tail := make([]byte, 4+4+2+1+8+4)
	putLE32(tail[0:4], wire.BrushTypePattern)
	body := append(base, tail...)
	if err := h.handleDrawFill(&frame.Message{Type: wire.MsgDisplayDrawFill, Payload: body}); err != nil {
		t.Fatalf("handleDrawFill: %v", err)
	}
	if called {
		t.Fatalf("sink should not fire for a non-solid brush")
	}
}

func TestDrawCopyAbsentBitmapDropped(t *testing.T) {
	called := false
	h := NewDisplayHandler(DisplaySinks{DrawCopy: func(uint32, wire.Rect, Bitmap) { called = true }})
	base := encodeDisplayBase(1)
	// Copy tail: srcBitmap offset(4)=0 (absent), srcArea(16), rop(2), scale(1), mask{flags(1)+pos(8)+bitmapOff(4)}
	tail := make([]byte, 4+16+2+1+1+8+4)
	body := append(base, tail...)
	if err := h.handleDrawCopy(&frame.Message{Type: wire.MsgDisplayDrawCopy, Payload: body}); err != nil {
		t.Fatalf("handleDrawCopy: %v", err)
	}
	if called {
		t.Fatalf("sink should not fire when src_bitmap offset is absent")
	}
}
