package wire

import "encoding/binary"

// Rect is SpiceRect: four signed 32-bit bounds, packed.
type Rect struct {
	Top, Left, Bottom, Right int32
}

const rectSize = 16

func decodeRect(b []byte) Rect {
	_ = b[rectSize-1]
	return Rect{
		Top:    int32(binary.LittleEndian.Uint32(b[0:4])),
		Left:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Bottom: int32(binary.LittleEndian.Uint32(b[8:12])),
		Right:  int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}

// Point is SpicePoint.
type Point struct {
	X, Y int32
}

const pointSize = 8

func decodePoint(b []byte) Point {
	_ = b[pointSize-1]
	return Point{X: int32(binary.LittleEndian.Uint32(b[0:4])), Y: int32(binary.LittleEndian.Uint32(b[4:8]))}
}

// Clip is SpiceClip: a type tag and, for ClipTypeRects, an inline array of
// Rects resolved in place (not via BufOffset — the rect count immediately
// follows the type byte in the same substructure, per spec §4.9).
type Clip struct {
	Type  uint8
	Rects []Rect
}

// DisplayBase is the common prefix of every DISPLAY draw message:
// surface_id(4) + box(Rect,16) + clip(Clip, variable).
type DisplayBase struct {
	SurfaceID uint32
	Box       Rect
	Clip      Clip
}

// decodeDisplayBase reads a DisplayBase starting at *cursor within payload,
// advancing *cursor past it, mirroring the original's sequential-cursor walk.
func decodeDisplayBase(payload []byte, cursor *int) DisplayBase {
	var base DisplayBase
	base.SurfaceID = binary.LittleEndian.Uint32(payload[*cursor : *cursor+4])
	*cursor += 4
	base.Box = decodeRect(payload[*cursor : *cursor+rectSize])
	*cursor += rectSize
	base.Clip.Type = payload[*cursor]
	*cursor++
	if base.Clip.Type == ClipTypeRects {
		n := binary.LittleEndian.Uint32(payload[*cursor : *cursor+4])
		*cursor += 4
		base.Clip.Rects = make([]Rect, 0, n)
		for i := uint32(0); i < n; i++ {
			base.Clip.Rects = append(base.Clip.Rects, decodeRect(payload[*cursor:*cursor+rectSize]))
			*cursor += rectSize
		}
	}
	return base
}

// DecodeDisplayBase is the exported entry point used by the DISPLAY handler.
func DecodeDisplayBase(payload []byte) (DisplayBase, int) {
	cursor := 0
	base := decodeDisplayBase(payload, &cursor)
	return base, cursor
}

// QMask is SpiceQMask: flags, position, and an offset-relative bitmap image.
type QMask struct {
	Flags  uint8
	Pos    Point
	Bitmap BufOffset
}

const qmaskFixedSize = 1 + pointSize + 4

func decodeQMask(payload []byte, cursor *int) QMask {
	var m QMask
	m.Flags = payload[*cursor]
	*cursor++
	m.Pos = decodePoint(payload[*cursor : *cursor+pointSize])
	*cursor += pointSize
	m.Bitmap = BufOffset(binary.LittleEndian.Uint32(payload[*cursor : *cursor+4]))
	*cursor += 4
	return m
}

// Brush is SpiceBrush: a type tag plus either a solid color or a pattern
// (pattern bitmaps are not implemented — only SOLID brushes are, per spec
// §4.9).
type Brush struct {
	Type  uint32
	Color uint32
}

const brushSize = 8 // type(4) + union(4); pattern's 12-byte form is not read

func decodeBrush(payload []byte, cursor *int) Brush {
	var br Brush
	br.Type = binary.LittleEndian.Uint32(payload[*cursor : *cursor+4])
	*cursor += 4
	br.Color = binary.LittleEndian.Uint32(payload[*cursor : *cursor+4])
	*cursor += 4
	return br
}

// Fill is SpiceFill: brush + rop descriptor + mask.
type Fill struct {
	Brush         Brush
	RopDescriptor uint16
	Mask          QMask
}

// DecodeFill decodes a DRAW_FILL payload's type-specific tail, starting
// immediately after the DisplayBase prefix.
func DecodeFill(payload []byte, afterBase int) Fill {
	cursor := afterBase
	var f Fill
	f.Brush = decodeBrush(payload, &cursor)
	f.RopDescriptor = binary.LittleEndian.Uint16(payload[cursor : cursor+2])
	cursor += 2
	f.Mask = decodeQMask(payload, &cursor)
	return f
}

// ImageDescriptor is SpiceImageDescriptor's fixed prefix.
type ImageDescriptor struct {
	ID     uint64
	Type   uint8
	Flags  uint8
	Width  uint32
	Height uint32
}

const imageDescriptorSize = 8 + 1 + 1 + 4 + 4

func decodeImageDescriptor(b []byte) ImageDescriptor {
	return ImageDescriptor{
		ID:     binary.LittleEndian.Uint64(b[0:8]),
		Type:   b[8],
		Flags:  b[9],
		Width:  binary.LittleEndian.Uint32(b[10:14]),
		Height: binary.LittleEndian.Uint32(b[14:18]),
	}
}

// Bitmap is SpiceBitmap, resolved from an Image whose descriptor.Type is
// ImageTypeBitmap. Only the uncompressed form is supported.
type Bitmap struct {
	Format uint8
	Flags  uint8
	X, Y   uint32
	Stride uint32
	Data   []byte
}

// ResolveImage reads an ImageDescriptor at the given BufOffset within
// payload and, if it is an uncompressed bitmap, decodes the Bitmap that
// follows it. Any other image type is reported via ok=false so the caller
// can log-and-noop per spec §4.9.
func ResolveImage(payload []byte, off BufOffset) (desc ImageDescriptor, bmp Bitmap, ok bool) {
	data, present := off.Resolve(payload)
	if !present || len(data) < imageDescriptorSize {
		return desc, bmp, false
	}
	desc = decodeImageDescriptor(data)
	if desc.Type != ImageTypeBitmap {
		return desc, bmp, false
	}
	body := data[imageDescriptorSize:]
	const bitmapFixed = 1 + 1 + 4 + 4 + 4 // format+flags+x+y+stride
	if len(body) < bitmapFixed+4 {
		return desc, bmp, false
	}
	bmp.Format = body[0]
	bmp.Flags = body[1]
	bmp.X = binary.LittleEndian.Uint32(body[2:6])
	bmp.Y = binary.LittleEndian.Uint32(body[6:10])
	bmp.Stride = binary.LittleEndian.Uint32(body[10:14])
	paletteOffset := binary.LittleEndian.Uint32(body[14:18])
	cursor := 18
	if paletteOffset != 0 {
		cursor += 8 // palette_id, when a palette is present
	}
	if cursor > len(body) {
		return desc, bmp, false
	}
	bmp.Data = body[cursor:]
	return desc, bmp, true
}

// Copy is SpiceCopy/SpiceBlend: an offset-relative source bitmap plus a rop
// descriptor, scale mode, and mask.
type Copy struct {
	SrcBitmap     BufOffset
	SrcArea       Rect
	RopDescriptor uint16
	ScaleMode     uint8
	Mask          QMask
}

// DecodeCopy decodes a DRAW_COPY/DRAW_BLEND payload's type-specific tail.
func DecodeCopy(payload []byte, afterBase int) Copy {
	cursor := afterBase
	var c Copy
	c.SrcBitmap = BufOffset(binary.LittleEndian.Uint32(payload[cursor : cursor+4]))
	cursor += 4
	c.SrcArea = decodeRect(payload[cursor : cursor+rectSize])
	cursor += rectSize
	c.RopDescriptor = binary.LittleEndian.Uint16(payload[cursor : cursor+2])
	cursor += 2
	c.ScaleMode = payload[cursor]
	cursor++
	c.Mask = decodeQMask(payload, &cursor)
	return c
}

// SurfaceCreate is SPICE_MSG_DISPLAY_SURFACE_CREATE.
type SurfaceCreate struct {
	SurfaceID uint32
	Width     uint32
	Height    uint32
	Format    uint32
}

const surfaceCreateSize = 16

func DecodeSurfaceCreate(b []byte) SurfaceCreate {
	_ = b[surfaceCreateSize-1]
	return SurfaceCreate{
		SurfaceID: binary.LittleEndian.Uint32(b[0:4]),
		Width:     binary.LittleEndian.Uint32(b[4:8]),
		Height:    binary.LittleEndian.Uint32(b[8:12]),
		Format:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// DecodeSurfaceDestroy reads the single surface_id field.
func DecodeSurfaceDestroy(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[0:4])
}

// EncodeDisplayInit builds SPICE_MSGC_DISPLAY_INIT's all-zero body.
func EncodeDisplayInit() []byte { return make([]byte, 22) }

// EncodePreferredCompression builds the single-byte preferred-compression
// body; OFF is sent on connect per spec §4.9.
func EncodePreferredCompression(off bool) []byte {
	v := byte(1)
	if off {
		v = 0
	}
	return []byte{v}
}
