package wire

// BufOffset is a byte offset into a payload buffer, as used by DISPLAY draw
// messages to reference inline image/palette/clip substructures. It is a
// newtype rather than a pointer so that resolving it is always a
// bounds-checked slice operation; see spec §9's design note.
type BufOffset uint32

// Resolve returns the suffix of payload starting at the offset. A zero
// offset means "absent" and reports ok=false. An offset beyond the end of
// payload also reports ok=false rather than panicking.
func (o BufOffset) Resolve(payload []byte) (data []byte, ok bool) {
	if o == 0 {
		return nil, false
	}
	if int(o) >= len(payload) {
		return nil, false
	}
	return payload[o:], true
}
