// Package frame reassembles SPICE mini-header messages from a single
// channel's byte stream. It is driven one Pump step at a time by the
// multiplexor so a stalled channel never blocks the others (spec §4.2).
package frame

import (
	"errors"
	"io"

	"github.com/alxayo/go-spice/internal/bufpool"
	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// ErrWouldBlock is the sentinel a read function returns when the
// underlying non-blocking socket has no more data available right now.
// Reader treats it as "pause, try again next pass" rather than an error.
var ErrWouldBlock = errors.New("frame: read would block")

// ReadFunc fills buf with whatever is currently available and reports how
// much was read, or ErrWouldBlock if nothing is available yet.
type ReadFunc func(buf []byte) (int, error)

// State is Reader's two-phase reassembly state, per spec §4.2: a message
// is either still accumulating its fixed 6-byte header or its
// variable-length payload.
type State int

const (
	StateHeader State = iota
	StatePayload
)

// Message is one fully reassembled mini-header record. Payload is borrowed
// from the pool that produced it; callers must call Release when done.
type Message struct {
	Type    uint16
	Payload []byte
}

// Reader reassembles one channel's byte stream into Messages. Not safe for
// concurrent use; the multiplexor owns one per channel and drives it from
// a single goroutine.
type Reader struct {
	pool *bufpool.Pool

	state  State
	header [wire.HeaderSize]byte
	read   int // bytes read into the current phase (header or payload)

	msgType uint16
	size    uint32
	payload []byte
}

// NewReader creates a Reader that allocates payload buffers from pool.
func NewReader(pool *bufpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// OnHeaderComplete is invoked the instant a 6-byte header finishes
// decoding, before any payload byte is read — the point at which the
// channel engine sends its ACK record, per spec §4.2. A non-nil return
// aborts the pump immediately, surfacing the failure (e.g. a failed ACK
// write) to the caller in place of the in-flight message.
type OnHeaderComplete func(hdr wire.Header) error

// Pump advances the state machine by one step: one read into the current
// phase, followed in the same call by one read into the payload when that
// header read completes a header with a non-empty payload (a zero-length
// payload yields its message at once). Whenever read supplies fewer bytes
// than the phase needs, or reports ErrWouldBlock, Pump returns (nil, nil)
// so the multiplexor can move to the next ready channel. onHeader may be
// nil.
func (r *Reader) Pump(read ReadFunc, onHeader OnHeaderComplete) (*Message, error) {
	for {
		switch r.state {
		case StateHeader:
			msg, err := r.pumpHeader(read, onHeader)
			if msg != nil || err != nil {
				return msg, err
			}
			if r.state == StateHeader {
				return nil, nil
			}
		case StatePayload:
			return r.pumpPayload(read)
		}
	}
}

func (r *Reader) pumpHeader(read ReadFunc, onHeader OnHeaderComplete) (*Message, error) {
	n, err := read(r.header[r.read:wire.HeaderSize])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, nil
		}
		return nil, rerrors.NewTransportError("frame.read_header", err)
	}
	if n == 0 {
		return nil, rerrors.NewTransportError("frame.read_header", io.EOF)
	}
	r.read += n
	if r.read < wire.HeaderSize {
		return nil, nil
	}

	hdr := wire.DecodeHeader(r.header[:])
	r.msgType = hdr.Type
	r.size = hdr.Size
	r.read = 0
	r.state = StatePayload
	if onHeader != nil {
		if err := onHeader(hdr); err != nil {
			return nil, err
		}
	}

	if r.size == 0 {
		msg := &Message{Type: r.msgType, Payload: nil}
		r.reset()
		return msg, nil
	}
	r.payload = r.pool.Get(int(r.size))
	return nil, nil
}

func (r *Reader) pumpPayload(read ReadFunc) (*Message, error) {
	n, err := read(r.payload[r.read:])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, nil
		}
		return nil, rerrors.NewTransportError("frame.read_payload", err)
	}
	if n == 0 {
		return nil, rerrors.NewTransportError("frame.read_payload", io.EOF)
	}
	r.read += n
	if r.read < len(r.payload) {
		return nil, nil
	}

	msg := &Message{Type: r.msgType, Payload: r.payload}
	r.payload = nil
	r.reset()
	return msg, nil
}

func (r *Reader) reset() {
	r.state = StateHeader
	r.read = 0
}

// Release returns msg's payload buffer to the pool that produced it.
// Callers must not touch Payload after calling Release.
func (r *Reader) Release(msg *Message) {
	if msg == nil || msg.Payload == nil {
		return
	}
	r.pool.Put(msg.Payload)
}

// Idle reports whether the reader is between messages, i.e. it has not
// consumed any bytes of the next header yet. The multiplexor uses this to
// decide whether a channel can be safely torn down mid-frame.
func (r *Reader) Idle() bool {
	return r.state == StateHeader && r.read == 0
}
