// Package channel implements one SPICE logical channel's connection
// lifecycle, mini-header framing loop, and ACK bookkeeping (spec §3/§4.3).
package channel

import (
	"log/slog"
	"net"
	"sync"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/link"
	"github.com/alxayo/go-spice/internal/spice/wire"

	"github.com/alxayo/go-spice/internal/bufpool"
)

// State is a channel's position in the lifecycle FSM described in spec §4.3.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateInitDone
	StateRunning
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateInitDone:
		return "init_done"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VTable is the per-kind dispatch surface every channel must supply, per
// spec §4.3.
type VTable struct {
	// ChannelCaps returns the kind-specific capability bits to advertise
	// during the link handshake (common caps are supplied by the caller,
	// identically for every channel).
	ChannelCaps func() wire.CapSet

	// AcceptCaps records the server's echoed capability bitmaps for later
	// policy decisions. Optional; MAIN is the only kind that uses this.
	AcceptCaps func(common, channel wire.CapSet)

	// OnConnected runs once, immediately after the handshake succeeds.
	// Optional; DISPLAY uses this to send DISPLAY_INIT.
	OnConnected func(ch *Channel) error

	// InitMessageType is the message type that must be the first
	// channel-specific message received; any other type observed first is
	// fatal (spec §4.3's READY→INIT_DONE transition).
	InitMessageType uint16

	// SelectHandler maps a channel-specific message type to a dispatch
	// decision. Base-range types never reach this; Channel handles them.
	SelectHandler func(msgType uint16) frame.Dispatch
}

// Channel is one SPICE logical channel's connection: socket, framing state,
// ACK window, and lifecycle, matching the field table in spec §3.
type Channel struct {
	Kind wire.ChannelKind
	ID   uint8

	Available   bool
	Enable      bool
	AutoConnect bool

	socket net.Conn
	state  State

	doDisconnect bool

	ackFrequency uint32
	ackCount     uint32

	reader *frame.Reader

	sendLock sync.Mutex

	vtable VTable
	log    *slog.Logger
}

// New creates an idle Channel. pool supplies payload buffers for the
// mini-header framer.
func New(kind wire.ChannelKind, id uint8, pool *bufpool.Pool, vt VTable) *Channel {
	return &Channel{
		Kind:   kind,
		ID:     id,
		state:  StateIdle,
		reader: frame.NewReader(pool),
		vtable: vt,
		log:    logger.WithChannel(logger.Logger(), kind.String(), id),
	}
}

// State reports the channel's current lifecycle position.
func (c *Channel) State() State { return c.state }

// Socket exposes the underlying connection, e.g. for the multiplexor's
// readiness registration.
func (c *Channel) Socket() net.Conn { return c.socket }

// Connected reports whether the channel has an open socket past the
// handshake.
func (c *Channel) Connected() bool {
	return c.state >= StateReady && c.state < StateDisconnecting
}

// Connect drives the link handshake to completion and runs the vtable's
// post-connect hook. On any failure the channel is left CLOSED and conn is
// closed by the caller.
func (c *Channel) Connect(conn net.Conn, sessionID uint32, commonCaps wire.CapSet, password string) error {
	c.socket = conn
	c.state = StateConnecting

	var channelCaps wire.CapSet
	if c.vtable.ChannelCaps != nil {
		channelCaps = c.vtable.ChannelCaps()
	}

	result, err := link.Handshake(conn, link.Config{
		ChannelKind: c.Kind,
		ChannelID:   c.ID,
		SessionID:   sessionID,
		CommonCaps:  commonCaps,
		ChannelCaps: channelCaps,
		Password:    password,
	})
	if err != nil {
		c.state = StateClosed
		return err
	}

	if c.vtable.AcceptCaps != nil {
		c.vtable.AcceptCaps(result.ServerCommonCaps, result.ServerChannelCaps)
	}
	c.state = StateReady

	if c.vtable.OnConnected != nil {
		if err := c.vtable.OnConnected(c); err != nil {
			c.state = StateClosed
			return err
		}
	}
	c.log.Info("channel ready")
	return nil
}

// SetAckFrequency applies a server SET_ACK window; zero disables ACKs
// entirely, per spec §8's boundary case.
func (c *Channel) SetAckFrequency(n uint32) {
	c.ackFrequency = n
	c.ackCount = 0
}

// RequestDisconnect sets the deferred-close flag honoured at the
// multiplexor's next loop entry (spec §4.3/§4.4).
func (c *Channel) RequestDisconnect() { c.doDisconnect = true }

// DoDisconnect reports whether a deferred disconnect is pending.
func (c *Channel) DoDisconnect() bool { return c.doDisconnect }

// Read performs one non-blocking framing step: at most one header or
// payload chunk, or one complete message. It sends an ACK the instant a
// header finishes decoding, before any payload byte is read.
func (c *Channel) Read(read frame.ReadFunc) (*frame.Message, error) {
	msg, err := c.reader.Pump(read, c.onHeaderComplete)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	if !isBaseRangeType(msg.Type) {
		switch c.state {
		case StateReady:
			if msg.Type != c.vtable.InitMessageType {
				return nil, rerrors.NewProtocolError("channel.init_order", errInitOrder)
			}
			c.state = StateInitDone
		case StateInitDone:
			c.state = StateRunning
		}
	}
	return msg, nil
}

// onHeaderComplete fires the instant a header finishes decoding, for every
// message type alike — the ACK window counts all received records, per
// spec §8's "preceding count of received payloads since the last ACK is
// exactly ackFrequency" invariant. A failed ACK write aborts the in-flight
// read so the multiplexor can surface it distinctly from a read failure.
func (c *Channel) onHeaderComplete(hdr wire.Header) error {
	_ = hdr
	if c.ackFrequency == 0 {
		return nil
	}
	c.ackCount++
	if c.ackCount < c.ackFrequency {
		return nil
	}
	c.ackCount = 0
	if err := c.writeLocked(wire.MsgcAck, ackBody[:]); err != nil {
		return &AckError{Err: err}
	}
	return nil
}

// ackBody is SPICE_MSGC_ACK's single-byte (unused) payload.
var ackBody = [1]byte{}

// AckError wraps a failure to send a periodic ACK record, letting callers
// (the multiplexor) distinguish it from an ordinary read failure.
type AckError struct{ Err error }

func (e *AckError) Error() string { return "channel: ack send failed: " + e.Err.Error() }
func (e *AckError) Unwrap() error { return e.Err }

// Dispatch maps a received message's type to a Dispatch decision,
// resolving base-range types itself and delegating channel-specific types
// to the vtable's selector.
func (c *Channel) Dispatch(msgType uint16) frame.Dispatch {
	if isBaseRangeType(msgType) {
		return c.baseDispatch(msgType)
	}
	if c.vtable.SelectHandler == nil {
		return frame.Discard()
	}
	return c.vtable.SelectHandler(msgType)
}

func isBaseRangeType(t uint16) bool {
	return t < wire.MsgFirstAvailable
}

func (c *Channel) baseDispatch(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgSetAck:
		return frame.Handle(func(msg *frame.Message) error {
			return c.handleSetAck(msg)
		})
	case wire.MsgPing:
		return frame.Handle(func(msg *frame.Message) error {
			return c.handlePing(msg)
		})
	case wire.MsgMigrate, wire.MsgMigrateData, wire.MsgWaitForChannels:
		return frame.Discard()
	case wire.MsgDisconnecting:
		return frame.Handle(func(*frame.Message) error {
			c.RequestDisconnect()
			return nil
		})
	case wire.MsgNotify:
		return frame.Discard()
	default:
		return frame.Fatal()
	}
}

func (c *Channel) handleSetAck(msg *frame.Message) error {
	if len(msg.Payload) < wire.SetAckSize {
		return rerrors.NewProtocolError("channel.set_ack", errShortSetAck)
	}
	_, window := wire.DecodeSetAck(msg.Payload)
	c.SetAckFrequency(window)
	return nil
}

func (c *Channel) handlePing(msg *frame.Message) error {
	if len(msg.Payload) < wire.PingSize {
		return rerrors.NewProtocolError("channel.ping", errShortPing)
	}
	return c.writeLocked(wire.MsgcPong, msg.Payload[:wire.PingSize])
}

// Write frames and sends payload under the channel's send lock, per spec
// §5's ordering guarantee that writes within one submit call are
// contiguous on the wire.
func (c *Channel) Write(msgType uint16, payload []byte) error {
	return c.writeLocked(msgType, payload)
}

func (c *Channel) writeLocked(msgType uint16, payload []byte) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.socket == nil {
		return rerrors.NewTransportError("channel.write", errNoSocket)
	}
	return frame.Write(c.socket, msgType, payload)
}

// Record pairs one outbound message type with its payload, for WriteBatch.
type Record struct {
	MsgType uint16
	Payload []byte
}

// WriteBatch frames and sends several records as one contiguous write under
// a single send-lock acquisition, for callers that must guarantee their
// records land on the wire back-to-back (e.g. a coalesced mouse-motion
// burst, spec §4.7).
func (c *Channel) WriteBatch(records []Record) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.socket == nil {
		return rerrors.NewTransportError("channel.write", errNoSocket)
	}
	var buf []byte
	for _, r := range records {
		buf = append(buf, frame.Encode(r.MsgType, r.Payload)...)
	}
	if _, err := c.socket.Write(buf); err != nil {
		return rerrors.NewTransportError("channel.write_batch", err)
	}
	return nil
}

// Release returns msg's payload buffer to the reader's pool.
func (c *Channel) Release(msg *frame.Message) { c.reader.Release(msg) }

// Close marks the channel CLOSED and closes its socket, if any.
func (c *Channel) Close() error {
	c.state = StateClosed
	if c.socket == nil {
		return nil
	}
	return c.socket.Close()
}

type channelError string

func (e channelError) Error() string { return string(e) }

const (
	errInitOrder   = channelError("message observed before required channel init message")
	errShortSetAck = channelError("SET_ACK payload too short")
	errShortPing   = channelError("PING payload too short")
	errNoSocket    = channelError("channel has no open socket")
)
