// Package agent implements the VD_AGENT guest-agent sub-protocol tunnelled
// over MAIN's AGENT_DATA records: clipboard grab/release/request/transfer,
// outbound flow control against server-granted tokens, and the fragmented
// receive reassembly needed because a logical agent message may span many
// AGENT_DATA records (spec §4.6).
package agent

import (
	"sync"
	"sync/atomic"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/wire"

	"log/slog"
)

// ClipboardType is the public clipboard content type surface, mapped
// losslessly to and from the agent's wire codes.
type ClipboardType int

const (
	ClipboardNone ClipboardType = iota
	ClipboardText
	ClipboardPNG
	ClipboardBMP
	ClipboardTIFF
	ClipboardJPEG
)

func (t ClipboardType) String() string {
	switch t {
	case ClipboardText:
		return "text"
	case ClipboardPNG:
		return "png"
	case ClipboardBMP:
		return "bmp"
	case ClipboardTIFF:
		return "tiff"
	case ClipboardJPEG:
		return "jpeg"
	default:
		return "none"
	}
}

func publicToAgentType(t ClipboardType) uint32 {
	switch t {
	case ClipboardText:
		return wire.VDAgentClipboardUTF8Text
	case ClipboardPNG:
		return wire.VDAgentClipboardImagePNG
	case ClipboardBMP:
		return wire.VDAgentClipboardImageBMP
	case ClipboardTIFF:
		return wire.VDAgentClipboardImageTIFF
	case ClipboardJPEG:
		return wire.VDAgentClipboardImageJPG
	default:
		return wire.VDAgentClipboardNone
	}
}

func agentToPublicType(t uint32) ClipboardType {
	switch t {
	case wire.VDAgentClipboardUTF8Text:
		return ClipboardText
	case wire.VDAgentClipboardImagePNG:
		return ClipboardPNG
	case wire.VDAgentClipboardImageBMP:
		return ClipboardBMP
	case wire.VDAgentClipboardImageTIFF:
		return ClipboardTIFF
	case wire.VDAgentClipboardImageJPG:
		return ClipboardJPEG
	default:
		return ClipboardNone
	}
}

// Sinks are the host callbacks an Agent drives; all four are mandatory when
// clipboard support is enabled, per the session configuration surface.
type Sinks struct {
	Notice  func(t ClipboardType)
	Data    func(t ClipboardType, data []byte)
	Release func()
	Request func(t ClipboardType)
}

// TokensMax is the token count the client offers the guest agent at
// AGENT_START, mirroring SPICE_AGENT_TOKENS_MAX.
const TokensMax = ^uint32(0)

// Writer is the channel-level send primitive an Agent needs: frame and
// transmit one outbound MAIN message under the channel's send lock.
type Writer func(msgType uint16, payload []byte) error

// Agent tracks the guest-agent connection: token flow control, the
// outbound FIFO send queue, and clipboard transfer/reassembly state.
type Agent struct {
	mu      sync.Mutex
	present bool
	write   Writer
	sinks   Sinks
	log     *slog.Logger

	serverTokens atomic.Int64
	sendQueue    [][]byte

	cbSelection     bool
	cbAgentGrabbed  bool
	cbClientGrabbed bool
	cbType          ClipboardType
	cbBuffer        []byte
	cbSize          uint32
	cbRemain        uint32
}

// New creates an agent bound to write for sending and sinks for surfacing
// clipboard events to the host.
func New(write Writer, sinks Sinks) *Agent {
	return &Agent{
		write: write,
		sinks: sinks,
		log:   logger.Logger(),
	}
}

// Present reports whether the guest agent is currently connected.
func (a *Agent) Present() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.present
}

// Connect performs agent-connect: reset transfer state, send AGENT_START
// offering the client's full token budget, mark the agent present, then
// announce this client's capabilities (clipboard by-demand and selection),
// requesting the guest announce its own in reply.
func (a *Agent) Connect() error {
	a.mu.Lock()
	a.sendQueue = a.sendQueue[:0]
	a.cbBuffer = nil
	a.cbSize = 0
	a.cbRemain = 0
	a.cbAgentGrabbed = false
	a.cbClientGrabbed = false
	a.mu.Unlock()

	startBody := make([]byte, 4)
	putUint32(startBody, TokensMax)
	if err := a.write(wire.MsgcMainAgentStart, startBody); err != nil {
		return rerrors.NewTransportError("agent.start", err)
	}

	a.mu.Lock()
	a.present = true
	a.mu.Unlock()

	if err := a.sendCaps(true); err != nil {
		a.mu.Lock()
		a.present = false
		a.mu.Unlock()
		return err
	}
	a.log.Info("guest agent connected")
	return nil
}

// Disconnect tears down agent state, matching the original's teardown on
// MAIN_AGENT_DISCONNECTED.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.present = false
	a.sendQueue = nil
	a.cbBuffer = nil
	a.cbSize = 0
	a.cbRemain = 0
	a.cbAgentGrabbed = false
	a.cbClientGrabbed = false
}

// SetServerTokens overwrites the server's advertised token budget, applied
// from MAIN_AGENT_CONNECTED_TOKENS.
func (a *Agent) SetServerTokens(n uint32) {
	a.serverTokens.Store(int64(n))
	a.drain()
}

// AddTokens applies a MAIN_AGENT_TOKEN refill and opportunistically drains
// the outbound queue.
func (a *Agent) AddTokens(n uint32) {
	a.serverTokens.Add(int64(n))
	a.drain()
}

func (a *Agent) takeToken() bool {
	for {
		tokens := a.serverTokens.Load()
		if tokens <= 0 {
			return false
		}
		if a.serverTokens.CompareAndSwap(tokens, tokens-1) {
			return true
		}
	}
}

// drain sends as many queued fragments as there are available tokens,
// preserving FIFO order.
func (a *Agent) drain() {
	for {
		a.mu.Lock()
		if len(a.sendQueue) == 0 {
			a.mu.Unlock()
			return
		}
		if !a.takeToken() {
			a.mu.Unlock()
			return
		}
		frag := a.sendQueue[0]
		a.sendQueue = a.sendQueue[1:]
		a.mu.Unlock()

		if err := a.write(wire.MsgcMainAgentData, frag); err != nil {
			a.log.Warn("agent queue drain failed", "error", err)
			return
		}
	}
}

// enqueue splits a logical VDAgentMessage (header + body) into
// VD_AGENT_MAX_DATA_SIZE fragments and appends them to the send queue,
// implementing the start-message atomicity guarantee: every fragment this
// call produces sums to exactly the declared message size.
func (a *Agent) enqueue(msgType uint32, body []byte) {
	full := make([]byte, wire.VDAgentMessageSize+len(body))
	hdr := wire.VDAgentMessage{Protocol: wire.VDAgentProtocol, Type: msgType, Size: uint32(len(body))}
	hdr.Encode(full[:wire.VDAgentMessageSize])
	copy(full[wire.VDAgentMessageSize:], body)

	a.mu.Lock()
	for len(full) > 0 {
		n := len(full)
		if n > wire.VDAgentMaxDataSize {
			n = wire.VDAgentMaxDataSize
		}
		frag := make([]byte, n)
		copy(frag, full[:n])
		a.sendQueue = append(a.sendQueue, frag)
		full = full[n:]
	}
	a.mu.Unlock()
	a.drain()
}

func (a *Agent) sendCaps(request bool) error {
	a.mu.Lock()
	present := a.present
	a.mu.Unlock()
	if !present {
		return rerrors.NewFlowError("agent.send_caps", errNotPresent)
	}

	var caps wire.CapSet
	caps.Set(vdAgentCapClipboardByDemand)
	caps.Set(vdAgentCapClipboardSelection)
	capBytes := caps.Bytes()

	body := make([]byte, 4+len(capBytes))
	if request {
		body[0] = 1
	}
	copy(body[4:], capBytes)
	a.enqueue(wire.VDAgentAnnounceCapabilities, body)
	return nil
}

// Agent capability bit assignments within VDAgentAnnounceCapabilities, per
// the guest-agent protocol (distinct from the link-layer channel caps in
// wire.constants.go).
const (
	vdAgentCapClipboardByDemand  = 5
	vdAgentCapClipboardSelection = 6
)

// HandleData processes one reassembled MAIN_AGENT_DATA payload: either a
// continuation of an in-progress clipboard transfer, or a new outer
// VDAgentMessage.
func (a *Agent) HandleData(payload []byte) error {
	a.mu.Lock()
	remain := a.cbRemain
	a.mu.Unlock()

	if remain > 0 {
		return a.continueClipboard(payload)
	}

	if len(payload) < wire.VDAgentMessageSize {
		return rerrors.NewProtocolError("agent.data", errShortMessage)
	}
	outer := wire.DecodeVDAgentMessage(payload)
	if outer.Protocol != wire.VDAgentProtocol {
		return rerrors.NewProtocolError("agent.data", errBadProtocol)
	}
	body := payload[wire.VDAgentMessageSize:]

	switch outer.Type {
	case wire.VDAgentAnnounceCapabilities:
		return a.handleAnnounceCapabilities(body)
	case wire.VDAgentClipboardGrab:
		return a.handleClipboardGrab(body)
	case wire.VDAgentClipboardRelease:
		return a.handleClipboardRelease(body)
	case wire.VDAgentClipboardRequest:
		return a.handleClipboardRequest(body)
	case wire.VDAgentClipboard:
		return a.beginClipboard(body, outer.Size)
	default:
		return nil
	}
}

func (a *Agent) selectionPrefix(body []byte) []byte {
	a.mu.Lock()
	sel := a.cbSelection
	a.mu.Unlock()
	if sel && len(body) >= 4 {
		return body[4:]
	}
	return body
}

func (a *Agent) handleAnnounceCapabilities(body []byte) error {
	if len(body) < 4 {
		return rerrors.NewProtocolError("agent.announce_caps", errShortMessage)
	}
	request := body[0] != 0
	caps := wire.CapSetFromBytes(body[4:])
	a.mu.Lock()
	a.cbSelection = caps.Has(vdAgentCapClipboardSelection)
	a.mu.Unlock()
	if request {
		return a.sendCaps(false)
	}
	return nil
}

func (a *Agent) handleClipboardGrab(body []byte) error {
	body = a.selectionPrefix(body)
	types := wire.DecodeClipboardGrab(body)
	if len(types) == 0 {
		return nil
	}
	t := agentToPublicType(types[0])

	a.mu.Lock()
	a.cbType = t
	a.cbAgentGrabbed = true
	a.cbClientGrabbed = false
	sel := a.cbSelection
	a.mu.Unlock()

	// Selection-aware grabs are not surfaced to the host: no callers in
	// this client negotiate a non-default selection target.
	if sel {
		return nil
	}
	if a.sinks.Notice != nil {
		a.sinks.Notice(t)
	}
	return nil
}

func (a *Agent) handleClipboardRelease(body []byte) error {
	_ = body
	a.mu.Lock()
	a.cbAgentGrabbed = false
	a.mu.Unlock()
	if a.sinks.Release != nil {
		a.sinks.Release()
	}
	return nil
}

func (a *Agent) handleClipboardRequest(body []byte) error {
	body = a.selectionPrefix(body)
	t := wire.DecodeClipboardRequest(body)
	if a.sinks.Request != nil {
		a.sinks.Request(agentToPublicType(t))
	}
	return nil
}

// beginClipboard starts reassembly of a CLIPBOARD transfer whose total
// logical size (including the selection/type prefix) is totalSize.
func (a *Agent) beginClipboard(body []byte, totalSize uint32) error {
	a.mu.Lock()
	if a.cbBuffer != nil {
		a.mu.Unlock()
		return rerrors.NewProtocolError("agent.clipboard", errMidReassembly)
	}
	sel := a.cbSelection
	a.mu.Unlock()

	if sel {
		if len(body) < 4 {
			return rerrors.NewProtocolError("agent.clipboard", errShortMessage)
		}
		body = body[4:]
		totalSize -= 4
	}
	dataType, chunk, ok := wire.DecodeClipboardData(body)
	if !ok {
		return rerrors.NewProtocolError("agent.clipboard", errShortMessage)
	}
	total := totalSize - 4 // exclude the type field from the data length

	a.mu.Lock()
	a.cbType = agentToPublicType(dataType)
	a.cbBuffer = make([]byte, 0, total)
	a.cbBuffer = append(a.cbBuffer, chunk...)
	a.cbSize = uint32(len(chunk))
	a.cbRemain = total - a.cbSize
	complete := a.cbRemain == 0
	a.mu.Unlock()

	if complete {
		a.finishClipboard()
	}
	return nil
}

func (a *Agent) continueClipboard(payload []byte) error {
	a.mu.Lock()
	a.cbBuffer = append(a.cbBuffer, payload...)
	a.cbSize += uint32(len(payload))
	if uint32(len(payload)) > a.cbRemain {
		a.cbRemain = 0
	} else {
		a.cbRemain -= uint32(len(payload))
	}
	complete := a.cbRemain == 0
	a.mu.Unlock()

	if complete {
		a.finishClipboard()
	}
	return nil
}

func (a *Agent) finishClipboard() {
	a.mu.Lock()
	t := a.cbType
	buf := a.cbBuffer
	a.cbBuffer = nil
	a.cbSize = 0
	a.cbRemain = 0
	a.mu.Unlock()

	if a.sinks.Data != nil {
		a.sinks.Data(t, buf)
	}
}

// Grab sends CLIPBOARD_GRAB offering types, in the host's preference order.
func (a *Agent) Grab(types []ClipboardType) error {
	a.mu.Lock()
	present := a.present
	a.mu.Unlock()
	if !present {
		return rerrors.NewFlowError("agent.grab", errNotPresent)
	}
	if len(types) == 0 {
		return rerrors.NewFlowError("agent.grab", errNoTypes)
	}

	codes := make([]uint32, len(types))
	for i, t := range types {
		codes[i] = publicToAgentType(t)
	}
	body := wire.EncodeClipboardGrab(codes)
	a.enqueue(wire.VDAgentClipboardGrab, body)

	a.mu.Lock()
	a.cbClientGrabbed = true
	a.mu.Unlock()
	return nil
}

// Release sends CLIPBOARD_RELEASE only if the client currently holds the
// grab; otherwise it is a no-op.
func (a *Agent) Release() error {
	a.mu.Lock()
	present := a.present
	grabbed := a.cbClientGrabbed
	a.mu.Unlock()
	if !present {
		return rerrors.NewFlowError("agent.release", errNotPresent)
	}
	if !grabbed {
		return nil
	}

	a.enqueue(wire.VDAgentClipboardRelease, nil)

	a.mu.Lock()
	a.cbClientGrabbed = false
	a.mu.Unlock()
	return nil
}

// Request sends CLIPBOARD_REQUEST for t, only valid while the agent holds
// the grab and t matches the type it offered.
func (a *Agent) Request(t ClipboardType) error {
	a.mu.Lock()
	present := a.present
	grabbed := a.cbAgentGrabbed
	cbType := a.cbType
	a.mu.Unlock()
	if !present {
		return rerrors.NewFlowError("agent.request", errNotPresent)
	}
	if !grabbed || t != cbType {
		return rerrors.NewFlowError("agent.request", errWrongType)
	}

	body := wire.EncodeClipboardRequest(publicToAgentType(t))
	a.enqueue(wire.VDAgentClipboardRequest, body)
	return nil
}

// SendData sends a CLIPBOARD transfer carrying data as type t.
func (a *Agent) SendData(t ClipboardType, data []byte) error {
	a.mu.Lock()
	present := a.present
	a.mu.Unlock()
	if !present {
		return rerrors.NewFlowError("agent.send_data", errNotPresent)
	}

	body := wire.EncodeClipboardData(publicToAgentType(t), data)
	a.enqueue(wire.VDAgentClipboard, body)
	return nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

type agentError string

func (e agentError) Error() string { return string(e) }

const (
	errNotPresent    = agentError("guest agent is not connected")
	errShortMessage  = agentError("agent message payload too short")
	errBadProtocol   = agentError("unexpected VDAgentMessage protocol version")
	errMidReassembly = agentError("clipboard message received during active reassembly")
	errNoTypes       = agentError("clipboard grab requires at least one type")
	errWrongType     = agentError("clipboard request type does not match the active grab")
)
