// Package channels wires each SPICE channel kind's message dispatch onto
// the channel package's generic VTable, translating wire-level records into
// the public session API's callbacks and outbound submissions (spec §4.5-§4.8).
package channels

import (
	"log/slog"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/agent"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// MainCallbacks is the set of hooks the session layer supplies so the MAIN
// handler can drive channel auto-connect and surface the guest's identity
// once it is known, per spec §4.3/§4.5.
type MainCallbacks struct {
	// ConnectChannel is invoked once per channels-list entry, whatever its
	// kind; the callee applies the enable/auto-connect policy, per spec
	// §4.3's channel table semantics.
	ConnectChannel func(kind wire.ChannelKind, id uint8)

	// Ready fires once, the first time the session has everything it needs
	// to be considered usable: the channels list has arrived and, if the
	// server supports it, the guest name and UUID have too.
	Ready func()

	// AgentDisconnected fires once the agent reports the guest-side companion
	// process has gone away.
	AgentDisconnected func(reason uint32)
}

// chWriter is the slice of *channel.Channel this handler depends on; tests
// substitute a stub so the agent's outbound frames can be inspected without
// a live handshake.
type chWriter interface {
	Write(msgType uint16, payload []byte) error
}

// MainHandler implements the MAIN channel's vtable: session bring-up,
// channel discovery, and the VD_AGENT tunnel (spec §4.5/§4.6).
type MainHandler struct {
	cb    MainCallbacks
	agent *agent.Agent
	log   *slog.Logger

	ch chWriter

	sessionID uint32

	nameAndUUIDSupported bool
	agentTokensSupported bool
	channelsListArrived  bool
	nameArrived          bool
	uuidArrived          bool
	readyFired           bool

	name string
	uuid [wire.UUIDSize]byte
}

// Info returns the guest name and UUID last reported by the server, if any
// has arrived yet.
func (h *MainHandler) Info() (name string, id [wire.UUIDSize]byte) {
	return h.name, h.uuid
}

// SessionID returns the server-assigned session ID carried by MAIN_INIT, or
// zero before MAIN_INIT has arrived. Every channel connected after MAIN
// must attach with this ID, per spec §3.
func (h *MainHandler) SessionID() uint32 {
	return h.sessionID
}

// NewMainHandler builds a MAIN handler. sinks wires the VD_AGENT tunnel's
// clipboard events through to the session's public clipboard callbacks.
func NewMainHandler(cb MainCallbacks, sinks agent.Sinks) *MainHandler {
	h := &MainHandler{cb: cb, log: logger.Logger()}
	h.agent = agent.New(h.writeAgent, sinks)
	return h
}

// Agent exposes the underlying VD_AGENT state machine so the session layer
// can forward clipboard grab/release/request/data submissions to it.
func (h *MainHandler) Agent() *agent.Agent { return h.agent }

func (h *MainHandler) writeAgent(msgType uint16, payload []byte) error {
	return h.ch.Write(msgType, payload)
}

// VTable builds the channel.VTable this handler drives.
func (h *MainHandler) VTable() channel.VTable {
	return channel.VTable{
		ChannelCaps:     h.channelCaps,
		AcceptCaps:      h.acceptCaps,
		OnConnected:     h.onConnected,
		InitMessageType: wire.MsgMainInit,
		SelectHandler:   h.selectHandler,
	}
}

func (h *MainHandler) channelCaps() wire.CapSet {
	caps := wire.NewCapSet(wire.MainCapAgentConnectedTokens + 1)
	caps.Set(wire.MainCapNameAndUUID)
	caps.Set(wire.MainCapAgentConnectedTokens)
	return caps
}

// acceptCaps records which optional behaviors the server echoed. An empty
// echoed bitmap is treated as "server didn't bother reporting, assume the
// capability anyway" per wire.CapSet.Empty's documented fallback.
func (h *MainHandler) acceptCaps(_ wire.CapSet, channelCaps wire.CapSet) {
	if channelCaps.Empty() {
		h.nameAndUUIDSupported = true
		h.agentTokensSupported = true
		return
	}
	h.nameAndUUIDSupported = channelCaps.Has(wire.MainCapNameAndUUID)
	h.agentTokensSupported = channelCaps.Has(wire.MainCapAgentConnectedTokens)
}

func (h *MainHandler) onConnected(ch *channel.Channel) error {
	h.ch = ch
	return nil
}

func (h *MainHandler) selectHandler(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgMainInit:
		return frame.Handle(h.handleInit)
	case wire.MsgMainChannelsList:
		return frame.Handle(h.handleChannelsList)
	case wire.MsgMainName:
		return frame.Handle(h.handleName)
	case wire.MsgMainUUID:
		return frame.Handle(h.handleUUID)
	case wire.MsgMainMouseMode:
		return frame.Discard()
	case wire.MsgMainMultiMediaTime:
		return frame.Discard()
	case wire.MsgMainAgentConnected:
		return frame.Handle(h.handleAgentConnected)
	case wire.MsgMainAgentConnectedTokens:
		return frame.Handle(h.handleAgentConnectedTokens)
	case wire.MsgMainAgentDisconnected:
		return frame.Handle(h.handleAgentDisconnected)
	case wire.MsgMainAgentData:
		return frame.Handle(h.handleAgentData)
	case wire.MsgMainAgentToken:
		return frame.Handle(h.handleAgentToken)
	default:
		return frame.Fatal()
	}
}

func (h *MainHandler) handleInit(msg *frame.Message) error {
	if len(msg.Payload) < wire.MainInitSize {
		return rerrors.NewProtocolError("main.init", errShortInit)
	}
	init := wire.DecodeMainInit(msg.Payload)
	h.sessionID = init.SessionID

	if init.AgentConnected != 0 {
		h.agent.SetServerTokens(init.AgentTokens)
		if err := h.agent.Connect(); err != nil {
			return err
		}
	}
	if init.SupportedMouseModes&wire.MouseModeClient != 0 && init.CurrentMouseMode != wire.MouseModeClient {
		if err := h.ch.Write(wire.MsgcMainMouseModeRequest, wire.EncodeMouseModeRequest(wire.MouseModeClient)); err != nil {
			return err
		}
	}
	return h.ch.Write(wire.MsgcMainAttachChannels, wire.EncodeAttachChannels())
}

func (h *MainHandler) handleChannelsList(msg *frame.Message) error {
	entries := wire.DecodeChannelsList(msg.Payload)
	for _, e := range entries {
		if h.cb.ConnectChannel != nil {
			h.cb.ConnectChannel(wire.ChannelKind(e.Type), e.ID)
		}
	}
	h.channelsListArrived = true
	h.maybeFireReady()
	return nil
}

func (h *MainHandler) handleName(msg *frame.Message) error {
	h.name = wire.DecodeMainName(msg.Payload)
	h.nameArrived = true
	h.maybeFireReady()
	return nil
}

func (h *MainHandler) handleUUID(msg *frame.Message) error {
	if len(msg.Payload) >= wire.UUIDSize {
		h.uuid = wire.DecodeMainUUID(msg.Payload)
	}
	h.uuidArrived = true
	h.maybeFireReady()
	return nil
}

func (h *MainHandler) maybeFireReady() {
	if h.readyFired || !h.channelsListArrived {
		return
	}
	if h.nameAndUUIDSupported && !(h.nameArrived && h.uuidArrived) {
		return
	}
	h.readyFired = true
	h.log.Info("main channel ready")
	if h.cb.Ready != nil {
		h.cb.Ready()
	}
}

func (h *MainHandler) handleAgentConnected(msg *frame.Message) error {
	_ = msg
	h.agent.SetServerTokens(^uint32(0))
	return h.agent.Connect()
}

func (h *MainHandler) handleAgentConnectedTokens(msg *frame.Message) error {
	if len(msg.Payload) < 4 {
		return rerrors.NewProtocolError("main.agent_connected_tokens", errShortTokens)
	}
	h.agent.SetServerTokens(wire.DecodeAgentConnectedTokens(msg.Payload))
	return h.agent.Connect()
}

func (h *MainHandler) handleAgentDisconnected(msg *frame.Message) error {
	reason := wire.DecodeAgentDisconnected(msg.Payload)
	h.agent.Disconnect()
	if h.cb.AgentDisconnected != nil {
		h.cb.AgentDisconnected(reason)
	}
	return nil
}

func (h *MainHandler) handleAgentData(msg *frame.Message) error {
	return h.agent.HandleData(msg.Payload)
}

func (h *MainHandler) handleAgentToken(msg *frame.Message) error {
	if len(msg.Payload) < 4 {
		return rerrors.NewProtocolError("main.agent_token", errShortTokens)
	}
	h.agent.AddTokens(wire.DecodeAgentToken(msg.Payload))
	return nil
}

type mainError string

func (e mainError) Error() string { return string(e) }

const (
	errShortInit   = mainError("MAIN_INIT payload too short")
	errShortTokens = mainError("agent token message payload too short")
)
