package channels

import (
	"log/slog"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// PlaybackSinks are the host callbacks a PlaybackHandler forwards decoded
// PLAYBACK messages to. Volume/Mute are optional; supplying both is what
// makes the handler advertise the VOLUME capability during the link
// handshake (spec §4.1/§4.8).
type PlaybackSinks struct {
	Start  func(channels, frequency uint32) error
	Data   func(samples []byte)
	Stop   func()
	Volume func(gains []uint16)
	Mute   func(muted bool)
}

// PlaybackHandler implements the PLAYBACK channel's vtable: raw PCM
// delivery to a host-supplied sink, per spec §4.8.
type PlaybackHandler struct {
	sinks PlaybackSinks
	log   *slog.Logger
}

// NewPlaybackHandler builds a PLAYBACK handler.
func NewPlaybackHandler(sinks PlaybackSinks) *PlaybackHandler {
	return &PlaybackHandler{sinks: sinks, log: logger.Logger()}
}

func (h *PlaybackHandler) volumeCapable() bool {
	return h.sinks.Volume != nil && h.sinks.Mute != nil
}

// VTable builds the channel.VTable this handler drives.
func (h *PlaybackHandler) VTable() channel.VTable {
	return channel.VTable{
		ChannelCaps:     h.channelCaps,
		InitMessageType: wire.MsgPlaybackStart,
		SelectHandler:   h.selectHandler,
	}
}

func (h *PlaybackHandler) channelCaps() wire.CapSet {
	caps := wire.NewCapSet(wire.PlaybackCapVolume + 1)
	if h.volumeCapable() {
		caps.Set(wire.PlaybackCapVolume)
	}
	return caps
}

func (h *PlaybackHandler) selectHandler(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgPlaybackStart:
		return frame.Handle(h.handleStart)
	case wire.MsgPlaybackData:
		return frame.Handle(h.handleData)
	case wire.MsgPlaybackStop:
		return frame.Handle(h.handleStop)
	case wire.MsgPlaybackVolume:
		return frame.Handle(h.handleVolume)
	case wire.MsgPlaybackMute:
		return frame.Handle(h.handleMute)
	case wire.MsgPlaybackMode:
		return frame.Discard()
	default:
		return frame.Fatal()
	}
}

func (h *PlaybackHandler) handleStart(msg *frame.Message) error {
	start := wire.DecodePlaybackStart(msg.Payload)
	if start.Format != wire.AudioFmtS16 {
		return rerrors.NewProtocolError("playback.start", errUnsupportedAudioFormat)
	}
	if h.sinks.Start != nil {
		return h.sinks.Start(start.Channels, start.Frequency)
	}
	return nil
}

func (h *PlaybackHandler) handleData(msg *frame.Message) error {
	if h.sinks.Data != nil {
		h.sinks.Data(msg.Payload)
	}
	return nil
}

func (h *PlaybackHandler) handleStop(_ *frame.Message) error {
	if h.sinks.Stop != nil {
		h.sinks.Stop()
	}
	return nil
}

func (h *PlaybackHandler) handleVolume(msg *frame.Message) error {
	if h.sinks.Volume != nil {
		h.sinks.Volume(wire.DecodeAudioVolume(msg.Payload))
	}
	return nil
}

func (h *PlaybackHandler) handleMute(msg *frame.Message) error {
	if h.sinks.Mute != nil {
		h.sinks.Mute(wire.DecodeAudioMute(msg.Payload))
	}
	return nil
}

type playbackError string

func (e playbackError) Error() string { return string(e) }

const errUnsupportedAudioFormat = playbackError("unsupported PLAYBACK_START sample format")
