package channels

import (
	"log/slog"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// RecordSinks are the host callbacks a RecordHandler forwards decoded
// RECORD messages to, symmetric with PlaybackSinks (spec §4.8).
type RecordSinks struct {
	Start  func(channels, frequency uint32) error
	Stop   func()
	Volume func(gains []uint16)
	Mute   func(muted bool)
}

// recordWriter is the slice of *channel.Channel the RECORD handler needs to
// submit captured frames.
type recordWriter interface {
	Write(msgType uint16, payload []byte) error
}

// RecordHandler implements the RECORD channel's vtable: captured-audio
// submission and the volume/mute control path, per spec §4.8.
type RecordHandler struct {
	ch    recordWriter
	sinks RecordSinks
	log   *slog.Logger
}

// NewRecordHandler builds a RECORD handler.
func NewRecordHandler(sinks RecordSinks) *RecordHandler {
	return &RecordHandler{sinks: sinks, log: logger.Logger()}
}

func (h *RecordHandler) volumeCapable() bool {
	return h.sinks.Volume != nil && h.sinks.Mute != nil
}

// VTable builds the channel.VTable this handler drives.
func (h *RecordHandler) VTable() channel.VTable {
	return channel.VTable{
		ChannelCaps:     h.channelCaps,
		OnConnected:     h.onConnected,
		InitMessageType: wire.MsgRecordStart,
		SelectHandler:   h.selectHandler,
	}
}

func (h *RecordHandler) channelCaps() wire.CapSet {
	caps := wire.NewCapSet(wire.RecordCapVolume + 1)
	if h.volumeCapable() {
		caps.Set(wire.RecordCapVolume)
	}
	return caps
}

func (h *RecordHandler) onConnected(ch *channel.Channel) error {
	h.ch = ch
	return nil
}

func (h *RecordHandler) selectHandler(msgType uint16) frame.Dispatch {
	switch msgType {
	case wire.MsgRecordStart:
		return frame.Handle(h.handleStart)
	case wire.MsgRecordStop:
		return frame.Handle(h.handleStop)
	case wire.MsgRecordVolume:
		return frame.Handle(h.handleVolume)
	case wire.MsgRecordMute:
		return frame.Handle(h.handleMute)
	default:
		return frame.Fatal()
	}
}

func (h *RecordHandler) handleStart(msg *frame.Message) error {
	start := wire.DecodePlaybackStart(msg.Payload)
	if start.Format != wire.AudioFmtS16 {
		return rerrors.NewProtocolError("record.start", errUnsupportedAudioFormat)
	}
	if h.sinks.Start != nil {
		return h.sinks.Start(start.Channels, start.Frequency)
	}
	return nil
}

func (h *RecordHandler) handleStop(_ *frame.Message) error {
	if h.sinks.Stop != nil {
		h.sinks.Stop()
	}
	return nil
}

func (h *RecordHandler) handleVolume(msg *frame.Message) error {
	if h.sinks.Volume != nil {
		h.sinks.Volume(wire.DecodeAudioVolume(msg.Payload))
	}
	return nil
}

func (h *RecordHandler) handleMute(msg *frame.Message) error {
	if h.sinks.Mute != nil {
		h.sinks.Mute(wire.DecodeAudioMute(msg.Payload))
	}
	return nil
}

// WriteAudio frames one captured sample buffer as RECORD_DATA under the
// channel's send lock, per spec §4.8.
func (h *RecordHandler) WriteAudio(samples []byte, timeMS uint32) error {
	return h.ch.Write(wire.MsgcRecordData, wire.EncodeRecordData(timeMS, samples))
}
