package channels

import (
	"testing"

	"github.com/alxayo/go-spice/internal/spice/frame"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

func encodePlaybackStart(channels, freq uint32, format uint16) []byte {
	b := make([]byte, 14)
	putLE32(b[0:4], channels)
	putLE32(b[4:8], freq)
	putLE16(b[8:10], format)
	putLE32(b[10:14], 0)
	return b
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func TestPlaybackStartRejectsNonS16Format(t *testing.T) {
	h := NewPlaybackHandler(PlaybackSinks{})
	body := encodePlaybackStart(2, 44100, 2)
	if err := h.handleStart(&frame.Message{Type: wire.MsgPlaybackStart, Payload: body}); err == nil {
		t.Fatalf("expected error for non-S16 format")
	}
}

func TestPlaybackStartAcceptsS16(t *testing.T) {
	var gotChannels, gotFreq uint32
	h := NewPlaybackHandler(PlaybackSinks{Start: func(c, f uint32) error {
		gotChannels, gotFreq = c, f
		return nil
	}})
	body := encodePlaybackStart(2, 44100, uint16(wire.AudioFmtS16))
	if err := h.handleStart(&frame.Message{Type: wire.MsgPlaybackStart, Payload: body}); err != nil {
		t.Fatalf("handleStart: %v", err)
	}
	if gotChannels != 2 || gotFreq != 44100 {
		t.Fatalf("got (%d,%d), want (2,44100)", gotChannels, gotFreq)
	}
}

func TestPlaybackCapsRequireBothVolumeAndMute(t *testing.T) {
	h := NewPlaybackHandler(PlaybackSinks{Volume: func([]uint16) {}})
	if h.volumeCapable() {
		t.Fatalf("expected volumeCapable false with only Volume sink set")
	}
	h2 := NewPlaybackHandler(PlaybackSinks{Volume: func([]uint16) {}, Mute: func(bool) {}})
	if !h2.volumeCapable() {
		t.Fatalf("expected volumeCapable true with both sinks set")
	}
	if !h2.channelCaps().Has(wire.PlaybackCapVolume) {
		t.Fatalf("expected PlaybackCapVolume bit set")
	}
}

func TestPlaybackDataForwardsRawSamples(t *testing.T) {
	var got []byte
	h := NewPlaybackHandler(PlaybackSinks{Data: func(d []byte) { got = d }})
	payload := []byte{1, 2, 3, 4}
	if err := h.handleData(&frame.Message{Type: wire.MsgPlaybackData, Payload: payload}); err != nil {
		t.Fatalf("handleData: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

type stubRecordWriter struct {
	last struct {
		msgType uint16
		payload []byte
	}
}

func (s *stubRecordWriter) Write(msgType uint16, payload []byte) error {
	s.last.msgType = msgType
	s.last.payload = payload
	return nil
}

func TestRecordStartRejectsNonS16Format(t *testing.T) {
	h := NewRecordHandler(RecordSinks{})
	body := encodePlaybackStart(1, 8000, 2)
	if err := h.handleStart(&frame.Message{Type: wire.MsgRecordStart, Payload: body}); err == nil {
		t.Fatalf("expected error for non-S16 format")
	}
}

func TestWriteAudioFramesRecordData(t *testing.T) {
	h := NewRecordHandler(RecordSinks{})
	stub := &stubRecordWriter{}
	h.ch = stub

	samples := []byte{9, 9, 9}
	if err := h.WriteAudio(samples, 1234); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	if stub.last.msgType != wire.MsgcRecordData {
		t.Fatalf("msg type = %d, want RECORD_DATA", stub.last.msgType)
	}
	_, gotTime, gotSamples := decodeRecordData(stub.last.payload)
	if gotTime != 1234 {
		t.Fatalf("time = %d, want 1234", gotTime)
	}
	if string(gotSamples) != string(samples) {
		t.Fatalf("samples = %v, want %v", gotSamples, samples)
	}
}

func decodeRecordData(b []byte) (ok bool, timeMS uint32, samples []byte) {
	if len(b) < 4 {
		return false, 0, nil
	}
	timeMS = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return true, timeMS, b[4:]
}
