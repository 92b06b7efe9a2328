// Package session is the public façade: a Client assembles the link
// handshake, multiplexor, and per-kind channel handlers behind the single
// entry-point surface described in spec §6.
package session

import (
	"github.com/alxayo/go-spice/internal/spice/agent"
	"github.com/alxayo/go-spice/internal/spice/channels"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// Config is the recognised configuration surface, per spec §6's table.
type Config struct {
	Host     string
	Port     int
	Password string

	// Ready fires once MAIN's channels list has arrived and, if supported,
	// the guest name and UUID have also arrived.
	Ready func()

	Inputs    InputsConfig
	Clipboard ClipboardConfig
	Playback  PlaybackConfig
	Record    RecordConfig
	Display   DisplayConfig
}

// InputsConfig is the `inputs` group of the configuration surface.
type InputsConfig struct {
	Enable      bool
	AutoConnect bool
}

// ClipboardConfig is the `clipboard` group. All four sinks are mandatory
// when Enable is true.
type ClipboardConfig struct {
	Enable  bool
	Notice  func(agent.ClipboardType)
	Data    func(agent.ClipboardType, []byte)
	Release func()
	Request func(agent.ClipboardType)
}

// PlaybackConfig is the `playback` group. Start/Stop/Data are mandatory
// when Enable is true; Volume/Mute presence also controls capability
// advertisement.
type PlaybackConfig struct {
	Enable      bool
	AutoConnect bool
	Start       func(chans, freq uint32) error
	Volume      func(gains []uint16)
	Mute        func(muted bool)
	Stop        func()
	Data        func(samples []byte)
}

// RecordConfig is the `record` group, symmetric with PlaybackConfig minus
// the data sink (capture flows the other direction, via WriteAudio).
type RecordConfig struct {
	Enable      bool
	AutoConnect bool
	Start       func(chans, freq uint32) error
	Volume      func(gains []uint16)
	Mute        func(muted bool)
	Stop        func()
}

// DisplayConfig is the `display` group. All four sinks are mandatory when
// Enable is true.
type DisplayConfig struct {
	Enable         bool
	AutoConnect    bool
	SurfaceCreate  func(surfaceID uint32, format channels.SurfaceFormat, width, height uint32) error
	SurfaceDestroy func(surfaceID uint32)
	DrawBitmap     func(surfaceID uint32, box wire.Rect, bmp channels.Bitmap)
	DrawFill       func(surfaceID uint32, box wire.Rect, color uint32)
}
