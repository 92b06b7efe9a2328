package session

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/alxayo/go-spice/internal/bufpool"
	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/agent"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/channels"
	"github.com/alxayo/go-spice/internal/spice/mux"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

// Status is Process's return taxonomy, re-exported from mux so callers
// never import the internal multiplexor package directly.
type Status = mux.Status

const (
	Run      = mux.Run
	Shutdown = mux.Shutdown
	ErrPoll  = mux.ErrPoll
	ErrRead  = mux.ErrRead
	ErrAck   = mux.ErrAck
)

// ServerInfo is the snapshot getServerInfo/freeServerInfo exposes: the
// guest name and UUID reported by MAIN, once the server supports and
// sends them.
type ServerInfo struct {
	Name string
	UUID uuid.UUID
}

// Client is the public façade over the link handshake, multiplexor, and
// per-kind channel handlers (spec §6).
type Client struct {
	cfg Config

	log  *slog.Logger
	mux  *mux.Multiplexor
	pool *bufpool.Pool

	mu       sync.Mutex
	channels map[wire.ChannelKind]*channel.Channel
	policy   map[wire.ChannelKind]policy

	mainHandler     *channels.MainHandler
	inputsHandler   *channels.InputsHandler
	playbackHandler *channels.PlaybackHandler
	recordHandler   *channels.RecordHandler
	displayHandler  *channels.DisplayHandler

	sessionID uint32
}

type policy struct {
	enable      bool
	autoConnect bool
}

// New builds an idle Client from cfg. It does not dial anything; call
// Connect to start the MAIN handshake.
func New(cfg Config) (*Client, error) {
	m, err := mux.New()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		log:      logger.Logger(),
		mux:      m,
		pool:     bufpool.New(),
		channels: make(map[wire.ChannelKind]*channel.Channel),
		policy: map[wire.ChannelKind]policy{
			wire.ChannelInputs:   {enable: cfg.Inputs.Enable, autoConnect: cfg.Inputs.AutoConnect},
			wire.ChannelPlayback: {enable: cfg.Playback.Enable, autoConnect: cfg.Playback.AutoConnect},
			wire.ChannelRecord:   {enable: cfg.Record.Enable, autoConnect: cfg.Record.AutoConnect},
			wire.ChannelDisplay:  {enable: cfg.Display.Enable, autoConnect: cfg.Display.AutoConnect},
		},
	}

	var clipSinks agent.Sinks
	if cfg.Clipboard.Enable {
		clipSinks = agent.Sinks{
			Notice:  cfg.Clipboard.Notice,
			Data:    cfg.Clipboard.Data,
			Release: cfg.Clipboard.Release,
			Request: cfg.Clipboard.Request,
		}
	}
	c.mainHandler = channels.NewMainHandler(channels.MainCallbacks{
		ConnectChannel: c.onChannelsListEntry,
		Ready:          cfg.Ready,
	}, clipSinks)
	c.inputsHandler = channels.NewInputsHandler()
	c.playbackHandler = channels.NewPlaybackHandler(channels.PlaybackSinks{
		Start:  cfg.Playback.Start,
		Data:   cfg.Playback.Data,
		Stop:   cfg.Playback.Stop,
		Volume: cfg.Playback.Volume,
		Mute:   cfg.Playback.Mute,
	})
	c.recordHandler = channels.NewRecordHandler(channels.RecordSinks{
		Start:  cfg.Record.Start,
		Stop:   cfg.Record.Stop,
		Volume: cfg.Record.Volume,
		Mute:   cfg.Record.Mute,
	})
	c.displayHandler = channels.NewDisplayHandler(channels.DisplaySinks{
		SurfaceCreate:  cfg.Display.SurfaceCreate,
		SurfaceDestroy: cfg.Display.SurfaceDestroy,
		DrawFill:       cfg.Display.DrawFill,
		DrawCopy: func(surfaceID uint32, box wire.Rect, bmp channels.Bitmap) {
			if cfg.Display.DrawBitmap != nil {
				cfg.Display.DrawBitmap(surfaceID, box, bmp)
			}
		},
	})

	return c, nil
}

func (c *Client) vtableFor(kind wire.ChannelKind) channel.VTable {
	switch kind {
	case wire.ChannelMain:
		return c.mainHandler.VTable()
	case wire.ChannelInputs:
		return c.inputsHandler.VTable()
	case wire.ChannelPlayback:
		return c.playbackHandler.VTable()
	case wire.ChannelRecord:
		return c.recordHandler.VTable()
	case wire.ChannelDisplay:
		return c.displayHandler.VTable()
	default:
		return channel.VTable{}
	}
}

// Connect dials and handshakes MAIN, then auto-connects every other
// enabled, auto-connect-policy channel once the channels list arrives
// (spec §4.3's onChannelsListEntry callback drives that part).
func (c *Client) Connect() error {
	return c.ConnectChannel(wire.ChannelMain)
}

// ConnectChannel dials and handshakes a single channel kind, registering
// it with the multiplexor on success. Manual connect/disconnect entry
// points target a single kind and do not touch others.
func (c *Client) ConnectChannel(kind wire.ChannelKind) error {
	c.mu.Lock()
	if _, exists := c.channels[kind]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// MAIN assigns the session ID via MAIN_INIT; every channel connected
	// after it must attach with that server-assigned ID, per spec §3.
	if kind != wire.ChannelMain {
		c.sessionID = c.mainHandler.SessionID()
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}

	ch := channel.New(kind, 0, c.pool, c.vtableFor(kind))
	commonCaps := wire.NewCapSet(wire.CommonCapMiniHeader + 1)
	commonCaps.Set(wire.CommonCapProtocolAuthSelection)
	commonCaps.Set(wire.CommonCapAuthSpice)
	commonCaps.Set(wire.CommonCapMiniHeader)

	if err := ch.Connect(conn, c.sessionID, commonCaps, c.cfg.Password); err != nil {
		_ = conn.Close()
		return err
	}
	if err := c.mux.Register(ch); err != nil {
		_ = ch.Close()
		return err
	}

	c.mu.Lock()
	c.channels[kind] = ch
	c.mu.Unlock()
	return nil
}

func (c *Client) onChannelsListEntry(kind wire.ChannelKind, _ uint8) {
	if kind == wire.ChannelCursor {
		return
	}
	p, ok := c.policy[kind]
	if !ok || !p.enable || !p.autoConnect {
		return
	}
	if c.ChannelConnected(kind) {
		return
	}
	if err := c.ConnectChannel(kind); err != nil {
		c.log.Warn("auto-connect failed", "channel", kind, "error", err)
	}
}

// dial opens a fresh connection to the configured host/port, per spec §6:
// a zero port selects AF_UNIX against Host as a filesystem path.
func (c *Client) dial() (net.Conn, error) {
	if c.cfg.Port == 0 {
		conn, err := net.Dial("unix", c.cfg.Host)
		if err != nil {
			return nil, rerrors.NewTransportError("session.dial", err)
		}
		return conn, nil
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, rerrors.NewTransportError("session.dial", err)
	}
	return conn, nil
}

// Process runs one multiplexor iteration.
func (c *Client) Process(timeoutMs int) (Status, error) {
	return c.mux.Process(timeoutMs)
}

// Disconnect requests every connected channel to close on the next
// process iteration, per spec §5's cancellation semantics.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		ch.RequestDisconnect()
	}
}

// DisconnectChannel targets a single channel kind.
func (c *Client) DisconnectChannel(kind wire.ChannelKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[kind]; ok {
		ch.RequestDisconnect()
	}
}

// HasChannel reports whether kind is registered with the client, which
// happens only after its handshake and multiplexor registration succeed.
func (c *Client) HasChannel(kind wire.ChannelKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[kind]
	return ok
}

// ChannelConnected reports whether kind's channel has completed its
// handshake and is not in the process of tearing down.
func (c *Client) ChannelConnected(kind wire.ChannelKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[kind]
	if !ok {
		return false
	}
	return ch.Connected()
}

// GetServerInfo returns the guest name/UUID snapshot reported by MAIN, if
// any has arrived yet. There is nothing to free: unlike the teacher's C
// counterpart this returns a plain value, not a pointer into channel state.
func (c *Client) GetServerInfo() ServerInfo {
	name, id := c.mainHandler.Info()
	return ServerInfo{Name: name, UUID: uuid.UUID(id)}
}

// Inputs exposes the INPUTS submission surface (key/mouse events).
func (c *Client) Inputs() *channels.InputsHandler { return c.inputsHandler }

// Clipboard exposes the VD_AGENT clipboard submission surface tunnelled
// over MAIN.
func (c *Client) Clipboard() *agent.Agent { return c.mainHandler.Agent() }

// WriteAudio submits one captured RECORD frame.
func (c *Client) WriteAudio(samples []byte, timeMS uint32) error {
	return c.recordHandler.WriteAudio(samples, timeMS)
}

// Close releases the multiplexor's epoll instance. Call after Process has
// returned Shutdown or the caller has given up on the session.
func (c *Client) Close() error {
	return c.mux.Close()
}

// Run drives Process in a loop until ctx is cancelled or a non-Run status is
// returned, blocking the calling goroutine. It is an optional convenience
// for callers that would otherwise hand-roll the select/Process loop
// themselves, mirroring the teacher's context-driven read-loop lifecycle.
func (c *Client) Run(ctx context.Context, pollTimeoutMs int) error {
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return ctx.Err()
		default:
		}

		status, err := c.Process(pollTimeoutMs)
		switch status {
		case Shutdown:
			return nil
		case Run:
			continue
		default:
			return err
		}
	}
}
