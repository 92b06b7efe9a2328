// Package mux implements the single-threaded, epoll-driven readiness loop
// that owns every channel's socket, per spec §4.4. One Multiplexor call to
// Process drains all currently ready channels before returning, performing
// at most one framing step per channel per pass so a stalled channel never
// starves the others.
package mux

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/channel"
	"github.com/alxayo/go-spice/internal/spice/frame"

	"golang.org/x/sys/unix"
)

// Status is Process's return taxonomy, per spec §4.4/§6.
type Status int

const (
	Run Status = iota
	Shutdown
	ErrPoll
	ErrRead
	ErrAck
)

func (s Status) String() string {
	switch s {
	case Run:
		return "run"
	case Shutdown:
		return "shutdown"
	case ErrPoll:
		return "err_poll"
	case ErrRead:
		return "err_read"
	case ErrAck:
		return "err_ack"
	default:
		return "unknown"
	}
}

// maxEvents bounds one epoll_wait call's event buffer. Five channels is the
// whole session, so this is generous headroom, not a real limit.
const maxEvents = 32

// Channel is the surface Multiplexor needs from a logical channel. A
// concrete *channel.Channel always satisfies it; tests use lighter doubles.
type Channel interface {
	Socket() net.Conn
	Read(read frame.ReadFunc) (*frame.Message, error)
	Dispatch(msgType uint16) frame.Dispatch
	Release(msg *frame.Message)
	DoDisconnect() bool
	State() channel.State
	Close() error
}

// entry is one registered channel's epoll bookkeeping.
type entry struct {
	fd int
	ch Channel
}

// Multiplexor owns the epoll instance and the registered channel set. Not
// safe for concurrent use; the session drives it from a single goroutine.
type Multiplexor struct {
	epfd    int
	entries map[int]*entry
	log     *slog.Logger
}

// New creates a Multiplexor backed by a fresh epoll instance.
func New() (*Multiplexor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, rerrors.NewTransportError("mux.epoll_create", err)
	}
	return &Multiplexor{
		epfd:    fd,
		entries: make(map[int]*entry),
		log:     logger.Logger(),
	}, nil
}

// Register adds ch's socket to the readiness set, watching for readable and
// peer-hangup events. ch must already be connected.
func (m *Multiplexor) Register(ch Channel) error {
	rc, ok := syscallConn(ch.Socket())
	if !ok {
		return rerrors.NewTransportError("mux.register", errNotRawCapable)
	}

	var fd int
	var ctlErr error
	err := rc.Control(func(sysfd uintptr) {
		fd = int(sysfd)
		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
		ctlErr = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	})
	if err != nil {
		return rerrors.NewTransportError("mux.register", err)
	}
	if ctlErr != nil {
		return rerrors.NewTransportError("mux.register", ctlErr)
	}

	m.entries[fd] = &entry{fd: fd, ch: ch}
	return nil
}

// Unregister removes ch from the readiness set. Safe to call on a channel
// that was never registered.
func (m *Multiplexor) Unregister(ch Channel) {
	for fd, e := range m.entries {
		if e.ch == ch {
			_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(m.entries, fd)
			return
		}
	}
}

// Close releases the epoll instance. Registered channels' sockets are left
// untouched; callers close those independently.
func (m *Multiplexor) Close() error {
	return syscall.Close(m.epfd)
}

// Process runs one iteration of the event loop: honour deferred
// disconnects, wait up to timeoutMs for readiness, then drive every ready
// channel's framer until it reports no more buffered data this pass. It
// returns SHUTDOWN once no channel remains connected.
func (m *Multiplexor) Process(timeoutMs int) (Status, error) {
	m.reapDeferredDisconnects()

	if len(m.entries) == 0 {
		return Shutdown, nil
	}

	var events [maxEvents]unix.EpollEvent
	n, err := unix.EpollWait(m.epfd, events[:], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Run, nil
		}
		m.teardownAll()
		return ErrPoll, rerrors.NewTransportError("mux.epoll_wait", err)
	}

	ready := make([]*entry, 0, n)
	for i := 0; i < n; i++ {
		e, ok := m.entries[int(events[i].Fd)]
		if ok {
			ready = append(ready, e)
		}
	}

	for len(ready) > 0 {
		next := ready[:0]
		for _, e := range ready {
			active, status, err := m.drain(e)
			if err != nil {
				m.teardownAll()
				return status, err
			}
			if active {
				next = append(next, e)
			}
		}
		ready = next
	}

	if len(m.entries) == 0 {
		return Shutdown, nil
	}
	return Run, nil
}

// drain performs one framing step on e's channel. It returns active=true if
// the channel may still have buffered data worth revisiting this pass.
func (m *Multiplexor) drain(e *entry) (active bool, status Status, err error) {
	read := rawReadFunc(e.fd)

	msg, readErr := e.ch.Read(read)
	if readErr != nil {
		var ackErr *channel.AckError
		if errors.As(readErr, &ackErr) {
			m.teardown(e, readErr)
			return false, ErrAck, readErr
		}
		if rerrors.IsKind(readErr, rerrors.KindTransport) && errors.Is(readErr, io.EOF) {
			m.teardown(e, nil)
			return false, Run, nil
		}
		m.teardown(e, readErr)
		return false, ErrRead, readErr
	}
	if msg == nil {
		return false, Run, nil
	}

	d := e.ch.Dispatch(msg.Type)
	runErr := d.Run(msg)
	e.ch.Release(msg)
	if runErr != nil {
		m.teardown(e, runErr)
		return false, ErrRead, rerrors.NewProtocolError("mux.dispatch", runErr)
	}

	if e.ch.DoDisconnect() && e.ch.State() >= channel.StateInitDone {
		m.teardown(e, nil)
		return false, Run, nil
	}
	return true, Run, nil
}

// reapDeferredDisconnects closes and unregisters every channel whose
// RequestDisconnect fired and whose init handshake already completed, per
// spec §4.3/§4.4's "doDisconnect && initDone" rule.
func (m *Multiplexor) reapDeferredDisconnects() {
	for _, e := range m.entries {
		if e.ch.DoDisconnect() && e.ch.State() >= channel.StateInitDone {
			m.teardown(e, nil)
		}
	}
}

func (m *Multiplexor) teardown(e *entry, cause error) {
	if cause != nil {
		m.log.Warn("channel disconnected", "fd", e.fd, "error", cause)
	}
	_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	delete(m.entries, e.fd)
	_ = e.ch.Close()
}

// teardownAll closes and unregisters every remaining registered channel. It
// runs before Process returns a non-Run/Shutdown status, so a single
// channel's protocol/ack/poll error cannot leave the rest of the session's
// sockets open, per spec §7's implicit-disconnect-on-error rule and §8's
// leak-free invariant.
func (m *Multiplexor) teardownAll() {
	for _, e := range m.entries {
		m.teardown(e, nil)
	}
}

type muxError string

func (e muxError) Error() string { return string(e) }

const errNotRawCapable = muxError("connection does not support raw fd access")

// rawReadFunc builds a frame.ReadFunc that performs a single non-blocking
// read syscall on fd, translating EAGAIN/EWOULDBLOCK into
// frame.ErrWouldBlock so the reader can yield to the next ready channel.
func rawReadFunc(fd int) frame.ReadFunc {
	return func(buf []byte) (int, error) {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return 0, frame.ErrWouldBlock
			}
			return 0, err
		}
		return n, nil
	}
}
