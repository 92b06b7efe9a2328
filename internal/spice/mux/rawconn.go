package mux

import (
	"net"
	"syscall"
)

// syscallConn extracts the raw syscall.RawConn behind a net.Conn, if any.
// TCP and Unix domain sockets satisfy this; net.Pipe's in-memory conn does
// not, which is why channel/frame tests exercise framing via net.Pipe while
// mux itself is only ever driven against real sockets.
func syscallConn(conn net.Conn) (syscall.RawConn, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, false
	}
	return rc, true
}
