// Package link implements the SPICE link-layer handshake: the fixed
// magic+version+capability exchange and RSA ticket authentication that
// precede mini-header streaming on every channel (spec §4.1).
package link

import (
	"io"
	"net"
	"time"

	rerrors "github.com/alxayo/go-spice/internal/errors"
	"github.com/alxayo/go-spice/internal/logger"
	"github.com/alxayo/go-spice/internal/spice/wire"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Config describes the per-channel connect request this handshake sends.
type Config struct {
	ChannelKind wire.ChannelKind
	ChannelID   uint8
	SessionID   uint32
	CommonCaps  wire.CapSet
	ChannelCaps wire.CapSet
	Password    string
}

// Result carries what the channel engine needs once the handshake
// completes: the server's echoed capability bitmaps, for policy decisions
// like spec §9's MAIN setCaps Open Question.
type Result struct {
	ServerCommonCaps  wire.CapSet
	ServerChannelCaps wire.CapSet
}

// Handshake drives the four-step exchange described in spec §4.1. On any
// failure the connection is left for the caller to close; Handshake itself
// never closes conn.
func Handshake(conn net.Conn, cfg Config) (*Result, error) {
	log := logger.WithChannel(logger.Logger(), cfg.ChannelKind.String(), cfg.ChannelID)

	if err := sendConnectRequest(conn, cfg); err != nil {
		return nil, err
	}

	reply, serverCommon, serverChannel, err := readLinkReply(conn)
	if err != nil {
		return nil, err
	}
	if reply.Error != wire.LinkErrOK {
		return nil, rerrors.NewAuthError("link.reply", errLinkCode(reply.Error))
	}

	ciphertext, err := EncryptTicket(cfg.Password, reply.PubKey[:])
	if err != nil {
		return nil, err
	}
	if err := sendAuth(conn, ciphertext); err != nil {
		return nil, err
	}

	result, err := readLinkResult(conn)
	if err != nil {
		return nil, err
	}
	if result != wire.LinkErrOK {
		return nil, rerrors.NewAuthError("link.result", errLinkCode(result))
	}

	log.Debug("link handshake complete", "common_caps", len(serverCommon), "channel_caps", len(serverChannel))
	return &Result{ServerCommonCaps: serverCommon, ServerChannelCaps: serverChannel}, nil
}

func sendConnectRequest(conn net.Conn, cfg Config) error {
	commonBytes := cfg.CommonCaps.Bytes()
	channelBytes := cfg.ChannelCaps.Bytes()

	mess := wire.LinkMess{
		ConnectionID:   cfg.SessionID,
		ChannelType:    uint8(cfg.ChannelKind),
		ChannelID:      cfg.ChannelID,
		NumCommonCaps:  uint32(len(cfg.CommonCaps)),
		NumChannelCaps: uint32(len(cfg.ChannelCaps)),
		CapsOffset:     wire.LinkMessSize,
	}

	body := make([]byte, wire.LinkMessSize+len(commonBytes)+len(channelBytes))
	mess.Encode(body[:wire.LinkMessSize])
	copy(body[wire.LinkMessSize:], commonBytes)
	copy(body[wire.LinkMessSize+len(commonBytes):], channelBytes)

	header := wire.LinkHeader{
		Magic: wire.Magic,
		Major: wire.VersionMajor,
		Minor: wire.VersionMinor,
		Size:  uint32(len(body)),
	}
	headerBytes := make([]byte, wire.LinkHeaderSize)
	header.Encode(headerBytes)

	if err := setWriteDeadline(conn); err != nil {
		return err
	}
	if err := writeFull(conn, headerBytes); err != nil {
		return rerrors.NewTransportError("link.write_header", err)
	}
	if err := writeFull(conn, body); err != nil {
		return rerrors.NewTransportError("link.write_mess", err)
	}
	return nil
}

func readLinkReply(conn net.Conn) (wire.LinkReply, wire.CapSet, wire.CapSet, error) {
	if err := setReadDeadline(conn); err != nil {
		return wire.LinkReply{}, nil, nil, err
	}

	headerBytes := make([]byte, wire.LinkHeaderSize)
	if _, err := io.ReadFull(conn, headerBytes); err != nil {
		return wire.LinkReply{}, nil, nil, rerrors.NewTransportError("link.read_header", err)
	}
	header := wire.DecodeLinkHeader(headerBytes)
	if header.Magic != wire.Magic {
		return wire.LinkReply{}, nil, nil, rerrors.NewProtocolError("link.magic", errBadMagic)
	}
	if header.Major != wire.VersionMajor {
		return wire.LinkReply{}, nil, nil, rerrors.NewProtocolError("link.version", errVersionMismatch)
	}
	if header.Size < wire.LinkReplySize {
		return wire.LinkReply{}, nil, nil, rerrors.NewProtocolError("link.reply_size", errTruncatedReply)
	}

	body := make([]byte, header.Size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return wire.LinkReply{}, nil, nil, rerrors.NewTransportError("link.read_reply", err)
	}
	reply := wire.DecodeLinkReply(body[:wire.LinkReplySize])

	capsTotal := int(reply.NumCommonCaps+reply.NumChannelCaps) * 4
	var commonCaps, channelCaps wire.CapSet
	if capsTotal > 0 && int(reply.CapsOffset)+capsTotal <= len(body) {
		caps := body[reply.CapsOffset : int(reply.CapsOffset)+capsTotal]
		commonCaps = wire.CapSetFromBytes(caps[:reply.NumCommonCaps*4])
		channelCaps = wire.CapSetFromBytes(caps[reply.NumCommonCaps*4:])
	}

	return reply, commonCaps, channelCaps, nil
}

func sendAuth(conn net.Conn, ciphertext []byte) error {
	if err := setWriteDeadline(conn); err != nil {
		return err
	}
	mech := make([]byte, 4)
	mech[0] = byte(wire.AuthSpice)
	if err := writeFull(conn, mech); err != nil {
		return rerrors.NewTransportError("link.write_auth_mechanism", err)
	}
	if err := writeFull(conn, ciphertext); err != nil {
		return rerrors.NewTransportError("link.write_ticket", err)
	}
	return nil
}

func readLinkResult(conn net.Conn) (uint32, error) {
	if err := setReadDeadline(conn); err != nil {
		return 0, err
	}
	b := make([]byte, 4)
	if _, err := io.ReadFull(conn, b); err != nil {
		return 0, rerrors.NewTransportError("link.read_result", err)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func writeFull(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func setWriteDeadline(conn net.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return rerrors.NewTransportError("link.set_write_deadline", err)
	}
	return nil
}

func setReadDeadline(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return rerrors.NewTransportError("link.set_read_deadline", err)
	}
	return nil
}

type linkError string

func (e linkError) Error() string { return string(e) }

const (
	errBadMagic        = linkError("link header magic mismatch")
	errVersionMismatch = linkError("link major version mismatch")
	errTruncatedReply  = linkError("link reply truncated")
)

func errLinkCode(code uint32) error {
	return linkCodeError(code)
}

type linkCodeError uint32

func (e linkCodeError) Error() string {
	switch uint32(e) {
	case wire.LinkErrInvalidMagic:
		return "server reported invalid magic"
	case wire.LinkErrInvalidData:
		return "server reported invalid data"
	case wire.LinkErrVersionMismatch:
		return "server reported version mismatch"
	case wire.LinkErrPermissionDenied:
		return "server denied permission (bad ticket)"
	case wire.LinkErrBadConnectionID:
		return "server rejected connection id"
	case wire.LinkErrChannelNotAvailable:
		return "channel not available"
	default:
		return "link error"
	}
}
